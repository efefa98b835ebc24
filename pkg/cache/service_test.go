package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/cache/store/memory"
	"github.com/satchel-edu/satchel/pkg/registry"
)

// testClock is a controllable time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, cfg cache.Config) (*cache.Service, *memory.Store, *testClock) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })
	clock := &testClock{now: time.Now().UTC()}
	svc := cache.NewService(st, registry.New(registry.Options{}), cfg, cache.WithClock(clock.Now))
	return svc, st, clock
}

// payloadOfSize builds a payload whose canonical encoding is exactly n bytes.
// The canonical form of {"d":"..."} is 8 bytes of framing plus the filler.
func payloadOfSize(n int, distinct string) json.RawMessage {
	filler := distinct + strings.Repeat("a", n-8-len(distinct))
	return json.RawMessage(fmt.Sprintf(`{"d":%q}`, filler))
}

func TestSubmitAndFetch(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{})
	ctx := context.Background()

	payload := json.RawMessage(`{"title":"Fractions","subject":"Math"}`)
	content, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan, payload, cache.SubmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, cache.OwnerID("student-1"), content.OwnerID)
	assert.Equal(t, cache.CategoryLessonPlan, content.Category)
	assert.Equal(t, int64(1), content.Version)
	assert.Equal(t, cache.DefaultPriority, content.Priority)
	assert.Equal(t, cache.StatusSynced, content.SyncStatus)
	assert.NotEmpty(t, content.Checksum)
	assert.True(t, strings.HasPrefix(string(content.ContentID), "student-1_lesson_plan_"))

	got, err := svc.Fetch(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(got.Payload))
	assert.Equal(t, int64(1), got.AccessCount)

	got, err = svc.Fetch(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount, "every fetch counts as an access")
}

func TestSubmitSamePayloadRefreshesInPlace(t *testing.T) {
	svc, _, clock := newTestService(t, cache.Config{})
	ctx := context.Background()

	// Key order must not matter: both spellings are the same content.
	first, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"subject":"Math","title":"Fractions"}`), cache.SubmitOptions{Priority: 5})
	require.NoError(t, err)

	_, err = svc.Fetch(ctx, "student-1", first.ContentID)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	second, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"title":"Fractions","subject":"Math"}`), cache.SubmitOptions{Priority: 7})
	require.NoError(t, err)

	assert.Equal(t, first.ContentID, second.ContentID)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 7, second.Priority)
	assert.Equal(t, int64(1), second.AccessCount, "refresh keeps access statistics")
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt), "refresh extends the expiry")

	items, err := svc.List(ctx, "student-1", cache.CategoryLessonPlan, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1, "refresh must not duplicate the item")
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{})
	ctx := context.Background()
	payload := json.RawMessage(`{"ok":true}`)

	_, err := svc.Submit(ctx, "", cache.CategoryLessonPlan, payload, cache.SubmitOptions{})
	assert.True(t, cache.IsInvalidArgument(err))

	_, err = svc.Submit(ctx, "a/b", cache.CategoryLessonPlan, payload, cache.SubmitOptions{})
	assert.True(t, cache.IsInvalidArgument(err))

	_, err = svc.Submit(ctx, "student-1", "mixtape", payload, cache.SubmitOptions{})
	assert.True(t, cache.IsInvalidArgument(err))

	_, err = svc.Submit(ctx, "student-1", cache.CategoryLessonPlan, payload, cache.SubmitOptions{Priority: 11})
	assert.True(t, cache.IsInvalidArgument(err))

	_, err = svc.Submit(ctx, "student-1", cache.CategoryLessonPlan, json.RawMessage(`not json`), cache.SubmitOptions{})
	assert.True(t, cache.IsInvalidArgument(err))

	_, err = svc.Submit(ctx, "student-1", cache.CategoryLessonPlan, nil, cache.SubmitOptions{})
	assert.True(t, cache.IsInvalidArgument(err))
}

func TestSubmitEvictsLowestValueItemsWhenFull(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{MaxBytes: 150})
	ctx := context.Background()

	low, err := svc.Submit(ctx, "student-1", cache.CategoryContentMaterial,
		payloadOfSize(60, "low"), cache.SubmitOptions{Priority: 2})
	require.NoError(t, err)
	high, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		payloadOfSize(60, "high"), cache.SubmitOptions{Priority: 9})
	require.NoError(t, err)

	// 120/150 used; the next 60 bytes force one eviction.
	incoming, err := svc.Submit(ctx, "student-1", cache.CategoryAssessment,
		payloadOfSize(60, "new"), cache.SubmitOptions{Priority: 5})
	require.NoError(t, err)

	_, err = svc.Fetch(ctx, "student-1", low.ContentID)
	assert.True(t, cache.IsNotFound(err), "the low priority item is the victim")

	_, err = svc.Fetch(ctx, "student-1", high.ContentID)
	assert.NoError(t, err)
	_, err = svc.Fetch(ctx, "student-1", incoming.ContentID)
	assert.NoError(t, err)

	total, err := svc.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(150))
}

func TestSubmitProtectsPendingUploads(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{MaxBytes: 150})
	ctx := context.Background()

	dirty, err := svc.Submit(ctx, "student-1", cache.CategoryUserProgress,
		payloadOfSize(60, "dirty"), cache.SubmitOptions{Priority: 1, MarkForUpload: true})
	require.NoError(t, err)
	clean, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		payloadOfSize(60, "clean"), cache.SubmitOptions{Priority: 9})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "student-1", cache.CategoryAssessment,
		payloadOfSize(60, "new"), cache.SubmitOptions{Priority: 5})
	require.NoError(t, err)

	_, err = svc.Fetch(ctx, "student-1", dirty.ContentID)
	assert.NoError(t, err, "unsynchronized local data survives even at priority 1")

	_, err = svc.Fetch(ctx, "student-1", clean.ContentID)
	assert.True(t, cache.IsNotFound(err))
}

func TestSubmitRejectsOversizedPayloadWithoutEvicting(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{MaxBytes: 100})
	ctx := context.Background()

	existing, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		payloadOfSize(50, "keep"), cache.SubmitOptions{})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "student-1", cache.CategoryContentMaterial,
		payloadOfSize(200, "huge"), cache.SubmitOptions{})
	assert.True(t, cache.IsCapacityExceeded(err))

	_, err = svc.Fetch(ctx, "student-1", existing.ContentID)
	assert.NoError(t, err, "a rejected write must not cost existing items")
}

func TestFetchPurgesExpiredContent(t *testing.T) {
	svc, st, clock := newTestService(t, cache.Config{DefaultTTL: time.Hour})
	ctx := context.Background()

	content, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":1}`), cache.SubmitOptions{})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	_, err = svc.Fetch(ctx, "student-1", content.ContentID)
	assert.True(t, cache.IsNotFound(err))

	// Purged, not just hidden.
	_, err = st.GetContent(ctx, "student-1", content.ContentID)
	assert.True(t, cache.IsNotFound(err))

	total, err := svc.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestListFiltersExpiredAndAppliesLimit(t *testing.T) {
	svc, _, clock := newTestService(t, cache.Config{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":1}`), cache.SubmitOptions{Priority: 3, TTL: time.Hour})
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	mid, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":2}`), cache.SubmitOptions{Priority: 6, TTL: 24 * time.Hour})
	require.NoError(t, err)
	top, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":3}`), cache.SubmitOptions{Priority: 9, TTL: 24 * time.Hour})
	require.NoError(t, err)

	// The first item expires, the others stay.
	clock.Advance(time.Hour)

	items, err := svc.List(ctx, "student-1", cache.CategoryLessonPlan, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, top.ContentID, items[0].ContentID)
	assert.Equal(t, mid.ContentID, items[1].ContentID)

	items, err = svc.List(ctx, "student-1", cache.CategoryLessonPlan, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, top.ContentID, items[0].ContentID)
}

func TestSubmitProgressSnapshotQueuesUpload(t *testing.T) {
	svc, st, _ := newTestService(t, cache.Config{})
	ctx := context.Background()

	content, err := svc.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"lesson":"fractions","score":0.8}`))
	require.NoError(t, err)

	assert.Equal(t, cache.StatusPendingUpload, content.SyncStatus)
	assert.Equal(t, cache.ProgressPriority, content.Priority)
	assert.True(t, content.ExpiresAt.IsZero() || content.ExpiresAt.After(content.CreatedAt))

	ops, err := st.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, cache.OpUpload, ops[0].Type)
	assert.Equal(t, content.ContentID, ops[0].ContentID)
	assert.Equal(t, cache.OpPending, ops[0].Status)

	// Re-submitting the same snapshot must not queue a second upload.
	_, err = svc.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"lesson":"fractions","score":0.8}`))
	require.NoError(t, err)

	ops, err = st.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestSweepExpired(t *testing.T) {
	svc, _, clock := newTestService(t, cache.Config{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":1}`), cache.SubmitOptions{TTL: time.Hour})
	require.NoError(t, err)
	keep, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":2}`), cache.SubmitOptions{TTL: 48 * time.Hour})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	purged, err := svc.SweepExpired(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	items, err := svc.List(ctx, "student-1", cache.CategoryLessonPlan, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ContentID, items[0].ContentID)
}

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{})
	ctx := context.Background()

	content, err := svc.Submit(ctx, "student-1", cache.CategorySettings,
		json.RawMessage(`{"theme":"dark"}`), cache.SubmitOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "student-1", content.ContentID))
	assert.True(t, cache.IsNotFound(svc.Delete(ctx, "student-1", content.ContentID)))
}
