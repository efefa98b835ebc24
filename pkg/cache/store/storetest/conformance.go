// Package storetest provides a conformance suite run against every Store
// backend, so the engine can rely on identical semantics regardless of the
// configured storage technology.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satchel-edu/satchel/pkg/cache"
)

// Factory creates a fresh, empty store for one test. Cleanup is registered
// on t.
type Factory func(t *testing.T) cache.Store

// Run executes the full conformance suite against the given backend.
func Run(t *testing.T, factory Factory) {
	t.Run("ContentRoundTrip", func(t *testing.T) { testContentRoundTrip(t, factory) })
	t.Run("ContentNotFound", func(t *testing.T) { testContentNotFound(t, factory) })
	t.Run("ContentReplace", func(t *testing.T) { testContentReplace(t, factory) })
	t.Run("ContentDelete", func(t *testing.T) { testContentDelete(t, factory) })
	t.Run("OwnerIsolation", func(t *testing.T) { testOwnerIsolation(t, factory) })
	t.Run("ListOrdering", func(t *testing.T) { testListOrdering(t, factory) })
	t.Run("TotalSizeLedger", func(t *testing.T) { testTotalSizeLedger(t, factory) })
	t.Run("Owners", func(t *testing.T) { testOwners(t, factory) })
	t.Run("OperationFIFO", func(t *testing.T) { testOperationFIFO(t, factory) })
	t.Run("OperationUpdateDelete", func(t *testing.T) { testOperationUpdateDelete(t, factory) })
	t.Run("LastSync", func(t *testing.T) { testLastSync(t, factory) })
}

func newContent(owner cache.OwnerID, category cache.Category, payload string, priority int) *cache.CachedContent {
	canonical, err := cache.CanonicalPayload(json.RawMessage(payload))
	if err != nil {
		panic(err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &cache.CachedContent{
		ContentID:    cache.DeriveContentID(owner, category, canonical),
		OwnerID:      owner,
		Category:     category,
		Payload:      canonical,
		SizeBytes:    int64(len(canonical)),
		Checksum:     cache.PayloadChecksum(canonical),
		CreatedAt:    now,
		UpdatedAt:    now,
		SyncStatus:   cache.StatusSynced,
		Version:      1,
		Priority:     priority,
		LastAccessed: now,
	}
}

func newOperation(owner cache.OwnerID, id cache.ContentID, seq int) *cache.SyncOperation {
	return &cache.SyncOperation{
		OperationID: fmt.Sprintf("op-%03d", seq),
		OwnerID:     owner,
		Type:        cache.OpUpload,
		ContentID:   id,
		Status:      cache.OpPending,
		CreatedAt:   time.Now().UTC().Add(time.Duration(seq) * time.Millisecond).Truncate(time.Microsecond),
	}
}

func testContentRoundTrip(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	content := newContent("student-1", cache.CategoryLessonPlan, `{"subject":"Math","title":"Fractions"}`, 5)
	content.ExpiresAt = time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.PutContent(ctx, content))

	got, err := s.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, content.ContentID, got.ContentID)
	assert.Equal(t, content.OwnerID, got.OwnerID)
	assert.Equal(t, content.Category, got.Category)
	assert.JSONEq(t, string(content.Payload), string(got.Payload))
	assert.Equal(t, content.SizeBytes, got.SizeBytes)
	assert.Equal(t, content.Checksum, got.Checksum)
	assert.Equal(t, content.Version, got.Version)
	assert.Equal(t, content.Priority, got.Priority)
	assert.Equal(t, content.SyncStatus, got.SyncStatus)
	assert.True(t, content.ExpiresAt.Equal(got.ExpiresAt))
	assert.True(t, content.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, content.UpdatedAt.Equal(got.UpdatedAt))
	assert.True(t, content.LastAccessed.Equal(got.LastAccessed))
}

func testContentNotFound(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	_, err := s.GetContent(ctx, "student-1", "missing")
	assert.True(t, cache.IsNotFound(err), "expected NotFound, got %v", err)

	err = s.DeleteContent(ctx, "student-1", "missing")
	assert.True(t, cache.IsNotFound(err), "expected NotFound, got %v", err)
}

func testContentReplace(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	content := newContent("student-1", cache.CategoryAssessment, `{"quiz":1}`, 5)
	require.NoError(t, s.PutContent(ctx, content))

	// A deliberately old timestamp: the stored value must come back verbatim,
	// not be replaced with wall-clock time by the backend.
	stamped := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	updated := content.Clone()
	updated.Version = 2
	updated.AccessCount = 3
	updated.UpdatedAt = stamped
	require.NoError(t, s.PutContent(ctx, updated))

	got, err := s.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, int64(3), got.AccessCount)
	assert.True(t, stamped.Equal(got.UpdatedAt), "UpdatedAt must persist verbatim, got %v", got.UpdatedAt)

	items, err := s.ListOwnerContent(ctx, "student-1")
	require.NoError(t, err)
	assert.Len(t, items, 1, "replace must not duplicate rows")
}

func testContentDelete(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	content := newContent("student-1", cache.CategorySettings, `{"theme":"dark"}`, 5)
	require.NoError(t, s.PutContent(ctx, content))
	require.NoError(t, s.DeleteContent(ctx, "student-1", content.ContentID))

	_, err := s.GetContent(ctx, "student-1", content.ContentID)
	assert.True(t, cache.IsNotFound(err))
}

func testOwnerIsolation(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	a := newContent("student-a", cache.CategoryLessonPlan, `{"subject":"Math"}`, 5)
	b := newContent("student-b", cache.CategoryLessonPlan, `{"subject":"Math"}`, 5)
	require.NoError(t, s.PutContent(ctx, a))
	require.NoError(t, s.PutContent(ctx, b))

	_, err := s.GetContent(ctx, "student-a", b.ContentID)
	assert.True(t, cache.IsNotFound(err), "content must be scoped to its owner")

	require.NoError(t, s.DeleteContent(ctx, "student-a", a.ContentID))

	got, err := s.GetContent(ctx, "student-b", b.ContentID)
	require.NoError(t, err)
	assert.Equal(t, b.ContentID, got.ContentID)
}

func testListOrdering(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	low := newContent("student-1", cache.CategoryLessonPlan, `{"n":1}`, 2)
	low.LastAccessed = base.Add(3 * time.Minute)
	highOld := newContent("student-1", cache.CategoryLessonPlan, `{"n":2}`, 8)
	highOld.LastAccessed = base.Add(time.Minute)
	highNew := newContent("student-1", cache.CategoryLessonPlan, `{"n":3}`, 8)
	highNew.LastAccessed = base.Add(2 * time.Minute)
	other := newContent("student-1", cache.CategoryAssessment, `{"n":4}`, 9)

	for _, c := range []*cache.CachedContent{low, highOld, highNew, other} {
		require.NoError(t, s.PutContent(ctx, c))
	}

	items, err := s.ListContent(ctx, "student-1", cache.CategoryLessonPlan)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, highNew.ContentID, items[0].ContentID)
	assert.Equal(t, highOld.ContentID, items[1].ContentID)
	assert.Equal(t, low.ContentID, items[2].ContentID)
}

func testTotalSizeLedger(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	total, err := s.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, total)

	a := newContent("student-1", cache.CategoryLessonPlan, `{"subject":"Math"}`, 5)
	b := newContent("student-1", cache.CategoryAssessment, `{"quiz":42}`, 5)
	require.NoError(t, s.PutContent(ctx, a))
	require.NoError(t, s.PutContent(ctx, b))

	total, err = s.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, a.SizeBytes+b.SizeBytes, total)

	// Replacing a row must account for the size delta, not double-count.
	bigger := a.Clone()
	bigger.Payload = json.RawMessage(`{"subject":"Mathematics, extended edition"}`)
	bigger.SizeBytes = int64(len(bigger.Payload))
	require.NoError(t, s.PutContent(ctx, bigger))

	total, err = s.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, bigger.SizeBytes+b.SizeBytes, total)

	require.NoError(t, s.DeleteContent(ctx, "student-1", b.ContentID))
	total, err = s.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, bigger.SizeBytes, total)
}

func testOwners(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	owners, err := s.Owners(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)

	require.NoError(t, s.PutContent(ctx, newContent("student-b", cache.CategoryLessonPlan, `{"n":1}`, 5)))
	require.NoError(t, s.PutContent(ctx, newContent("student-a", cache.CategoryLessonPlan, `{"n":2}`, 5)))
	require.NoError(t, s.EnqueueOperation(ctx, newOperation("student-c", "some-content", 1)))

	owners, err = s.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cache.OwnerID{"student-a", "student-b", "student-c"}, owners)
}

func testOperationFIFO(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.EnqueueOperation(ctx, newOperation("student-1", cache.ContentID(fmt.Sprintf("content-%d", i)), i)))
	}

	ops, err := s.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, fmt.Sprintf("op-%03d", i+1), op.OperationID, "operations must come back in enqueue order")
	}
}

func testOperationUpdateDelete(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	op := newOperation("student-1", "content-1", 1)
	require.NoError(t, s.EnqueueOperation(ctx, op))

	op.Status = cache.OpFailed
	op.RetryCount = 3
	op.Error = "remote unreachable"
	op.CompletedAt = time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpdateOperation(ctx, op))

	ops, err := s.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, cache.OpFailed, ops[0].Status)
	assert.Equal(t, 3, ops[0].RetryCount)
	assert.Equal(t, "remote unreachable", ops[0].Error)

	require.NoError(t, s.DeleteOperation(ctx, "student-1", op.OperationID))
	ops, err = s.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	assert.Empty(t, ops)

	err = s.DeleteOperation(ctx, "student-1", op.OperationID)
	assert.True(t, cache.IsNotFound(err))

	missing := newOperation("student-1", "content-x", 9)
	err = s.UpdateOperation(ctx, missing)
	assert.True(t, cache.IsNotFound(err))
}

func testLastSync(t *testing.T, factory Factory) {
	s := factory(t)
	ctx := context.Background()

	last, err := s.LastSync(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetLastSync(ctx, "student-1", now))

	last, err = s.LastSync(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, now.Equal(last))
}
