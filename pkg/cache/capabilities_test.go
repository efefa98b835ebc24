package cache_test

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

func TestCapabilitiesEmptyOwner(t *testing.T) {
	svc, _, _ := newTestService(t, cache.Config{})

	caps, err := svc.Capabilities(context.Background(), "student-1")
	require.NoError(t, err)

	assert.Equal(t, cache.OwnerID("student-1"), caps.OwnerID)
	assert.Zero(t, caps.TotalItems)
	assert.Zero(t, caps.TotalBytes)
	assert.Zero(t, caps.EstimatedOfflineHours)
	assert.True(t, caps.LastSync.IsZero())
}

func TestCapabilitiesSummarizesLiveContent(t *testing.T) {
	svc, st, clock := newTestService(t, cache.Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.SubmitLessonPlan(ctx, "student-1", json.RawMessage(fmt.Sprintf(`{"lesson":%d}`, i)))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := svc.SubmitAssessment(ctx, "student-1", json.RawMessage(fmt.Sprintf(`{"quiz":%d}`, i)))
		require.NoError(t, err)
	}
	material, err := svc.SubmitLearningMaterial(ctx, "student-1", json.RawMessage(`{"video":"intro"}`))
	require.NoError(t, err)
	_, err = svc.SubmitProgressSnapshot(ctx, "student-1", json.RawMessage(`{"score":0.9}`))
	require.NoError(t, err)

	// Mark the material as conflicted, as a failed reconcile would.
	row, err := st.GetContent(ctx, "student-1", material.ContentID)
	require.NoError(t, err)
	row.SyncStatus = cache.StatusConflict
	require.NoError(t, st.PutContent(ctx, row))

	lastSync := clock.Now().Add(-30 * time.Minute)
	require.NoError(t, st.SetLastSync(ctx, "student-1", lastSync))

	caps, err := svc.Capabilities(ctx, "student-1")
	require.NoError(t, err)

	assert.Equal(t, 7, caps.TotalItems)
	assert.Equal(t, 2, caps.PerCategory[cache.CategoryLessonPlan])
	assert.Equal(t, 3, caps.PerCategory[cache.CategoryAssessment])
	assert.Equal(t, 1, caps.PerCategory[cache.CategoryContentMaterial])
	assert.Equal(t, 1, caps.PerCategory[cache.CategoryUserProgress])
	assert.Equal(t, 1, caps.ConflictCount)
	assert.True(t, lastSync.Equal(caps.LastSync))

	// 2 lessons at 30min, 3 assessments at 20min, 1 material at 15min.
	assert.InDelta(t, 2*0.5+3.0/3.0+0.25, caps.EstimatedOfflineHours, 1e-9)

	total, err := svc.TotalSize(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, total, caps.TotalBytes)
}

func TestCapabilitiesExcludesExpiredContent(t *testing.T) {
	svc, _, clock := newTestService(t, cache.Config{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":1}`), cache.SubmitOptions{TTL: time.Hour})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":2}`), cache.SubmitOptions{TTL: 48 * time.Hour})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	// The first item has expired but not yet been swept; it must not count.
	caps, err := svc.Capabilities(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, caps.TotalItems)
	assert.Equal(t, 1, caps.PerCategory[cache.CategoryLessonPlan])
	assert.InDelta(t, 0.5, caps.EstimatedOfflineHours, 1e-9)
}
