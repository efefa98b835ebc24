package sync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/cache/store/memory"
	cachesync "github.com/satchel-edu/satchel/pkg/cache/sync"
	"github.com/satchel-edu/satchel/pkg/cache/sync/synctest"
	"github.com/satchel-edu/satchel/pkg/registry"
)

type fixture struct {
	store   *memory.Store
	service *cache.Service
	manager *cachesync.Manager
	remote  *synctest.Remote
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.New()
	t.Cleanup(func() { _ = st.Close() })

	owners := registry.New(registry.Options{})
	remote := synctest.NewRemote()

	return &fixture{
		store:   st,
		service: cache.NewService(st, owners, cache.Config{}),
		remote:  remote,
		manager: cachesync.NewManager(st, owners, remote, cachesync.Config{
			MaxAttempts:          3,
			AttemptTimeout:       time.Second,
			RetryInitialInterval: time.Millisecond,
			RetryMaxInterval:     2 * time.Millisecond,
		}),
	}
}

func TestReconcileUploadsQueuedProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"lesson":"fractions","score":0.8}`))
	require.NoError(t, err)

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Conflicts)

	// The item is synced, the queue is empty, and the remote has the copy.
	// The accepted upload advances the local version past the pushed revision.
	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusSynced, got.SyncStatus)
	assert.Equal(t, content.Version+1, got.Version)

	ops, err := f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	assert.Empty(t, ops)

	remoteItem := f.remote.Item("student-1", content.ContentID)
	require.NotNil(t, remoteItem)
	assert.Equal(t, content.Version, remoteItem.Version, "the remote holds the revision that was pushed")

	last, err := f.store.LastSync(ctx, "student-1")
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestReconcileRetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"score":1}`))
	require.NoError(t, err)

	// Two outages, then the network comes back.
	f.remote.PushErrs = []error{
		cachesync.Transient(errors.New("connection refused")),
		cachesync.Transient(errors.New("connection refused")),
		nil,
	}

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 3, f.remote.PushCalls)

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusSynced, got.SyncStatus)
}

func TestReconcileFailsOperationAfterAttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"score":1}`))
	require.NoError(t, err)

	f.remote.PushErrs = []error{
		cachesync.Transient(errors.New("timeout")),
		cachesync.Transient(errors.New("timeout")),
		cachesync.Transient(errors.New("timeout")),
	}

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Completed)
	assert.Equal(t, 3, f.remote.PushCalls)

	// The operation stays for inspection; the item keeps its sync status so
	// the data is still protected from eviction.
	ops, err := f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, cache.OpFailed, ops[0].Status)
	assert.Equal(t, 3, ops[0].RetryCount)
	assert.Contains(t, ops[0].Error, "timeout")

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusPendingUpload, got.SyncStatus)

	// Failed operations are terminal: the next pass does not touch them.
	result, err = f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 3, f.remote.PushCalls)
}

func TestReconcileResumesAbandonedOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"score":1}`))
	require.NoError(t, err)

	// A previous run died after claiming the operation but before finishing
	// it, leaving an in_progress row behind.
	ops, err := f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	ops[0].Status = cache.OpInProgress
	require.NoError(t, f.store.UpdateOperation(ctx, ops[0]))

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed, "an abandoned in_progress operation is picked up again")

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusSynced, got.SyncStatus)

	ops, err = f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestReconcilePermanentErrorDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"score":1}`))
	require.NoError(t, err)

	f.remote.PushErrs = []error{errors.New("forbidden")}

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, f.remote.PushCalls, "permanent errors must not be retried")
}

func TestReconcileSurfacesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
		json.RawMessage(`{"score":1}`))
	require.NoError(t, err)

	// The remote already holds a newer version (another device synced first).
	f.remote.Seed("student-1", content.ContentID, json.RawMessage(`{"score":2}`), 7)

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, result.Completed)
	assert.Zero(t, result.Failed)
	assert.Equal(t, []cache.ContentID{content.ContentID}, result.Conflicts)

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusConflict, got.SyncStatus)
	assert.JSONEq(t, `{"score":1}`, string(got.Payload), "conflicts are never resolved automatically")

	ops, err := f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	assert.Empty(t, ops, "a conflicted operation leaves the queue")
}

func TestReconcileHonorsBatchSize(t *testing.T) {
	f := newFixture(t)
	f.manager = cachesync.NewManager(f.store, registry.New(registry.Options{}), f.remote, cachesync.Config{
		MaxAttempts:          3,
		BatchSize:            2,
		AttemptTimeout:       time.Second,
		RetryInitialInterval: time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.SubmitProgressSnapshot(ctx, "student-1",
			json.RawMessage(fmt.Sprintf(`{"lesson":%d}`, i)))
		require.NoError(t, err)
	}

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)

	result, err = f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
}

func TestRequestDownloadAppliesRemotePayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"title":"Old"}`), cache.SubmitOptions{})
	require.NoError(t, err)

	f.remote.Seed("student-1", content.ContentID, json.RawMessage(`{"title":"New"}`), 5)

	require.NoError(t, f.manager.RequestDownload(ctx, "student-1", content.ContentID))

	pending, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusPendingDownload, pending.SyncStatus)

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"New"}`, string(got.Payload))
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, cache.StatusSynced, got.SyncStatus)
	assert.Equal(t, cache.PayloadChecksum(got.Payload), got.Checksum)
}

func TestRequestDeleteRemovesLocallyThenRemotely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.Submit(ctx, "student-1", cache.CategorySettings,
		json.RawMessage(`{"theme":"dark"}`), cache.SubmitOptions{})
	require.NoError(t, err)
	f.remote.Seed("student-1", content.ContentID, content.Payload, 1)

	require.NoError(t, f.manager.RequestDelete(ctx, "student-1", content.ContentID))

	// Local removal is immediate.
	_, err = f.store.GetContent(ctx, "student-1", content.ContentID)
	assert.True(t, cache.IsNotFound(err))

	result, err := f.manager.Reconcile(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Nil(t, f.remote.Item("student-1", content.ContentID))
}

func TestRequestUploadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":1}`), cache.SubmitOptions{})
	require.NoError(t, err)

	require.NoError(t, f.manager.RequestUpload(ctx, "student-1", content.ContentID))
	require.NoError(t, f.manager.RequestUpload(ctx, "student-1", content.ContentID))

	ops, err := f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestResolveConflictKeepLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := conflictedItem(t, f)

	require.NoError(t, f.manager.ResolveConflict(ctx, "student-1", content.ContentID, cachesync.KeepLocal))

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusPendingUpload, got.SyncStatus)

	ops, err := f.store.ListOperations(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, cache.OpUpload, ops[0].Type)
}

func TestResolveConflictKeepRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := conflictedItem(t, f)
	f.remote.Seed("student-1", content.ContentID, json.RawMessage(`{"score":2}`), 7)

	require.NoError(t, f.manager.ResolveConflict(ctx, "student-1", content.ContentID, cachesync.KeepRemote))

	got, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusSynced, got.SyncStatus)
	assert.JSONEq(t, `{"score":2}`, string(got.Payload))
	assert.Equal(t, int64(7), got.Version)
}

func TestResolveConflictRequiresConflictState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content, err := f.service.Submit(ctx, "student-1", cache.CategoryLessonPlan,
		json.RawMessage(`{"n":1}`), cache.SubmitOptions{})
	require.NoError(t, err)

	err = f.manager.ResolveConflict(ctx, "student-1", content.ContentID, cachesync.KeepLocal)
	assert.True(t, cache.IsInvalidArgument(err))
}

// conflictedItem puts one item of student-1 into conflict state.
func conflictedItem(t *testing.T, f *fixture) *cache.CachedContent {
	t.Helper()
	ctx := context.Background()

	content, err := f.service.Submit(ctx, "student-1", cache.CategoryUserProgress,
		json.RawMessage(`{"score":1}`), cache.SubmitOptions{})
	require.NoError(t, err)

	row, err := f.store.GetContent(ctx, "student-1", content.ContentID)
	require.NoError(t, err)
	row.SyncStatus = cache.StatusConflict
	require.NoError(t, f.store.PutContent(ctx, row))
	return content
}
