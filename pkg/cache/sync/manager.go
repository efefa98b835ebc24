package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/satchel-edu/satchel/internal/logger"
	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/metrics"
	"github.com/satchel-edu/satchel/pkg/registry"
)

// Configuration defaults.
const (
	// DefaultMaxAttempts is how many times one operation is tried before it
	// is marked failed.
	DefaultMaxAttempts = 3

	// DefaultBatchSize caps how many operations one reconcile pass drains.
	DefaultBatchSize = 20

	// DefaultAttemptTimeout bounds a single remote call.
	DefaultAttemptTimeout = 30 * time.Second

	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 10 * time.Second
)

// Config holds the sync policy knobs.
type Config struct {
	// MaxAttempts is the total attempt budget per operation (first try
	// included). Zero means DefaultMaxAttempts.
	MaxAttempts int

	// BatchSize caps operations per reconcile pass. Zero means
	// DefaultBatchSize.
	BatchSize int

	// AttemptTimeout bounds one remote call. Zero means
	// DefaultAttemptTimeout.
	AttemptTimeout time.Duration

	// RetryInitialInterval and RetryMaxInterval shape the backoff between
	// attempts. Zero means the package defaults.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Manager owns the sync queue lifecycle: queueing intents, draining them
// against the Remote, and resolving conflicts. It shares the metadata store
// and the owner registry with the cache service, so queue transitions and
// cache mutations serialize on the same per-owner lock.
type Manager struct {
	store   cache.Store
	owners  *registry.Registry
	remote  Remote
	cfg     Config
	clock   func() time.Time
	metrics metrics.SyncMetrics
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithMetrics attaches a metrics implementation. nil disables collection.
func WithMetrics(sm metrics.SyncMetrics) Option {
	return func(m *Manager) { m.metrics = sm }
}

// NewManager creates a sync manager. remote may be nil; queueing still works
// and Reconcile becomes a no-op until a remote is available.
func NewManager(st cache.Store, owners *registry.Registry, remote Remote, cfg Config, opts ...Option) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = defaultRetryMaxInterval
	}

	m := &Manager{
		store:  st,
		owners: owners,
		remote: remote,
		cfg:    cfg,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestUpload marks an item pending_upload and queues an upload operation.
// A second request for an item that is already queued is a no-op.
func (m *Manager) RequestUpload(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	unlock := m.owners.Lock(string(owner))
	defer unlock()

	content, err := m.store.GetContent(ctx, owner, id)
	if err != nil {
		return err
	}

	queued, err := m.hasQueuedOperation(ctx, owner, cache.OpUpload, id)
	if err != nil {
		return err
	}

	if content.SyncStatus != cache.StatusPendingUpload {
		content.SyncStatus = cache.StatusPendingUpload
		if err := m.store.PutContent(ctx, content); err != nil {
			return err
		}
	}
	if queued {
		return nil
	}
	return m.enqueue(ctx, owner, cache.OpUpload, id)
}

// RequestDownload marks an item pending_download and queues a download
// operation that will replace the local payload with the remote one.
func (m *Manager) RequestDownload(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	unlock := m.owners.Lock(string(owner))
	defer unlock()

	content, err := m.store.GetContent(ctx, owner, id)
	if err != nil {
		return err
	}

	queued, err := m.hasQueuedOperation(ctx, owner, cache.OpDownload, id)
	if err != nil {
		return err
	}

	if content.SyncStatus != cache.StatusPendingDownload {
		content.SyncStatus = cache.StatusPendingDownload
		if err := m.store.PutContent(ctx, content); err != nil {
			return err
		}
	}
	if queued {
		return nil
	}
	return m.enqueue(ctx, owner, cache.OpDownload, id)
}

// RequestDelete removes the item locally right away and queues the remote
// deletion.
func (m *Manager) RequestDelete(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	unlock := m.owners.Lock(string(owner))
	defer unlock()

	if err := m.store.DeleteContent(ctx, owner, id); err != nil {
		return err
	}
	return m.enqueue(ctx, owner, cache.OpDelete, id)
}

// Result summarizes one reconcile pass.
type Result struct {
	// Completed counts operations that succeeded and left the queue.
	Completed int

	// Failed counts operations that exhausted their attempts and stay in the
	// queue marked failed.
	Failed int

	// Conflicts lists items that entered conflict state during the pass.
	Conflicts []cache.ContentID
}

// Reconcile drains one batch of the owner's queue in FIFO order. Operations
// already marked failed are terminal and skipped; operations left in_progress
// by an interrupted pass are picked up again. Conflicted items are never
// resolved automatically; they are reported in the result.
func (m *Manager) Reconcile(ctx context.Context, owner cache.OwnerID) (*Result, error) {
	result := &Result{}
	if m.remote == nil {
		return result, nil
	}

	unlock := m.owners.Lock(string(owner))
	defer unlock()

	ops, err := m.store.ListOperations(ctx, owner)
	if err != nil {
		return nil, err
	}

	processed := 0
	for _, op := range ops {
		if processed == m.cfg.BatchSize {
			break
		}
		// An in_progress row here is abandoned: reconciliation holds the owner
		// lock, so nothing else can be working on it. Pick it up again.
		if op.Status != cache.OpPending && op.Status != cache.OpInProgress {
			continue
		}
		processed++

		start := time.Now()
		outcome, err := m.process(ctx, op)
		if err != nil {
			return result, err
		}
		metrics.RecordOperation(m.metrics, string(op.Type), outcome, time.Since(start))

		switch outcome {
		case "completed":
			result.Completed++
		case "failed":
			result.Failed++
		case "conflict":
			result.Conflicts = append(result.Conflicts, op.ContentID)
		}
	}

	if result.Completed > 0 {
		if err := m.store.SetLastSync(ctx, owner, m.clock().UTC()); err != nil {
			return result, err
		}
	}
	m.publishQueueDepth(ctx, owner)
	return result, nil
}

// process runs one operation to a terminal outcome: "completed", "failed",
// or "conflict". The returned error is reserved for store failures; remote
// failures are absorbed into the outcome.
func (m *Manager) process(ctx context.Context, op *cache.SyncOperation) (string, error) {
	op.Status = cache.OpInProgress
	if err := m.store.UpdateOperation(ctx, op); err != nil {
		return "", err
	}

	remoteErr := m.executeWithRetry(ctx, op)
	now := m.clock().UTC()

	switch {
	case remoteErr == nil:
		if err := m.applySuccess(ctx, op, now); err != nil {
			return "", err
		}
		if err := m.store.DeleteOperation(ctx, op.OwnerID, op.OperationID); err != nil {
			return "", err
		}
		return "completed", nil

	case errors.Is(remoteErr, ErrVersionMismatch):
		if err := m.markConflict(ctx, op, now); err != nil {
			return "", err
		}
		if err := m.store.DeleteOperation(ctx, op.OwnerID, op.OperationID); err != nil {
			return "", err
		}
		return "conflict", nil

	default:
		// Terminal failure. The operation stays in the queue for inspection;
		// the item's sync status is left as it was.
		op.Status = cache.OpFailed
		op.CompletedAt = now
		op.Error = remoteErr.Error()
		if err := m.store.UpdateOperation(ctx, op); err != nil {
			return "", err
		}
		logger.Warn("sync operation failed",
			"owner", op.OwnerID,
			"operation_id", op.OperationID,
			"type", op.Type,
			"content_id", op.ContentID,
			"attempts", op.RetryCount,
			"error", remoteErr)
		return "failed", nil
	}
}

// executeWithRetry runs the remote call with capped exponential backoff.
// Only transient errors are retried; version mismatches and other permanent
// errors abort immediately.
func (m *Manager) executeWithRetry(ctx context.Context, op *cache.SyncOperation) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.RetryInitialInterval
	policy.MaxInterval = m.cfg.RetryMaxInterval

	attempt := func() error {
		op.RetryCount++
		err := m.execute(ctx, op)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			if op.RetryCount < m.cfg.MaxAttempts {
				metrics.RecordRetry(m.metrics, string(op.Type))
			}
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(m.cfg.MaxAttempts-1)), ctx))
}

// execute performs one attempt of the remote call.
func (m *Manager) execute(ctx context.Context, op *cache.SyncOperation) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	defer cancel()

	switch op.Type {
	case cache.OpUpload:
		content, err := m.store.GetContent(ctx, op.OwnerID, op.ContentID)
		if err != nil {
			// The item was evicted or deleted after queueing; nothing to push.
			return err
		}
		return m.remote.Push(ctx, content)

	case cache.OpDownload:
		item, err := m.remote.Pull(ctx, op.OwnerID, op.ContentID)
		if err != nil {
			return err
		}
		return m.applyRemoteItem(ctx, op.OwnerID, op.ContentID, item)

	case cache.OpDelete:
		return m.remote.Delete(ctx, op.OwnerID, op.ContentID)

	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
}

// applySuccess finalizes the local state after the remote accepted the
// operation.
func (m *Manager) applySuccess(ctx context.Context, op *cache.SyncOperation, now time.Time) error {
	if op.Type == cache.OpDelete {
		return nil
	}

	content, err := m.store.GetContent(ctx, op.OwnerID, op.ContentID)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil
		}
		return err
	}
	content.SyncStatus = cache.StatusSynced
	if op.Type == cache.OpUpload {
		// The remote accepted this revision; advance the local version so the
		// next upload is compared against what the remote now holds.
		content.Version++
	}
	content.UpdatedAt = now
	return m.store.PutContent(ctx, content)
}

// applyRemoteItem replaces the local payload with the remote one.
func (m *Manager) applyRemoteItem(ctx context.Context, owner cache.OwnerID, id cache.ContentID, item *RemoteItem) error {
	content, err := m.store.GetContent(ctx, owner, id)
	if err != nil {
		return err
	}

	canonical, err := cache.CanonicalPayload(item.Payload)
	if err != nil {
		return err
	}

	content.Payload = canonical
	content.SizeBytes = int64(len(canonical))
	content.Checksum = cache.PayloadChecksum(canonical)
	content.Version = item.Version
	content.UpdatedAt = m.clock().UTC()
	return m.store.PutContent(ctx, content)
}

func (m *Manager) markConflict(ctx context.Context, op *cache.SyncOperation, now time.Time) error {
	content, err := m.store.GetContent(ctx, op.OwnerID, op.ContentID)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil
		}
		return err
	}
	content.SyncStatus = cache.StatusConflict
	content.UpdatedAt = now
	if err := m.store.PutContent(ctx, content); err != nil {
		return err
	}
	logger.Warn("sync conflict detected",
		"owner", op.OwnerID,
		"content_id", op.ContentID,
		"local_version", content.Version)
	return nil
}

// Resolution picks a side of a conflict.
type Resolution string

const (
	// KeepLocal re-queues the local copy for upload.
	KeepLocal Resolution = "keep_local"

	// KeepRemote replaces the local copy with the remote one.
	KeepRemote Resolution = "keep_remote"
)

// ResolveConflict settles a conflicted item. The item must currently be in
// conflict state.
func (m *Manager) ResolveConflict(ctx context.Context, owner cache.OwnerID, id cache.ContentID, resolution Resolution) error {
	unlock := m.owners.Lock(string(owner))
	defer unlock()

	content, err := m.store.GetContent(ctx, owner, id)
	if err != nil {
		return err
	}
	if content.SyncStatus != cache.StatusConflict {
		return cache.NewInvalidArgumentError(fmt.Sprintf("content %s is not in conflict", id))
	}

	switch resolution {
	case KeepLocal:
		content.SyncStatus = cache.StatusPendingUpload
		if err := m.store.PutContent(ctx, content); err != nil {
			return err
		}
		return m.enqueue(ctx, owner, cache.OpUpload, id)

	case KeepRemote:
		if m.remote == nil {
			return cache.NewInvalidArgumentError("keep_remote requires a configured remote")
		}
		ctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		defer cancel()

		item, err := m.remote.Pull(ctx, owner, id)
		if err != nil {
			return err
		}
		if err := m.applyRemoteItem(ctx, owner, id, item); err != nil {
			return err
		}
		content, err := m.store.GetContent(ctx, owner, id)
		if err != nil {
			return err
		}
		content.SyncStatus = cache.StatusSynced
		return m.store.PutContent(ctx, content)

	default:
		return cache.NewInvalidArgumentError(fmt.Sprintf("unknown resolution: %s", resolution))
	}
}

// QueueDepth returns the number of queued operations for one owner,
// including failed ones awaiting inspection.
func (m *Manager) QueueDepth(ctx context.Context, owner cache.OwnerID) (int, error) {
	ops, err := m.store.ListOperations(ctx, owner)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (m *Manager) enqueue(ctx context.Context, owner cache.OwnerID, opType cache.OperationType, id cache.ContentID) error {
	op := &cache.SyncOperation{
		OperationID: uuid.NewString(),
		OwnerID:     owner,
		Type:        opType,
		ContentID:   id,
		Status:      cache.OpPending,
		CreatedAt:   m.clock().UTC(),
	}
	if err := m.store.EnqueueOperation(ctx, op); err != nil {
		return err
	}
	metrics.RecordEnqueue(m.metrics, string(opType))
	m.publishQueueDepth(ctx, owner)
	logger.Debug("queued sync operation",
		"owner", owner,
		"operation_id", op.OperationID,
		"type", opType,
		"content_id", id)
	return nil
}

func (m *Manager) hasQueuedOperation(ctx context.Context, owner cache.OwnerID, opType cache.OperationType, id cache.ContentID) (bool, error) {
	ops, err := m.store.ListOperations(ctx, owner)
	if err != nil {
		return false, err
	}
	for _, op := range ops {
		if op.Status == cache.OpPending && op.Type == opType && op.ContentID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) publishQueueDepth(ctx context.Context, owner cache.OwnerID) {
	if m.metrics == nil {
		return
	}
	ops, err := m.store.ListOperations(ctx, owner)
	if err != nil {
		return
	}
	m.metrics.SetQueueDepth(string(owner), len(ops))
}
