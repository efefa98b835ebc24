package cache

import (
	"context"
	"time"
)

// Store is the metadata-table contract the cache engine persists through.
// Implementations are thin keyed storage with NO cache policy: expiry,
// eviction and sync transitions are decided by the engine and applied here.
//
// All methods are safe for concurrent use. Implementations return *Error
// with code ErrNotFound for missing rows and must return defensive copies,
// never internal pointers.
type Store interface {
	// PutContent inserts or replaces a content row.
	PutContent(ctx context.Context, content *CachedContent) error

	// GetContent retrieves a content row by owner and id.
	GetContent(ctx context.Context, owner OwnerID, id ContentID) (*CachedContent, error)

	// DeleteContent removes a content row. Deleting a missing row returns
	// ErrNotFound.
	DeleteContent(ctx context.Context, owner OwnerID, id ContentID) error

	// ListContent returns the owner's rows in one category ordered by
	// (priority desc, last_accessed desc). Expiry filtering is the engine's
	// concern; expired rows are included.
	ListContent(ctx context.Context, owner OwnerID, category Category) ([]*CachedContent, error)

	// ListOwnerContent returns every row of one owner, in no particular order.
	ListOwnerContent(ctx context.Context, owner OwnerID) ([]*CachedContent, error)

	// TotalSize returns the sum of size_bytes over all stored rows of one
	// owner, expired rows included until they are purged.
	TotalSize(ctx context.Context, owner OwnerID) (int64, error)

	// Owners returns every owner that currently has content or queued
	// operations. Used by background sweeps.
	Owners(ctx context.Context) ([]OwnerID, error)

	// EnqueueOperation appends a sync operation to the owner's queue.
	EnqueueOperation(ctx context.Context, op *SyncOperation) error

	// ListOperations returns the owner's operations in FIFO order
	// (created_at asc, operation_id asc as tiebreak).
	ListOperations(ctx context.Context, owner OwnerID) ([]*SyncOperation, error)

	// UpdateOperation replaces an existing operation. Returns ErrNotFound
	// if the operation does not exist.
	UpdateOperation(ctx context.Context, op *SyncOperation) error

	// DeleteOperation removes an operation from the queue.
	DeleteOperation(ctx context.Context, owner OwnerID, operationID string) error

	// SetLastSync records the completion time of the owner's most recent
	// successful sync.
	SetLastSync(ctx context.Context, owner OwnerID, t time.Time) error

	// LastSync returns the owner's most recent successful sync time, or the
	// zero time if the owner never synced.
	LastSync(ctx context.Context, owner OwnerID) (time.Time, error)

	// Close releases the underlying storage.
	Close() error
}
