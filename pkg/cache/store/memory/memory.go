// Package memory provides an in-memory Store implementation.
//
// It backs unit tests and ephemeral deployments; nothing survives process
// restart. The implementation mirrors the durable backends' contract
// exactly so the conformance suite runs against all of them.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/satchel-edu/satchel/pkg/cache"
)

type ownerData struct {
	content  map[cache.ContentID]*cache.CachedContent
	ops      []*cache.SyncOperation
	size     int64
	lastSync time.Time
}

// Store is an in-memory metadata store.
type Store struct {
	mu     sync.RWMutex
	owners map[cache.OwnerID]*ownerData
	closed bool
}

var _ cache.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{owners: make(map[cache.OwnerID]*ownerData)}
}

func (s *Store) owner(id cache.OwnerID) *ownerData {
	od, ok := s.owners[id]
	if !ok {
		od = &ownerData{content: make(map[cache.ContentID]*cache.CachedContent)}
		s.owners[id] = od
	}
	return od
}

// PutContent inserts or replaces a content row.
func (s *Store) PutContent(ctx context.Context, content *cache.CachedContent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.NewClosedError()
	}

	od := s.owner(content.OwnerID)
	if prev, ok := od.content[content.ContentID]; ok {
		od.size -= prev.SizeBytes
	}
	od.content[content.ContentID] = content.Clone()
	od.size += content.SizeBytes
	return nil
}

// GetContent retrieves a content row by owner and id.
func (s *Store) GetContent(ctx context.Context, owner cache.OwnerID, id cache.ContentID) (*cache.CachedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return nil, cache.NewNotFoundError(id)
	}
	content, ok := od.content[id]
	if !ok {
		return nil, cache.NewNotFoundError(id)
	}
	return content.Clone(), nil
}

// DeleteContent removes a content row.
func (s *Store) DeleteContent(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return cache.NewNotFoundError(id)
	}
	content, ok := od.content[id]
	if !ok {
		return cache.NewNotFoundError(id)
	}
	od.size -= content.SizeBytes
	delete(od.content, id)
	return nil
}

// ListContent returns one owner's rows in a category ordered by
// (priority desc, last_accessed desc).
func (s *Store) ListContent(ctx context.Context, owner cache.OwnerID, category cache.Category) ([]*cache.CachedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return nil, nil
	}

	var items []*cache.CachedContent
	for _, c := range od.content {
		if c.Category == category {
			items = append(items, c.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].LastAccessed.After(items[j].LastAccessed)
	})
	return items, nil
}

// ListOwnerContent returns every row of one owner.
func (s *Store) ListOwnerContent(ctx context.Context, owner cache.OwnerID) ([]*cache.CachedContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return nil, nil
	}
	items := make([]*cache.CachedContent, 0, len(od.content))
	for _, c := range od.content {
		items = append(items, c.Clone())
	}
	return items, nil
}

// TotalSize returns the owner's stored byte total.
func (s *Store) TotalSize(ctx context.Context, owner cache.OwnerID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return 0, nil
	}
	return od.size, nil
}

// Owners returns every owner with content or queued operations.
func (s *Store) Owners(ctx context.Context) ([]cache.OwnerID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.NewClosedError()
	}

	owners := make([]cache.OwnerID, 0, len(s.owners))
	for id, od := range s.owners {
		if len(od.content) > 0 || len(od.ops) > 0 {
			owners = append(owners, id)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// EnqueueOperation appends a sync operation to the owner's queue.
func (s *Store) EnqueueOperation(ctx context.Context, op *cache.SyncOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.NewClosedError()
	}

	od := s.owner(op.OwnerID)
	od.ops = append(od.ops, op.Clone())
	return nil
}

// ListOperations returns the owner's operations in FIFO order.
func (s *Store) ListOperations(ctx context.Context, owner cache.OwnerID) ([]*cache.SyncOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return nil, nil
	}
	ops := make([]*cache.SyncOperation, 0, len(od.ops))
	for _, op := range od.ops {
		ops = append(ops, op.Clone())
	}
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].OperationID < ops[j].OperationID
	})
	return ops, nil
}

// UpdateOperation replaces an existing operation.
func (s *Store) UpdateOperation(ctx context.Context, op *cache.SyncOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.NewClosedError()
	}

	od, ok := s.owners[op.OwnerID]
	if !ok {
		return cache.NewNotFoundError(op.ContentID)
	}
	for i, existing := range od.ops {
		if existing.OperationID == op.OperationID {
			od.ops[i] = op.Clone()
			return nil
		}
	}
	return cache.NewNotFoundError(op.ContentID)
}

// DeleteOperation removes an operation from the queue.
func (s *Store) DeleteOperation(ctx context.Context, owner cache.OwnerID, operationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return cache.NewNotFoundError("")
	}
	for i, existing := range od.ops {
		if existing.OperationID == operationID {
			od.ops = append(od.ops[:i], od.ops[i+1:]...)
			return nil
		}
	}
	return cache.NewNotFoundError("")
}

// SetLastSync records the owner's most recent successful sync time.
func (s *Store) SetLastSync(ctx context.Context, owner cache.OwnerID, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.NewClosedError()
	}

	s.owner(owner).lastSync = t
	return nil
}

// LastSync returns the owner's most recent successful sync time.
func (s *Store) LastSync(ctx context.Context, owner cache.OwnerID) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, cache.NewClosedError()
	}

	od, ok := s.owners[owner]
	if !ok {
		return time.Time{}, nil
	}
	return od.lastSync, nil
}

// Close releases the store. Subsequent calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.owners = nil
	return nil
}
