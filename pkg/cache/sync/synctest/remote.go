// Package synctest provides a scriptable in-memory Remote for tests.
package synctest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/satchel-edu/satchel/pkg/cache"
	cachesync "github.com/satchel-edu/satchel/pkg/cache/sync"
)

// Remote is an in-memory fake backend. Tests script failures by setting the
// error fields; each queued error is consumed by one call.
type Remote struct {
	mu sync.Mutex

	items map[cache.OwnerID]map[cache.ContentID]*cachesync.RemoteItem

	// PushErrs, PullErrs, and DeleteErrs are consumed front-to-back, one per
	// call. A nil entry means that call succeeds.
	PushErrs   []error
	PullErrs   []error
	DeleteErrs []error

	PushCalls   int
	PullCalls   int
	DeleteCalls int
}

// NewRemote creates an empty fake backend.
func NewRemote() *Remote {
	return &Remote{items: make(map[cache.OwnerID]map[cache.ContentID]*cachesync.RemoteItem)}
}

// Seed places an item on the fake backend.
func (r *Remote) Seed(owner cache.OwnerID, id cache.ContentID, payload json.RawMessage, version int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[owner] == nil {
		r.items[owner] = make(map[cache.ContentID]*cachesync.RemoteItem)
	}
	r.items[owner][id] = &cachesync.RemoteItem{Payload: payload, Version: version}
}

// Item returns the backend's copy, or nil.
func (r *Remote) Item(owner cache.OwnerID, id cache.ContentID) *cachesync.RemoteItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[owner][id]
}

func (r *Remote) Push(ctx context.Context, content *cache.CachedContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.PushCalls++
	if err := pop(&r.PushErrs); err != nil {
		return err
	}

	if existing := r.items[content.OwnerID][content.ContentID]; existing != nil && existing.Version > content.Version {
		return cachesync.ErrVersionMismatch
	}
	if r.items[content.OwnerID] == nil {
		r.items[content.OwnerID] = make(map[cache.ContentID]*cachesync.RemoteItem)
	}
	r.items[content.OwnerID][content.ContentID] = &cachesync.RemoteItem{
		Payload: append(json.RawMessage(nil), content.Payload...),
		Version: content.Version,
	}
	return nil
}

func (r *Remote) Pull(ctx context.Context, owner cache.OwnerID, id cache.ContentID) (*cachesync.RemoteItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.PullCalls++
	if err := pop(&r.PullErrs); err != nil {
		return nil, err
	}

	item, ok := r.items[owner][id]
	if !ok {
		return nil, cache.NewNotFoundError(id)
	}
	return &cachesync.RemoteItem{
		Payload: append(json.RawMessage(nil), item.Payload...),
		Version: item.Version,
	}, nil
}

func (r *Remote) Delete(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.DeleteCalls++
	if err := pop(&r.DeleteErrs); err != nil {
		return err
	}
	delete(r.items[owner], id)
	return nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
