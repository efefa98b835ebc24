// Package sync reconciles the local cache with a remote backend: it drains
// the per-owner operation queue, retries transient failures, and surfaces
// version conflicts for explicit resolution.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satchel-edu/satchel/pkg/cache"
)

// RemoteItem is the remote's view of one cached item.
type RemoteItem struct {
	Payload json.RawMessage
	Version int64
}

// Remote is the backend the cache synchronizes against. Implementations talk
// to the tutoring platform's API; the manager only depends on this contract.
//
// Push must return ErrVersionMismatch (possibly wrapped) when the remote
// holds a newer version of the item. Errors worth retrying must be wrapped
// in *TransientError; everything else is treated as permanent.
type Remote interface {
	// Push uploads a locally modified item.
	Push(ctx context.Context, content *cache.CachedContent) error

	// Pull fetches the remote copy of an item.
	Pull(ctx context.Context, owner cache.OwnerID, id cache.ContentID) (*RemoteItem, error)

	// Delete removes an item from the remote.
	Delete(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error
}

// ErrVersionMismatch signals that the remote holds a different version of
// the item than the operation was based on. The item enters conflict state
// and stays there until resolved.
var ErrVersionMismatch = errors.New("remote version does not match local version")

// TransientError wraps a failure that is expected to clear on its own, such
// as an unreachable network or a throttled backend. The manager retries
// these with backoff; any other error fails the operation immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient sync error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
