// Package registry tracks per-owner runtime state. Every cache and sync
// operation for one owner is serialized through the owner's lock, so
// concurrent submits, evictions, and reconciles never interleave within an
// owner while different owners proceed in parallel.
package registry

import (
	"sync"
	"time"
)

// ownerState is the runtime record for one owner. Lock serializes all cache
// mutations for the owner; refs counts in-flight holders so the sweeper never
// evicts a state that is in use.
type ownerState struct {
	lock     sync.Mutex
	refs     int
	lastUsed time.Time
}

// Registry manages owner states. States are created on first use and evicted
// after a period of inactivity to keep memory proportional to the active
// owner set rather than the historical one.
//
// Example usage:
//
//	reg := registry.New(registry.Options{Inactivity: 10 * time.Minute})
//	unlock := reg.Lock("student-42")
//	defer unlock()
//	// ... mutate the owner's cache ...
type Registry struct {
	mu     sync.Mutex
	owners map[string]*ownerState
	clock  func() time.Time

	// inactivity is how long an unreferenced state survives before Sweep
	// removes it.
	inactivity time.Duration
}

// Options configures a Registry.
type Options struct {
	// Inactivity is the idle time after which an unused owner state is
	// eligible for eviction. Zero means DefaultInactivity.
	Inactivity time.Duration

	// Clock overrides the time source (tests).
	Clock func() time.Time
}

// DefaultInactivity is the idle eviction threshold when none is configured.
const DefaultInactivity = 15 * time.Minute

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Inactivity <= 0 {
		opts.Inactivity = DefaultInactivity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		owners:     make(map[string]*ownerState),
		clock:      opts.Clock,
		inactivity: opts.Inactivity,
	}
}

// Lock acquires the owner's lock, creating the owner state on first use.
// The returned function releases the lock and must be called exactly once.
func (r *Registry) Lock(owner string) func() {
	r.mu.Lock()
	state, ok := r.owners[owner]
	if !ok {
		state = &ownerState{}
		r.owners[owner] = state
	}
	state.refs++
	r.mu.Unlock()

	state.lock.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			state.lock.Unlock()

			r.mu.Lock()
			state.refs--
			state.lastUsed = r.clock()
			r.mu.Unlock()
		})
	}
}

// Sweep removes owner states that have no holders and have been idle longer
// than the inactivity threshold. It returns the number of evicted states.
func (r *Registry) Sweep() int {
	cutoff := r.clock().Add(-r.inactivity)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for owner, state := range r.owners {
		if state.refs == 0 && state.lastUsed.Before(cutoff) && !state.lastUsed.IsZero() {
			delete(r.owners, owner)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked owner states.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
