package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSerializesOwner(t *testing.T) {
	reg := New(Options{})

	var (
		mu      sync.Mutex
		current int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := reg.Lock("student-1")
			defer unlock()

			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "only one holder per owner at a time")
}

func TestLockAllowsDistinctOwnersConcurrently(t *testing.T) {
	reg := New(Options{})

	unlockA := reg.Lock("student-a")

	done := make(chan struct{})
	go func() {
		unlockB := reg.Lock("student-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different owner blocked")
	}
	unlockA()
}

func TestUnlockIsIdempotent(t *testing.T) {
	reg := New(Options{})

	unlock := reg.Lock("student-1")
	unlock()
	require.NotPanics(t, func() { unlock() })

	// The lock must be free after the double release.
	unlock2 := reg.Lock("student-1")
	unlock2()
}

func TestSweepEvictsIdleOwners(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := New(Options{Inactivity: time.Minute, Clock: clock})

	unlock := reg.Lock("student-1")
	unlock()
	require.Equal(t, 1, reg.Len())

	// Not idle long enough yet.
	assert.Equal(t, 0, reg.Sweep())
	assert.Equal(t, 1, reg.Len())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 0, reg.Len())
}

func TestSweepSkipsHeldOwners(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg := New(Options{Inactivity: time.Minute, Clock: clock})

	unlock := reg.Lock("student-1")
	now = now.Add(time.Hour)

	assert.Equal(t, 0, reg.Sweep(), "a held state must never be evicted")
	assert.Equal(t, 1, reg.Len())

	unlock()
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
}
