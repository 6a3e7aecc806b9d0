package rbop

import (
	"sync"
	"time"
)

// acquisitionLock is the reader-writer quiescence fence between external
// producers (the VFS kernel callback, briefly holding it as a reader while
// calling Enqueue) and the RBOP consumer (holding it as a writer only
// while considering releasing GitLock). It is not a data guard: nothing
// it protects is read or written while held, it exists purely to
// sequence producer bursts against the consumer's self-release step.
//
// Implemented directly on sync.RWMutex; the writer side additionally
// offers a bounded-timeout TryLock since the consumer must not block
// indefinitely waiting for producers to quiesce (spec §4.4b: 10ms).
type acquisitionLock struct {
	mu sync.RWMutex
}

// ObtainReader is the producer-side call: block (briefly) until granted.
func (a *acquisitionLock) ObtainReader() { a.mu.RLock() }

// ReleaseReader is the producer-side release. Go's RWMutex already panics
// on an unmatched RUnlock, which is exactly the "double release" guard the
// spec's Open Question asks about — no additional held-state bookkeeping
// is needed with a typed RW token.
func (a *acquisitionLock) ReleaseReader() { a.mu.RUnlock() }

// TryObtainWriter attempts to take the writer side within timeout,
// polling because sync.RWMutex has no native timed Lock. Returns false if
// the timeout elapses without success (a producer is mid-enqueue).
func (a *acquisitionLock) TryObtainWriter(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	const pollInterval = 500 * time.Microsecond
	for {
		if a.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// ReleaseWriter releases the writer side taken by TryObtainWriter.
func (a *acquisitionLock) ReleaseWriter() { a.mu.Unlock() }
