package rbop

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"
)

// GitLock is the process-wide mutual-exclusion token guarding any Git
// mutation. Acquisition is non-blocking; waiting, if desired, is the
// caller's responsibility (the RBOP consumer spin-polls it).
//
// It is backed by an flock(2)-style file lock (github.com/gofrs/flock)
// against a lock file inside the enlistment's dot-directory, so the same
// exclusion also repels a concurrently-running real `git` CLI process
// touching the same working tree — the thing the real GitLock in
// VFS-for-Git ultimately protects against.
type GitLock struct {
	mu     sync.Mutex
	file   *flock.Flock
	held   bool
	holder string
}

// NewGitLock creates a GitLock backed by a lock file at path. The file is
// created on first acquisition if it does not already exist.
func NewGitLock(path string) *GitLock {
	return &GitLock{file: flock.New(path)}
}

// TryAcquire attempts to take the lock for holder (a diagnostic identity
// string, e.g. "rbop-consumer"). It never blocks. Reentrancy is not
// supported: a second TryAcquire from the same GitLock instance while
// already held fails even if the caller is "the same" logical owner.
func (g *GitLock) TryAcquire(holder string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false, nil
	}
	ok, err := g.file.TryLock()
	if err != nil {
		return false, fmt.Errorf("rbop: acquire git lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	g.held = true
	g.holder = holder
	return true, nil
}

// Release gives up the lock. It is an error to release a lock not held.
func (g *GitLock) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return fmt.Errorf("rbop: release git lock: not held")
	}
	if err := g.file.Unlock(); err != nil {
		return fmt.Errorf("rbop: release git lock: %w", err)
	}
	g.held = false
	g.holder = ""
	return nil
}

// Holder returns the diagnostic identity of the current holder, or "" if
// the lock is free.
func (g *GitLock) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
