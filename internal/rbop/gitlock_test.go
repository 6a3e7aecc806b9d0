package rbop

import (
	"path/filepath"
	"testing"
)

func TestGitLockMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitlock")
	lock := NewGitLock(path)

	ok, err := lock.TryAcquire("writer-a")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquisition to succeed")
	}
	if got := lock.Holder(); got != "writer-a" {
		t.Fatalf("Holder()=%q want writer-a", got)
	}

	ok, err = lock.TryAcquire("writer-b")
	if err != nil {
		t.Fatalf("TryAcquire (second): %v", err)
	}
	if ok {
		t.Fatal("expected second acquisition to fail while held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := lock.Holder(); got != "" {
		t.Fatalf("Holder() after release=%q want empty", got)
	}

	ok, err = lock.TryAcquire("writer-b")
	if err != nil {
		t.Fatalf("TryAcquire (after release): %v", err)
	}
	if !ok {
		t.Fatal("expected acquisition after release to succeed")
	}
}

func TestGitLockReleaseWithoutAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitlock")
	lock := NewGitLock(path)
	if err := lock.Release(); err == nil {
		t.Fatal("expected Release without a prior TryAcquire to error")
	}
}
