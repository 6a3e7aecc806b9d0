package main

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/git-vfs/gitvfs/internal/rbop"
)

// journalTranslator is the illustrative Callbacks implementation: it
// stands in for the real libgit2/index plumbing, which is out of this
// design's scope. It appends one line per BackgroundOperation to a
// journal file, keyed by operation ID, so re-processing the same
// operation after a crash (before its durable-store delete lands) is
// recognized and skipped rather than appended a second time — the
// idempotency the Callbacks contract requires of PerItem.
type journalTranslator struct {
	mu   sync.Mutex
	path string

	seen map[rbop.ID]bool
}

func newJournalTranslator(path string) (*journalTranslator, error) {
	t := &journalTranslator{path: path, seen: make(map[rbop.ID]bool)}
	if err := t.loadSeen(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *journalTranslator) loadSeen() error {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("translator: open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 36 {
			continue
		}
		u, err := uuid.Parse(line[:36])
		if err != nil {
			continue // malformed line, skip rather than fail startup
		}
		id, err := rbop.ParseID(u[:])
		if err != nil {
			continue
		}
		t.seen[id] = true
	}
	return scanner.Err()
}

func (t *journalTranslator) Pre() rbop.CallbackResult {
	return rbop.ResultSuccess()
}

func (t *journalTranslator) Post() rbop.CallbackResult {
	return rbop.ResultSuccess()
}

// PerItem is idempotent by construction: an operation already recorded in
// t.seen (loaded from the journal at startup, or appended this run) is
// treated as already applied and is not written a second time.
func (t *journalTranslator) PerItem(op rbop.BackgroundOperation) rbop.CallbackResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[op.ID] {
		return rbop.ResultSuccess()
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return rbop.ResultRetryable(fmt.Errorf("translator: open journal: %w", err))
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s %s\n", op.ID, op.Kind, op.Path, op.SecondaryPath)
	if _, err := f.WriteString(line); err != nil {
		return rbop.ResultRetryable(fmt.Errorf("translator: append journal: %w", err))
	}
	t.seen[op.ID] = true
	return rbop.ResultSuccess()
}
