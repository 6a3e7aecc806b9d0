package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/git-vfs/gitvfs/internal/rbop"
)

func TestJournalTranslatorPerItemIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	tr, err := newJournalTranslator(path)
	if err != nil {
		t.Fatalf("newJournalTranslator: %v", err)
	}

	op := rbop.BackgroundOperation{ID: rbop.NewID(), Kind: rbop.KindCreateFile, Path: "a/b"}

	if result := tr.PerItem(op); result.Status != rbop.Success {
		t.Fatalf("first PerItem status=%v want success", result.Status)
	}
	if result := tr.PerItem(op); result.Status != rbop.Success {
		t.Fatalf("repeat PerItem status=%v want success", result.Status)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	count := countOccurrences(string(data), op.ID.String())
	if count != 1 {
		t.Fatalf("journal contains %d entries for %s, want exactly 1", count, op.ID)
	}
}

func TestJournalTranslatorReloadsSeenFromExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	op := rbop.BackgroundOperation{ID: rbop.NewID(), Kind: rbop.KindDeleteFile, Path: "gone"}

	first, err := newJournalTranslator(path)
	if err != nil {
		t.Fatalf("newJournalTranslator: %v", err)
	}
	if result := first.PerItem(op); result.Status != rbop.Success {
		t.Fatalf("PerItem status=%v want success", result.Status)
	}

	reloaded, err := newJournalTranslator(path)
	if err != nil {
		t.Fatalf("newJournalTranslator (reload): %v", err)
	}
	if !reloaded.seen[op.ID] {
		t.Fatal("expected reload to recognize the already-journaled operation")
	}
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
		}
	}
	return count
}
