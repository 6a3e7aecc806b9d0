package objstore

import (
	"io"
	"os"
	"strings"
	"testing"
)

func TestWriteLooseObjectThenOpen(t *testing.T) {
	s := New(t.TempDir())
	sha := "0123456789abcdef0123456789abcdef01234567"

	if s.Has(sha) {
		t.Fatal("expected object absent before write")
	}

	if err := s.WriteLooseObject(sha, strings.NewReader("hello object")); err != nil {
		t.Fatalf("WriteLooseObject: %v", err)
	}

	if !s.Has(sha) {
		t.Fatal("expected object present after write")
	}

	r, err := s.Open(sha)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello object" {
		t.Fatalf("content=%q want %q", got, "hello object")
	}
}

func TestWriteLooseObjectLeavesNoTempFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	sha := "abababababababababababababababababababab"

	if err := s.WriteLooseObject(sha, strings.NewReader("payload")); err != nil {
		t.Fatalf("WriteLooseObject: %v", err)
	}

	shard := dir + "/" + sha[:2]
	entries, err := readDirNames(shard)
	if err != nil {
		t.Fatalf("read shard dir: %v", err)
	}
	for _, name := range entries {
		if len(name) >= len(".tmp-obj-") && name[:len(".tmp-obj-")] == ".tmp-obj-" {
			t.Fatalf("leftover temp file %q after successful write", name)
		}
	}
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}
