// Package objstore implements the on-disk loose-object store: an atomic,
// content-addressed writer/reader using Git's standard two-level sharding
// (objects/<2-hex>/<rest-hex>).
package objstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store roots a loose-object tree at dir (the enlistment's ".git/objects"
// equivalent).
type Store struct {
	dir string
}

func New(dir string) *Store { return &Store{dir: dir} }

func (s *Store) path(sha string) (string, error) {
	if len(sha) < 3 {
		return "", fmt.Errorf("objstore: sha %q too short", sha)
	}
	return filepath.Join(s.dir, sha[:2], sha[2:]), nil
}

// Has reports whether sha is already present in the store.
func (s *Store) Has(sha string) bool {
	p, err := s.path(sha)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// WriteLooseObject durably and atomically writes body under sha: it is
// staged to a temp file in the same shard directory and then renamed into
// place, so a process crash mid-write can never leave a partially-written
// (and therefore corrupt-looking) object visible to readers.
func (s *Store) WriteLooseObject(sha string, body io.Reader) error {
	p, err := s.path(sha)
	if err != nil {
		return err
	}
	shardDir := filepath.Dir(p)
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		return fmt.Errorf("objstore: create shard dir %s: %w", shardDir, err)
	}

	tmp, err := os.CreateTemp(shardDir, ".tmp-obj-*")
	if err != nil {
		return fmt.Errorf("objstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	// Ensure the temp file never lingers if anything below fails.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("objstore: write %s: %w", sha, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("objstore: sync %s: %w", sha, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objstore: close temp file for %s: %w", sha, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("objstore: rename into place %s: %w", sha, err)
	}
	success = true
	return nil
}

// Open returns a reader for the loose object stored under sha.
func (s *Store) Open(sha string) (io.ReadCloser, error) {
	p, err := s.path(sha)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}
