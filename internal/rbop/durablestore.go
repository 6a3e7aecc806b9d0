package rbop

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/git-vfs/gitvfs/internal/gethlog"
)

// syncWrite forces leveldb to fsync its write-ahead log before Put/Delete
// return, which is what gives the durability guarantee described below.
var syncWrite = &opt.WriteOptions{Sync: true}

// DurableStore is a crash-safe id -> BackgroundOperation mapping backed by
// an embedded ordered-key database (leveldb), grounded on the teacher's
// OutboxStore: open-on-construct, mutex-guarded mutation, durable writes.
//
// Put and Delete already write with Sync: true, so the durability
// guarantee holds the instant they return; Flush exists to satisfy the
// spec's put+flush/delete+flush contract and to give batch-oriented
// callers an explicit barrier, but is a no-op against this backend.
type DurableStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// OpenDurableStore opens (creating if absent) the database rooted at path.
func OpenDurableStore(path string) (*DurableStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("rbop: open durable store at %s: %w", path, err)
	}
	gethlog.Info("Opened RBOP durable store", "path", path)
	return &DurableStore{db: db}, nil
}

// Put durably writes op under its ID.
func (s *DurableStore) Put(op BackgroundOperation) error {
	data, err := encodeOperation(op)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(op.ID.Bytes(), data, syncWrite)
}

// Delete durably removes id from the store.
func (s *DurableStore) Delete(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete(id.Bytes(), syncWrite)
}

// Get returns the operation stored under id, if any.
func (s *DurableStore) Get(id ID) (BackgroundOperation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.db.Get(id.Bytes(), nil)
	if err == leveldb.ErrNotFound {
		return BackgroundOperation{}, false, nil
	}
	if err != nil {
		return BackgroundOperation{}, false, err
	}
	op, err := decodeOperation(id, data)
	return op, true, err
}

// Keys enumerates every persisted operation. Ordering matches leveldb's
// key order, not necessarily enqueue order — the consumer must tolerate
// any permutation on recovery.
func (s *DurableStore) Keys() ([]BackgroundOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var ops []BackgroundOperation
	for iter.Next() {
		id, err := ParseID(iter.Key())
		if err != nil {
			return nil, err
		}
		value := append([]byte(nil), iter.Value()...)
		op, err := decodeOperation(id, value)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, iter.Error()
}

// Flush is a no-op: Put/Delete already fsync before returning. It is kept
// on the API to match the spec's put+flush/delete+flush contract.
func (s *DurableStore) Flush() error { return nil }

// Close releases the underlying database handle.
func (s *DurableStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
