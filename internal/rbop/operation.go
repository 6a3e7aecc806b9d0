// Package rbop implements the Reliable Background Operation Processor: a
// durable, single-consumer work queue that serializes filesystem-change
// notifications back into Git index/working-tree state, coordinating
// exclusive access to a shared GitLock.
package rbop

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ID is the 128-bit identifier of a BackgroundOperation.
type ID [16]byte

// NewID allocates a fresh random ID.
func NewID() ID { return ID(uuid.New()) }

// ParseID decodes a 16-byte slice into an ID, as read back from the store.
func ParseID(b []byte) (ID, error) {
	var id ID
	if len(b) != 16 {
		return id, fmt.Errorf("rbop: operation id must be 16 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id ID) Bytes() []byte { return id[:] }
func (id ID) String() string {
	u, _ := uuid.FromBytes(id[:])
	return u.String()
}

// Kind enumerates the filesystem change notifications the VFS driver can
// enqueue.
type Kind int

const (
	KindCreateFile Kind = iota
	KindDeleteFile
	KindRenameFile
	KindUpdatePlaceholder
	KindCreateDirectory
	KindDeleteDirectory
)

func (k Kind) String() string {
	switch k {
	case KindCreateFile:
		return "create-file"
	case KindDeleteFile:
		return "delete-file"
	case KindRenameFile:
		return "rename-file"
	case KindUpdatePlaceholder:
		return "update-placeholder"
	case KindCreateDirectory:
		return "create-directory"
	case KindDeleteDirectory:
		return "delete-directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// BackgroundOperation is the opaque record persisted by the durable store.
// It is never mutated in place: it is created by the VFS layer, persisted
// at enqueue, and removed strictly after its callback returns Success.
type BackgroundOperation struct {
	ID            ID
	Kind          Kind
	Path          string
	SecondaryPath string // optional, e.g. the destination of a rename
}

// operationWire is the JSON-serializable form written to the durable
// store; the ID lives in the key, not the value, matching the teacher's
// convention of keeping accessor keys and payloads separate.
type operationWire struct {
	Kind          Kind   `json:"kind"`
	Path          string `json:"path"`
	SecondaryPath string `json:"secondaryPath,omitempty"`
}

func encodeOperation(op BackgroundOperation) ([]byte, error) {
	return json.Marshal(operationWire{Kind: op.Kind, Path: op.Path, SecondaryPath: op.SecondaryPath})
}

func decodeOperation(id ID, data []byte) (BackgroundOperation, error) {
	var w operationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return BackgroundOperation{}, fmt.Errorf("rbop: decode operation %s: %w", id, err)
	}
	return BackgroundOperation{ID: id, Kind: w.Kind, Path: w.Path, SecondaryPath: w.SecondaryPath}, nil
}

// CallbackStatus is the tagged outcome of running a callback.
type CallbackStatus int

const (
	Success CallbackStatus = iota
	RetryableError
	FatalError
)

func (s CallbackStatus) String() string {
	switch s {
	case Success:
		return "success"
	case RetryableError:
		return "retryable-error"
	case FatalError:
		return "fatal-error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// CallbackResult is returned by every callback invoked from the consumer
// loop: Pre, PerItem, and Post.
type CallbackResult struct {
	Status CallbackStatus
	Err    error
}

func ResultSuccess() CallbackResult { return CallbackResult{Status: Success} }
func ResultRetryable(err error) CallbackResult {
	return CallbackResult{Status: RetryableError, Err: err}
}
func ResultFatal(err error) CallbackResult { return CallbackResult{Status: FatalError, Err: err} }

// Callbacks is the three-operation interface the consumer drives: Pre runs
// once per wake cycle before draining, PerItem runs once per queued
// operation (callers must treat it as idempotent — see Design Notes open
// question on crash-before-dequeue), and Post runs once after the queue
// drains dry, before GitLock is considered for release.
type Callbacks interface {
	Pre() CallbackResult
	PerItem(op BackgroundOperation) CallbackResult
	Post() CallbackResult
}
