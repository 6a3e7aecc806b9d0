// Package fetch implements the Parallel Object Fetch Pipeline: a
// multi-stage producer/consumer pipeline that turns a stream of missing
// object SHAs into loose objects and packs written to disk.
package fetch

import "fmt"

// SHA is a hex object identifier. The package treats it opaquely; it is
// never decoded beyond the two-character shard prefix used by objstore.
type SHA string

// ContentType discriminates a fetch response body.
type ContentType int

const (
	ContentLooseObject ContentType = iota
	ContentPackFile
	ContentBatchedLooseObjects
)

func (c ContentType) String() string {
	switch c {
	case ContentLooseObject:
		return "loose-object"
	case ContentPackFile:
		return "pack-file"
	case ContentBatchedLooseObjects:
		return "batched-loose-objects"
	default:
		return fmt.Sprintf("content-type(%d)", int(c))
	}
}

// BlobDownloadRequest is a non-empty ordered batch of object SHAs produced
// by the chunker, plus a monotonically-assigned pack id used only for
// telemetry correlation.
type BlobDownloadRequest struct {
	SHAs   []SHA
	PackID uint64
}

// IndexPackRequest hands a received, on-disk temp pack off to the indexer.
// The fetcher relinquishes ownership of TempPackPath on channel transfer:
// only the indexer may delete or rename it from here on.
type IndexPackRequest struct {
	TempPackPath string
	Source       BlobDownloadRequest
}

// PackIndexRecord is one entry of an indexed pack: the object's SHA, the
// CRC32 of its compressed on-disk bytes, and its byte offset within the
// pack.
type PackIndexRecord struct {
	SHA    SHA
	CRC32  uint32
	Offset int64
}

// shaSet tracks which SHAs of a bulk request have already been received
// successfully, so a retried request can ask only for what's left. It is
// owned by a single in-flight retry.Invoke call and is not safe for
// concurrent use.
type shaSet struct {
	done map[SHA]struct{}
}

func newSHASet() *shaSet { return &shaSet{done: make(map[SHA]struct{})} }

func (s *shaSet) mark(sha SHA) { s.done[sha] = struct{}{} }

func (s *shaSet) remaining(all []SHA) []SHA {
	out := make([]SHA, 0, len(all))
	for _, sha := range all {
		if _, ok := s.done[sha]; !ok {
			out = append(out, sha)
		}
	}
	return out
}
