package fetch

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"github.com/git-vfs/gitvfs/internal/retry"
)

// packMagic is the 4-byte header every packfile starts with.
var packMagic = [4]byte{'P', 'A', 'C', 'K'}

// packObjectKind mirrors Git's packfile object type tag, carried in the
// high bits of the first varint byte of each entry.
type packObjectKind int

const (
	packObjCommit packObjectKind = 1
	packObjTree   packObjectKind = 2
	packObjBlob   packObjectKind = 3
	packObjTag    packObjectKind = 4
	packObjOfsDelta packObjectKind = 6
	packObjRefDelta packObjectKind = 7
)

// Indexer consumes IndexPackRequests, parses and inflates every packed
// entry, and returns one PackIndexRecord per member; the orchestrator
// publishes each member's SHA on the downstream "available objects"
// channel.
type Indexer struct {
	packDir string
}

// NewIndexer roots the canonical .pack output under packDir. No .idx file
// is written; the index is kept in memory only.
func NewIndexer(packDir string) *Indexer {
	return &Indexer{packDir: packDir}
}

// IndexResult is what a successful Index call reports: the records built
// and the canonical path the pack was moved to.
type IndexResult struct {
	Records  []PackIndexRecord
	PackPath string
}

// Index parses req.TempPackPath, builds the in-memory index, and performs
// the temp-file-then-rename move into the canonical pack directory. A
// truncated or corrupt pack is reported as a retryable retry.Outcome,
// matching C6's vocabulary, since a transient network truncation is the
// overwhelmingly likely cause.
func (idx *Indexer) Index(req IndexPackRequest) (IndexResult, retry.Outcome) {
	f, err := os.Open(req.TempPackPath)
	if err != nil {
		return IndexResult{}, retry.Outcome{Err: fmt.Errorf("packindexer: open temp pack: %w", err)}
	}
	defer f.Close()

	br := bufio.NewReader(f)
	count, err := readPackHeader(br)
	if err != nil {
		return IndexResult{}, retry.Outcome{Retry: true, Err: fmt.Errorf("packindexer: %w", err)}
	}

	var offset int64 = 12 // past the 12-byte header
	records := make([]PackIndexRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		rec, consumed, err := readPackEntry(br, offset)
		if err != nil {
			return IndexResult{}, retry.Outcome{Retry: true, Err: fmt.Errorf("packindexer: entry %d: %w", i, err)}
		}
		records = append(records, rec)
		offset += consumed
	}

	packPath, err := idx.commitPack(req.TempPackPath)
	if err != nil {
		return IndexResult{}, retry.Outcome{Err: fmt.Errorf("packindexer: commit pack: %w", err)}
	}

	return IndexResult{Records: records, PackPath: packPath}, retry.Outcome{}
}

func readPackHeader(r io.Reader) (objectCount uint32, err error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if header[0] != packMagic[0] || header[1] != packMagic[1] || header[2] != packMagic[2] || header[3] != packMagic[3] {
		return 0, fmt.Errorf("bad pack magic %q", header[:4])
	}
	return binary.BigEndian.Uint32(header[8:12]), nil
}

// readPackEntry reads one packed object: a variable-length size/type
// header followed by a zlib-compressed body. It inflates the body only
// far enough to learn its decompressed length and digest, computing the
// entry's CRC32 over the compressed bytes as it consumes them.
func readPackEntry(r *bufio.Reader, offset int64) (PackIndexRecord, int64, error) {
	crcWriter := crc32.NewIEEE()
	tee := io.TeeReader(r, crcWriter)

	_, consumed, err := readEntryHeader(tee)
	if err != nil {
		return PackIndexRecord{}, 0, err
	}

	zr, err := zlib.NewReader(tee)
	if err != nil {
		return PackIndexRecord{}, 0, fmt.Errorf("open zlib stream: %w", err)
	}
	defer zr.Close()

	h := sha1.New()
	n, err := io.Copy(h, zr)
	if err != nil {
		return PackIndexRecord{}, 0, fmt.Errorf("inflate entry: %w", err)
	}
	_ = n

	sha := hex.EncodeToString(h.Sum(nil))
	rec := PackIndexRecord{SHA: SHA(sha), CRC32: crcWriter.Sum32(), Offset: offset}
	return rec, consumed, nil
}

// readEntryHeader decodes the variable-length (type, size) header at the
// start of a packed entry and returns the number of header bytes consumed.
func readEntryHeader(r io.ByteReader) (packObjectKind, int64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	consumed := int64(1)
	kind := packObjectKind((first >> 4) & 0x07)
	more := first&0x80 != 0
	for more {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		consumed++
		more = b&0x80 != 0
	}
	return kind, consumed, nil
}

// commitPack moves tempPath into the canonical pack directory under a
// name derived from its contents, via temp-file-then-rename so a reader
// never observes a partially-written pack.
func (idx *Indexer) commitPack(tempPath string) (string, error) {
	if err := os.MkdirAll(idx.packDir, 0o755); err != nil {
		return "", fmt.Errorf("create pack dir: %w", err)
	}
	digest, err := fileSHA1(tempPath)
	if err != nil {
		return "", err
	}
	finalPath := filepath.Join(idx.packDir, fmt.Sprintf("pack-%s.pack", digest))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

func fileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
