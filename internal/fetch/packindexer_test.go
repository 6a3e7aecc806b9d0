package fetch

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// buildTestPack writes a minimal but structurally valid packfile containing
// the given blob payloads, each packed as an OBJ_BLOB entry, and returns
// the expected SHA-1 of each payload in order.
func buildTestPack(t *testing.T, payloads [][]byte) (path string, wantSHAs []string) {
	t.Helper()
	var buf bytes.Buffer

	var header [12]byte
	copy(header[:4], "PACK")
	binary.BigEndian.PutUint32(header[4:8], 2)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(payloads)))
	buf.Write(header[:])

	for _, payload := range payloads {
		writePackEntry(t, &buf, packObjBlob, payload)
		h := sha1.Sum(payload)
		wantSHAs = append(wantSHAs, hex.EncodeToString(h[:]))
	}

	path = filepath.Join(t.TempDir(), "incoming.pack")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test pack: %v", err)
	}
	return path, wantSHAs
}

func writePackEntry(t *testing.T, buf *bytes.Buffer, kind packObjectKind, payload []byte) {
	t.Helper()
	size := len(payload)
	first := byte(kind) << 4
	first |= byte(size & 0x0f)
	size >>= 4
	if size > 0 {
		first |= 0x80
	}
	buf.WriteByte(first)
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}

	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(payload); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
}

func TestIndexerParsesPackAndEmitsRecords(t *testing.T) {
	payloads := [][]byte{
		[]byte("first blob contents"),
		[]byte("second blob, a bit longer than the first one"),
	}
	packPath, wantSHAs := buildTestPack(t, payloads)

	idx := NewIndexer(t.TempDir())
	result, outcome := idx.Index(IndexPackRequest{TempPackPath: packPath})
	if outcome.Err != nil {
		t.Fatalf("Index: %v", outcome.Err)
	}

	if len(result.Records) != len(payloads) {
		t.Fatalf("len(Records)=%d want %d", len(result.Records), len(payloads))
	}
	for i, rec := range result.Records {
		if string(rec.SHA) != wantSHAs[i] {
			t.Fatalf("Records[%d].SHA=%s want %s", i, rec.SHA, wantSHAs[i])
		}
	}

	if _, err := os.Stat(result.PackPath); err != nil {
		t.Fatalf("expected pack committed at %s: %v", result.PackPath, err)
	}
	if _, err := os.Stat(packPath); !os.IsNotExist(err) {
		t.Fatalf("expected temp pack to be moved away, stat err=%v", err)
	}
}

func TestIndexerRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pack")
	if err := os.WriteFile(path, []byte("NOPE0000000000000000"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	idx := NewIndexer(t.TempDir())
	_, outcome := idx.Index(IndexPackRequest{TempPackPath: path})
	if outcome.Err == nil {
		t.Fatal("expected an error for bad pack magic")
	}
	if !outcome.Retry {
		t.Fatal("expected a corrupt pack to be reported retryable")
	}
}
