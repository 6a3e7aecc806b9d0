package fetch

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"strings"
)

var errIncompleteBatch = errors.New("fetch: batch incomplete in test fixture")

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func writeBatchedRecord(w io.Writer, sha string, body []byte) {
	shaBytes := []byte(sha)
	_ = binary.Write(w, binary.BigEndian, uint32(len(shaBytes)))
	_, _ = w.Write(shaBytes)
	_ = binary.Write(w, binary.BigEndian, uint64(len(body)))
	_, _ = w.Write(body)
}

func readBatchedRecordForTest(r io.Reader) (SHA, []byte, error) {
	sha, bodyReader, err := readBatchedRecord(bufio.NewReader(r))
	if err != nil {
		return "", nil, err
	}
	body, err := io.ReadAll(bodyReader)
	return sha, body, err
}
