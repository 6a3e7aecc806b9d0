package fetch

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/git-vfs/gitvfs/internal/gethlog"
	"github.com/git-vfs/gitvfs/internal/objstore"
	"github.com/git-vfs/gitvfs/internal/retry"
	"github.com/git-vfs/gitvfs/internal/telemetry"
)

const heartbeatInterval = 20 * time.Second

// Fetcher is the Object Fetcher (C6): for each batch handed to it by the
// chunker, it dispatches a loose-object request (single SHA) or a bulk
// request (multi-SHA, preferring a batched-loose-objects response), and
// writes whatever comes back to disk.
type Fetcher struct {
	client      *Client
	store       *objstore.Store
	tempDir     string
	commitDepth int
	preferBatch bool

	hasFailures     atomic.Bool
	bytesDownloaded atomic.Int64
	requestCount    atomic.Uint64
	activeDownloads atomic.Int32
	nextPackID      atomic.Uint64
}

// NewFetcher builds a Fetcher writing loose objects into store and
// staging received packs under tempDir.
func NewFetcher(client *Client, store *objstore.Store, tempDir string, commitDepth int, preferBatch bool) *Fetcher {
	return &Fetcher{client: client, store: store, tempDir: tempDir, commitDepth: commitDepth, preferBatch: preferBatch}
}

// HasFailures reports whether any request exhausted its retries since
// construction.
func (f *Fetcher) HasFailures() bool { return f.hasFailures.Load() }

// BytesDownloaded returns the cumulative byte count received across every
// request this Fetcher has issued.
func (f *Fetcher) BytesDownloaded() int64 { return f.bytesDownloaded.Load() }

// RunHeartbeat emits a DownloadHeartbeat telemetry event every 20s until
// ctx is done. Callers run it in its own goroutine alongside the worker
// pool.
func (f *Fetcher) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			telemetry.EmitDownloadHeartbeat(int(f.activeDownloads.Load()))
		}
	}
}

// ProcessBatch fetches one chunker batch, writing every resulting object
// (loose or packed) to disk, and forwards available SHAs / pack requests
// downstream. It never returns an error: failures are absorbed into
// hasFailures, matching "POFP failures must not abort siblings."
func (f *Fetcher) ProcessBatch(ctx context.Context, batch []SHA, availableObjects chan<- SHA, availablePacks chan<- IndexPackRequest) {
	f.activeDownloads.Add(1)
	defer f.activeDownloads.Add(-1)
	f.requestCount.Add(1)
	packID := f.nextPackID.Add(1)

	var result retry.Result[struct{}]
	if len(batch) == 1 {
		result = f.client.FetchLooseObject(ctx, batch[0], func(attempt int, resp *ObjectResponse) retry.Outcome {
			return f.writeObjectOrPack(batch[0], packID, resp, availableObjects, availablePacks)
		})
	} else {
		succeeded := newSHASet()
		result = f.client.FetchObjects(ctx, batch, f.commitDepth, f.preferBatch, succeeded, func(attempt int, resp *ObjectResponse) retry.Outcome {
			return f.writeBatchedObjectOrPack(batch, packID, resp, succeeded, availableObjects, availablePacks)
		})
	}

	if !result.Succeeded {
		gethlog.Error("fetch: batch failed", "size", len(batch), "err", result.LastErr)
		f.hasFailures.Store(true)
	}
}

// writeObjectOrPack implements the ContentType dispatch table for a
// single-SHA request. packID is this ProcessBatch call's monotonic id,
// carried onto BlobDownloadRequest for telemetry correlation with the
// pack the indexer eventually produces from it.
func (f *Fetcher) writeObjectOrPack(sha SHA, packID uint64, resp *ObjectResponse, availableObjects chan<- SHA, availablePacks chan<- IndexPackRequest) retry.Outcome {
	switch resp.ContentType {
	case ContentLooseObject:
		n, err := f.writeLoose(sha, resp.Body)
		if err != nil {
			return retry.Retryable(err)
		}
		f.bytesDownloaded.Add(n)
		telemetry.RecordBytesDownloaded(n)
		availableObjects <- sha
		return retry.Outcome{}
	case ContentPackFile:
		return f.writePack(resp, BlobDownloadRequest{SHAs: []SHA{sha}, PackID: packID}, availablePacks)
	default:
		return retry.Outcome{Err: fmt.Errorf("fetch: unexpected %s for single-object request", resp.ContentType)}
	}
}

// writeBatchedObjectOrPack implements the dispatch table for a multi-SHA
// request: BatchedLooseObjects is decoded record-by-record, marking each
// into succeeded as it lands so a retry only asks for what's missing.
func (f *Fetcher) writeBatchedObjectOrPack(batch []SHA, packID uint64, resp *ObjectResponse, succeeded *shaSet, availableObjects chan<- SHA, availablePacks chan<- IndexPackRequest) retry.Outcome {
	switch resp.ContentType {
	case ContentPackFile:
		return f.writePack(resp, BlobDownloadRequest{SHAs: batch, PackID: packID}, availablePacks)
	case ContentBatchedLooseObjects:
		return f.decodeBatchedStream(resp.Body, succeeded, availableObjects)
	default:
		return retry.Outcome{Err: fmt.Errorf("fetch: unexpected %s for bulk request", resp.ContentType)}
	}
}

// decodeBatchedStream reads a sequence of (sha-len, sha, body-len, body)
// framed records until EOF.
func (f *Fetcher) decodeBatchedStream(r io.Reader, succeeded *shaSet, availableObjects chan<- SHA) retry.Outcome {
	br := bufio.NewReader(r)
	for {
		sha, body, err := readBatchedRecord(br)
		if err == io.EOF {
			return retry.Outcome{}
		}
		if err != nil {
			return retry.Retryable(fmt.Errorf("fetch: decode batched record: %w", err))
		}
		n, err := f.writeLoose(sha, body)
		if err != nil {
			return retry.Retryable(err)
		}
		f.bytesDownloaded.Add(n)
		telemetry.RecordBytesDownloaded(n)
		succeeded.mark(sha)
		availableObjects <- sha
	}
}

func readBatchedRecord(br *bufio.Reader) (SHA, io.Reader, error) {
	var shaLen uint32
	if err := binary.Read(br, binary.BigEndian, &shaLen); err != nil {
		return "", nil, err
	}
	shaBytes := make([]byte, shaLen)
	if _, err := io.ReadFull(br, shaBytes); err != nil {
		return "", nil, err
	}
	var bodyLen uint64
	if err := binary.Read(br, binary.BigEndian, &bodyLen); err != nil {
		return "", nil, err
	}
	return SHA(shaBytes), io.LimitReader(br, int64(bodyLen)), nil
}

// writeLoose atomically writes body under sha and returns the byte count
// written.
func (f *Fetcher) writeLoose(sha SHA, body io.Reader) (int64, error) {
	counter := &countingReader{r: body}
	if err := f.store.WriteLooseObject(string(sha), counter); err != nil {
		return 0, err
	}
	return counter.n, nil
}

// writePack streams resp's body to a temp pack file and, once confirmed
// non-empty, publishes an IndexPackRequest. A zero-byte or unwritable
// temp pack is reported as a retryable failure per §4.6's invariant.
func (f *Fetcher) writePack(resp *ObjectResponse, source BlobDownloadRequest, availablePacks chan<- IndexPackRequest) retry.Outcome {
	tmp, err := os.CreateTemp(f.tempDir, ".tmp-pack-*")
	if err != nil {
		return retry.Outcome{Err: fmt.Errorf("fetch: create temp pack: %w", err)}
	}
	tmpPath := tmp.Name()

	counter := &countingReader{r: resp.Body}
	_, copyErr := io.Copy(tmp, counter)
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return retry.Retryable(fmt.Errorf("fetch: stream pack body: %w", copyErr))
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return retry.Retryable(fmt.Errorf("fetch: close temp pack: %w", closeErr))
	}
	if counter.n == 0 {
		_ = os.Remove(tmpPath)
		return retry.Outcome{Retry: true, Err: fmt.Errorf("fetch: received empty pack for pack id %d", source.PackID)}
	}

	f.bytesDownloaded.Add(counter.n)
	telemetry.RecordBytesDownloaded(counter.n)
	availablePacks <- IndexPackRequest{TempPackPath: tmpPath, Source: source}
	return retry.Outcome{}
}

// Stop emits the terminal DownloadStopped telemetry event for this
// Fetcher's cumulative counters.
func (f *Fetcher) Stop() {
	telemetry.EmitDownloadStopped(f.requestCount.Load(), uint64(f.bytesDownloaded.Load()), f.hasFailures.Load())
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
