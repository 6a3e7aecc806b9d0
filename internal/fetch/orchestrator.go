package fetch

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/git-vfs/gitvfs/internal/gethlog"
)

// CheckoutFunc consumes one resolved object SHA, writing it into the
// working tree. It stands in for the real checkout plumbing, which is
// out of this design's scope.
type CheckoutFunc func(sha SHA) error

// Orchestrator is the Pipeline Orchestrator (C7): it wires the chunker,
// fetcher worker pool, pack indexer and checkout stage together and
// enforces the channel-closure order that keeps every stage from either
// losing SHAs or deadlocking.
//
// Each stage is joined with its own errgroup.Group (grounded on the
// example pack's per-thread errgroup pipeline), but worker funcs always
// return nil: a single shared hasFailures flag absorbs every stage's
// failures instead of letting errgroup's first-error cancellation abort
// unrelated siblings, since POFP failures must not abort siblings.
type Orchestrator struct {
	fetcher      *Fetcher
	indexer      *Indexer
	chunkSize    int
	fetchWorkers int
	indexWorkers int
	checkoutFn   CheckoutFunc

	hasFailures atomic.Bool
}

// NewOrchestrator wires fetcher and indexer into a pipeline that batches
// chunkSize SHAs per request, runs fetchWorkers concurrent downloads and
// indexWorkers concurrent pack-indexing goroutines, and hands every
// resolved SHA to checkoutFn.
func NewOrchestrator(fetcher *Fetcher, indexer *Indexer, chunkSize, fetchWorkers, indexWorkers int, checkoutFn CheckoutFunc) *Orchestrator {
	return &Orchestrator{
		fetcher:      fetcher,
		indexer:      indexer,
		chunkSize:    chunkSize,
		fetchWorkers: fetchWorkers,
		indexWorkers: indexWorkers,
		checkoutFn:   checkoutFn,
	}
}

// Run drives one end-to-end pipeline pass over discovered, the stream of
// missing SHAs produced by the diff-helper stage. It blocks until the
// checkout stage has consumed every resolved SHA.
func (o *Orchestrator) Run(ctx context.Context, discovered <-chan SHA) error {
	batches := make(chan []SHA, o.fetchWorkers)
	availablePacks := make(chan IndexPackRequest, o.fetchWorkers)
	availableObjects := make(chan SHA, o.fetchWorkers*4)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go o.fetcher.RunHeartbeat(heartbeatCtx)

	var downloaderGroup errgroup.Group
	for i := 0; i < o.fetchWorkers; i++ {
		downloaderGroup.Go(func() error {
			for batch := range batches {
				o.fetcher.ProcessBatch(ctx, batch, availableObjects, availablePacks)
			}
			return nil
		})
	}

	var checkoutGroup errgroup.Group
	checkoutGroup.Go(func() error {
		for sha := range availableObjects {
			if err := o.checkoutFn(sha); err != nil {
				gethlog.Error("fetch: checkout failed", "sha", sha, "err", err)
				o.hasFailures.Store(true)
			}
		}
		return nil
	})

	// Step 1-2: run the blob-finder (chunker) stage to completion, closing
	// batches once discovered is drained.
	o.runBlobFinder(discovered, batches)

	// Step 3: only now start the pack indexer, since parallel indexing
	// would otherwise contend with blob-finding for I/O.
	var indexerGroup errgroup.Group
	for i := 0; i < o.indexWorkers; i++ {
		indexerGroup.Go(func() error {
			for req := range availablePacks {
				o.runIndexOne(req, availableObjects)
			}
			return nil
		})
	}

	// Step 4: wait for the downloader to finish, then close availablePacks
	// since the downloader is its sole producer.
	_ = downloaderGroup.Wait()
	close(availablePacks)

	// Step 5: wait for the pack indexer to finish draining availablePacks.
	_ = indexerGroup.Wait()

	// Step 6: close availableObjects now that both producers (downloader's
	// direct loose writes and the indexer's pack-member publishes) are
	// done; closing earlier would lose indexer-produced SHAs, closing
	// later would deadlock checkout, which never sees a close otherwise.
	close(availableObjects)

	// Step 7: wait for checkout to drain.
	_ = checkoutGroup.Wait()

	o.fetcher.Stop()
	if o.hasFailures.Load() || o.fetcher.HasFailures() {
		return errHasFailures
	}
	return nil
}

func (o *Orchestrator) runBlobFinder(discovered <-chan SHA, batches chan<- []SHA) {
	chunker := NewChunker(discovered, o.chunkSize)
	for {
		batch, ok := chunker.TryTake()
		if !ok {
			close(batches)
			return
		}
		batches <- batch
	}
}

func (o *Orchestrator) runIndexOne(req IndexPackRequest, availableObjects chan<- SHA) {
	result, outcome := o.indexer.Index(req)
	if outcome.Err != nil {
		gethlog.Error("fetch: pack indexing failed", "pack", req.TempPackPath, "err", outcome.Err)
		o.hasFailures.Store(true)
		return
	}
	for _, rec := range result.Records {
		availableObjects <- rec.SHA
	}
}

// errHasFailures is returned by Run when any stage recorded a failure;
// the fetcher and the orchestrator's own stages have already logged
// specifics.
var errHasFailures = errors.New("fetch: pipeline completed with failures")
