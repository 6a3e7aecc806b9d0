package rbop

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/git-vfs/gitvfs/internal/gethlog"
	"github.com/git-vfs/gitvfs/internal/telemetry"
)

const (
	gitLockPollInterval  = 50 * time.Millisecond
	retryableItemBackoff = 50 * time.Millisecond
	writerLockTimeout    = 10 * time.Millisecond
	progressLogCadence   = 25_000
)

// Processor is the RBOP consumer: it replays the durable store on Start,
// drives exactly one consumer goroutine for the process lifetime of the
// instance, and serializes every GitLock acquisition through that single
// goroutine.
type Processor struct {
	store     *DurableStore
	lock      *GitLock
	acq       acquisitionLock
	callbacks Callbacks
	holder    string

	wake    *wakeup
	stopCh  chan struct{}
	stopped chan struct{}
	once    sync.Once
	running atomic.Bool

	qmu   sync.Mutex
	queue []BackgroundOperation

	processed atomic.Uint64
}

// NewProcessor builds a Processor. holder is the diagnostic identity
// recorded with GitLock on acquisition (e.g. "rbop-consumer").
func NewProcessor(store *DurableStore, lock *GitLock, callbacks Callbacks, holder string) *Processor {
	return &Processor{
		store:     store,
		lock:      lock,
		callbacks: callbacks,
		holder:    holder,
		wake:      newWakeup(),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start replays durable entries into the in-memory queue and spawns the
// single consumer goroutine.
func (p *Processor) Start() error {
	ops, err := p.store.Keys()
	if err != nil {
		return fmt.Errorf("rbop: replay durable store: %w", err)
	}
	p.qmu.Lock()
	p.queue = append(p.queue, ops...)
	nonEmpty := len(p.queue) > 0
	p.qmu.Unlock()

	p.running.Store(true)
	go p.consumerLoop()

	if nonEmpty {
		p.wake.Signal()
	}
	return nil
}

// Enqueue persists op (put + flush) and, unless the processor is
// stopping, appends it to the in-memory FIFO and pulses the wakeup.
// Concurrent callers are safe: the durable store and queue each serialize
// internally.
func (p *Processor) Enqueue(op BackgroundOperation) error {
	if err := p.store.Put(op); err != nil {
		return fmt.Errorf("rbop: persist operation %s: %w", op.ID, err)
	}
	if err := p.store.Flush(); err != nil {
		return fmt.Errorf("rbop: flush operation %s: %w", op.ID, err)
	}
	if p.isStopping() {
		return nil
	}
	p.qmu.Lock()
	p.queue = append(p.queue, op)
	p.qmu.Unlock()
	p.wake.Signal()
	return nil
}

// Shutdown requests the consumer goroutine stop at the earliest safe
// point and blocks until it has.
func (p *Processor) Shutdown() {
	p.once.Do(func() { close(p.stopCh) })
	p.wake.Signal()
	<-p.stopped
	p.running.Store(false)
}

// ObtainAcquisitionLock is the reader-side call external VFS producers
// make before Enqueue.
func (p *Processor) ObtainAcquisitionLock() { p.acq.ObtainReader() }

// ReleaseAcquisitionLock pairs with ObtainAcquisitionLock.
func (p *Processor) ReleaseAcquisitionLock() { p.acq.ReleaseReader() }

// Count returns the advisory length of the in-memory queue.
func (p *Processor) Count() int {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return len(p.queue)
}

func (p *Processor) isStopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Processor) queueEmpty() bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return len(p.queue) == 0
}

func (p *Processor) peekHead() (BackgroundOperation, bool) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if len(p.queue) == 0 {
		return BackgroundOperation{}, false
	}
	return p.queue[0], true
}

func (p *Processor) dequeueHead() {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if len(p.queue) > 0 {
		p.queue = p.queue[1:]
	}
}

// consumerLoop is the sole consumer goroutine's body; it runs until
// Shutdown is observed.
func (p *Processor) consumerLoop() {
	defer close(p.stopped)

	for {
		if !p.wake.Wait(p.stopCh) {
			return
		}
		if p.isStopping() {
			return
		}
		if !p.acquireGitLockSpin() {
			return
		}

		p.runUntilSuccess(p.callbacks.Pre, "pre")

		for {
			if exit := p.drain(); exit {
				return
			}
			if err := p.store.Flush(); err != nil {
				gethlog.Crit("rbop: flush durable store failed", "err", err)
				return
			}
			p.runUntilSuccess(p.callbacks.Post, "post")

			reenter := p.maybeReleaseGitLock()
			if !reenter {
				break
			}
		}
	}
}

// acquireGitLockSpin spin-polls GitLock.TryAcquire until it succeeds or
// shutdown is requested.
func (p *Processor) acquireGitLockSpin() bool {
	for {
		ok, err := p.lock.TryAcquire(p.holder)
		if err != nil {
			gethlog.Crit("rbop: git lock acquisition failed", "err", err)
			return false
		}
		if ok {
			return true
		}
		if p.isStopping() {
			return false
		}
		time.Sleep(gitLockPollInterval)
	}
}

// runUntilSuccess implements §4.4a retry-until-success for Pre/Post:
// Success returns, RetryableError backs off and retries (abandoning if
// shutdown is requested), FatalError terminates the process.
func (p *Processor) runUntilSuccess(cb func() CallbackResult, phase string) {
	for {
		result := cb()
		switch result.Status {
		case Success:
			return
		case RetryableError:
			gethlog.Debug("rbop: retryable callback failure", "phase", phase, "err", result.Err)
			if p.isStopping() {
				return
			}
			time.Sleep(retryableItemBackoff)
		case FatalError:
			gethlog.Crit("rbop: fatal callback failure", "phase", phase, "err", result.Err)
			return
		}
	}
}

// drain processes queued operations head-first until the queue is empty
// or shutdown is observed mid-drain, in which case it flushes the durable
// store and reports exit=true so the consumer loop terminates entirely
// without running Post or considering GitLock release.
func (p *Processor) drain() (exit bool) {
	for {
		op, ok := p.peekHead()
		if !ok {
			return false
		}
		if p.isStopping() {
			if err := p.store.Flush(); err != nil {
				gethlog.Error("rbop: flush on shutdown drain failed", "err", err)
			}
			return true
		}

		result := p.callbacks.PerItem(op)
		switch result.Status {
		case Success:
			p.dequeueHead()
			if err := p.store.Delete(op.ID); err != nil {
				gethlog.Crit("rbop: delete completed operation failed", "id", op.ID, "err", err)
				return true
			}
			n := p.processed.Add(1)
			if n%progressLogCadence == 0 {
				telemetry.EmitTaskProcessingStatus(n, uint64(p.Count()))
			}
		case RetryableError:
			gethlog.Debug("rbop: per-item retry", "id", op.ID, "err", result.Err)
			if !p.isStopping() {
				time.Sleep(retryableItemBackoff)
			}
			// Head is left in place; the next loop iteration re-peeks it.
		case FatalError:
			gethlog.Crit("rbop: per-item fatal failure", "id", op.ID, "err", result.Err)
			return true
		}
	}
}

// maybeReleaseGitLock implements §4.4b safe release: a writer-side
// acquisition of the AcquisitionLock, bounded to writerLockTimeout, closes
// the race where a producer is mid-Enqueue between "queue observed empty"
// and "lock release". It returns true if the caller should re-enter the
// drain loop instead of looping back to wait on the wakeup signal.
func (p *Processor) maybeReleaseGitLock() (reenterDrain bool) {
	for {
		if !p.queueEmpty() {
			return true
		}
		if p.acq.TryObtainWriter(writerLockTimeout) {
			stillEmpty := p.queueEmpty()
			if stillEmpty {
				if err := p.lock.Release(); err != nil {
					gethlog.Error("rbop: git lock release failed", "err", err)
				}
				p.acq.ReleaseWriter()
				return false
			}
			p.acq.ReleaseWriter()
			continue
		}
		if p.isStopping() {
			return false
		}
		if !p.queueEmpty() {
			return true
		}
		// Writer acquisition timed out with the queue still empty and no
		// shutdown pending: a producer is presumably mid-enqueue. Retry.
	}
}
