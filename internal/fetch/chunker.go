package fetch

// Chunker groups an upstream stream of SHAs into batches of up to size
// items: it blocks on the first item of a batch, then drains up to
// size-1 more without blocking, so a burst of ready items is coalesced
// into one downstream request while a trickle is forwarded promptly.
type Chunker struct {
	in   <-chan SHA
	size int
}

// NewChunker wraps in, batching up to size items per TryTake call. size
// must be >= 1.
func NewChunker(in <-chan SHA, size int) *Chunker {
	if size < 1 {
		size = 1
	}
	return &Chunker{in: in, size: size}
}

// TryTake blocks until either the first item of a new batch arrives or
// the upstream channel is closed. It returns (batch, true) for a
// non-empty batch, or (nil, false) once upstream is closed and fully
// drained.
func (c *Chunker) TryTake() ([]SHA, bool) {
	first, ok := <-c.in
	if !ok {
		return nil, false
	}
	batch := make([]SHA, 1, c.size)
	batch[0] = first

	for len(batch) < c.size {
		select {
		case sha, ok := <-c.in:
			if !ok {
				return batch, true
			}
			batch = append(batch, sha)
		default:
			return batch, true
		}
	}
	return batch, true
}
