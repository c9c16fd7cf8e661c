package painter

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress is the handle returned by PaintAsync, per spec.md §4.5's async
// paint operation: callers can wait on it, poll it, or discard it and let
// the paint proceed in the background.
type Progress struct {
	ID uuid.UUID

	mu           sync.Mutex
	done         chan struct{}
	err          error
	bytesFetched int64
	chunksPlanned int
	started      time.Time
	finished     time.Time
}

func newProgress() *Progress {
	return &Progress{
		ID:      uuid.New(),
		done:    make(chan struct{}),
		started: time.Now(),
	}
}

func (p *Progress) addBytes(n int64) {
	p.mu.Lock()
	p.bytesFetched += n
	p.mu.Unlock()
}

func (p *Progress) setPlanned(n int) {
	p.mu.Lock()
	p.chunksPlanned = n
	p.mu.Unlock()
}

func (p *Progress) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.finished = time.Now()
	p.mu.Unlock()
	close(p.done)
}

// Done returns a channel closed once the paint resolves.
func (p *Progress) Done() <-chan struct{} { return p.done }

// Wait blocks until the paint resolves and returns its error, if any.
func (p *Progress) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// BytesFetched returns the number of bytes pulled from the origin so far
// (network bytes, not necessarily all verified successfully).
func (p *Progress) BytesFetched() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesFetched
}

// ChunksPlanned returns the number of chunks this paint call scheduled for
// fetch, including any autobuffer read-ahead.
func (p *Progress) ChunksPlanned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunksPlanned
}

// Throughput returns bytes fetched per second of elapsed wall time so far.
// Returns 0 before any time has elapsed.
func (p *Progress) Throughput() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := p.finished
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(p.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.bytesFetched) / elapsed
}
