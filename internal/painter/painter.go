// Package painter implements the chunk painter of spec.md §4.5: the
// component that turns a requested byte range into scheduled, coalesced,
// deduplicated range-GETs against the origin, verifies each fetched chunk
// against the reference tree, and commits verified bytes through the
// shadow tree.
package painter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
	"github.com/nosqlbench/nbdatatools-sub006/internal/refsync"
	"github.com/nosqlbench/nbdatatools-sub006/internal/shadow"
)

// Painter schedules and executes fetches of unverified chunks from a single
// content origin, verifying each against the reference tree and writing
// verified bytes through Shadow. One Painter serves one open dataset; its
// sequentiality counter and in-flight future table are shared across all
// calls to Paint/PaintAsync.
type Painter struct {
	geo        *geometry.Geometry
	shadow     *shadow.Shadow
	client     refsync.HTTPDoer
	contentURL string
	cfg        Config

	futures *futureTable
	dedupe  *dedupeCache

	seqMu        sync.Mutex
	haveLast     bool
	lastEndChunk int64
	sequential   int
}

// New constructs a Painter over an already-synced Shadow, fetching bytes
// from contentURL via client.
func New(geo *geometry.Geometry, sh *shadow.Shadow, client refsync.HTTPDoer, contentURL string, cfg Config) *Painter {
	return &Painter{
		geo:        geo,
		shadow:     sh,
		client:     client,
		contentURL: contentURL,
		cfg:        cfg,
		futures:    newFutureTable(),
		dedupe:     newDedupeCache(),
	}
}

// Paint fetches and verifies whatever chunks covering [start, end) are not
// already shadow-verified, blocking until the whole range is resolved or an
// error occurs. start and end are byte positions, end exclusive.
func (p *Painter) Paint(ctx context.Context, start, end int64) error {
	prog := p.PaintAsync(ctx, start, end)
	return prog.Wait()
}

// PaintAsync schedules the same work as Paint but returns immediately with
// a Progress handle the caller may wait on, poll, or discard.
func (p *Painter) PaintAsync(ctx context.Context, start, end int64) *Progress {
	prog := newProgress()
	go func() {
		prog.finish(p.paint(ctx, start, end, prog))
	}()
	return prog
}

// AwaitAll blocks until every chunk currently in flight across this painter
// (from any caller) has resolved.
func (p *Painter) AwaitAll(ctx context.Context) error {
	p.futures.mu.Lock()
	pending := make([]*future, 0, len(p.futures.m))
	for _, f := range p.futures.m {
		pending = append(pending, f)
	}
	p.futures.mu.Unlock()

	for _, f := range pending {
		select {
		case <-f.done:
		case <-ctx.Done():
			return nbdterr.Wrap(nbdterr.Cancelled, ctx.Err(), "await all in-flight fetches")
		}
	}
	return nil
}

func (p *Painter) paint(ctx context.Context, start, end int64, prog *Progress) error {
	if end <= start {
		return nbdterr.New(nbdterr.InvalidArgument, "paint range [%d,%d) is empty or inverted", start, end)
	}
	cLo, err := p.geo.ChunkOf(start)
	if err != nil {
		return err
	}
	cHi, err := p.geo.ChunkOf(end - 1)
	if err != nil {
		return err
	}

	cLo, cHi = p.extendForAutobuffer(cLo, cHi)

	need := p.unverifiedChunks(cLo, cHi)
	prog.setPlanned(len(need))
	if len(need) == 0 {
		return nil
	}

	owned, joined := p.futures.acquire(need)

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range contiguousRuns(owned) {
		run := run
		for _, window := range splitWindow(run, p.geo, p.cfg) {
			window := window
			g.Go(func() error {
				return p.fetchWindow(gctx, window, prog)
			})
		}
	}
	fetchErr := g.Wait()

	for _, f := range joined {
		if err := f.wait(); err != nil && fetchErr == nil {
			fetchErr = err
		}
	}

	return fetchErr
}

// extendForAutobuffer applies spec.md §4.5's read-ahead policy: once
// AutobufferThreshold consecutive paint calls have each begun exactly where
// the previous one ended, extend the high end of the range by
// ReadaheadRequests max-sized windows.
func (p *Painter) extendForAutobuffer(cLo, cHi int64) (int64, int64) {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()

	if p.haveLast && cLo == p.lastEndChunk+1 {
		p.sequential++
	} else {
		p.sequential = 0
	}
	p.haveLast = true
	p.lastEndChunk = cHi

	if p.sequential < p.cfg.AutobufferThreshold {
		return cLo, cHi
	}

	maxChunks := maxChunksPerWindow(p.cfg, p.geo.ChunkSize())
	extended := cHi + int64(p.cfg.ReadaheadRequests)*maxChunks
	if extended >= p.geo.TotalChunks() {
		extended = p.geo.TotalChunks() - 1
	}
	return cLo, extended
}

// unverifiedChunks returns the indices in [cLo, cHi] not yet shadow-verified.
func (p *Painter) unverifiedChunks(cLo, cHi int64) []int64 {
	var need []int64
	for i := cLo; i <= cHi; i++ {
		if !p.shadow.IsVerified(i) {
			need = append(need, i)
		}
	}
	return need
}

// contiguousRuns groups a sorted-ascending slice of chunk indices (as
// futureTable.acquire's owned return always is, since it preserves input
// order and callers pass ascending ranges) into maximal runs of consecutive
// integers.
func contiguousRuns(idxs []int64) [][]int64 {
	if len(idxs) == 0 {
		return nil
	}
	var runs [][]int64
	runStart := 0
	for i := 1; i <= len(idxs); i++ {
		if i == len(idxs) || idxs[i] != idxs[i-1]+1 {
			runs = append(runs, idxs[runStart:i])
			runStart = i
		}
	}
	return runs
}

func maxChunksPerWindow(cfg Config, chunkSize int64) int64 {
	n := cfg.MaxDownloadSize / chunkSize
	if n < 1 {
		n = 1
	}
	return n
}

func minChunksPerWindow(cfg Config, chunkSize int64) int64 {
	n := cfg.MinDownloadSize / chunkSize
	if n < 1 {
		n = 1
	}
	return n
}

// splitWindow breaks one contiguous run of chunk indices into sub-runs
// sized in [cfg.MinDownloadSize, cfg.MaxDownloadSize] bytes, per spec.md
// §4.5 step 4. A window is never grown past the run's end, so a run
// shorter than the minimum still yields exactly one (undersized) window;
// a trailing remainder shorter than the minimum is merged into the window
// before it rather than issued as its own below-minimum fetch, so that last
// window can exceed cfg.MaxDownloadSize by up to the minimum.
func splitWindow(run []int64, geo *geometry.Geometry, cfg Config) [][]int64 {
	maxChunks := int(maxChunksPerWindow(cfg, geo.ChunkSize()))
	minChunks := int(minChunksPerWindow(cfg, geo.ChunkSize()))

	var windows [][]int64
	for i := 0; i < len(run); {
		j := i + maxChunks
		if j > len(run) {
			j = len(run)
		}
		if remaining := len(run) - j; remaining > 0 && remaining < minChunks {
			j = len(run)
		}
		windows = append(windows, run[i:j])
		i = j
	}
	return windows
}

// fetchWindow issues one range GET covering the byte span of window's
// chunks, then verifies and commits each chunk in turn, completing its
// future regardless of outcome.
func (p *Painter) fetchWindow(ctx context.Context, window []int64, prog *Progress) error {
	if len(window) == 0 {
		return nil
	}
	start, _, err := p.geo.ChunkBoundary(window[0])
	if err != nil {
		p.completeAll(window, err)
		return err
	}
	_, end, err := p.geo.ChunkBoundary(window[len(window)-1])
	if err != nil {
		p.completeAll(window, err)
		return err
	}

	body, err := p.rangeGet(ctx, start, end)
	if err != nil {
		p.completeAll(window, err)
		return err
	}
	prog.addBytes(int64(len(body)))

	for i, idx := range window {
		cs, ce, err := p.geo.ChunkBoundary(idx)
		if err != nil {
			p.completeAll(window[i:], err)
			return err
		}
		lo := cs - start
		hi := ce - start
		if lo < 0 || hi > int64(len(body)) {
			err := nbdterr.New(nbdterr.Transport, "fetched window shorter than expected for chunk %d", idx)
			p.completeAll(window[i:], err)
			return err
		}
		data := body[lo:hi]

		if err := p.verifyAndCommit(ctx, idx, data); err != nil {
			p.completeAll(window[i:], err)
			return err
		}
		p.futures.complete(idx, nil)
	}
	return nil
}

func (p *Painter) completeAll(window []int64, err error) {
	for _, idx := range window {
		p.futures.complete(idx, err)
	}
}

// verifyAndCommit verifies data against the reference tree via
// shadow.Submit, retrying with fresh single-chunk fetches up to
// cfg.VerifyRetries times on mismatch, per spec.md §4.5 step 8.
func (p *Painter) verifyAndCommit(ctx context.Context, idx int64, data []byte) error {
	ok, err := p.commitOnce(idx, data)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	for attempt := 1; attempt <= p.cfg.VerifyRetries; attempt++ {
		start, end, err := p.geo.ChunkBoundary(idx)
		if err != nil {
			return err
		}
		fresh, err := p.rangeGet(ctx, start, end)
		if err != nil {
			return err
		}
		ok, err := p.commitOnce(idx, fresh)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		data = fresh
	}

	expected, _ := p.shadow.ReferenceLeafHash(idx)
	got := merkletree.HashChunk(data)
	return nbdterr.VerificationFailed(idx, expected[:], got[:])
}

// commitOnce tries the BLAKE3 dedupe fast path first (content seen and
// verified earlier under a different chunk index), falling back to a full
// SHA-256 verify-and-commit through Shadow.Submit.
func (p *Painter) commitOnce(idx int64, data []byte) (bool, error) {
	if digest, hit := p.dedupe.lookup(data); hit {
		ok, err := p.shadow.SubmitVerified(idx, data, digest)
		if err != nil || ok {
			return ok, err
		}
	}

	ok, err := p.shadow.Submit(idx, data)
	if err != nil || !ok {
		return ok, err
	}
	p.dedupe.remember(data, merkletree.HashChunk(data))
	return true, nil
}

// rangeGet performs one HTTP Range GET for byte span [start, end) against
// the painter's content origin, accepting both 206 Partial Content and a
// 200 OK fallback from origins that ignore Range headers.
func (p *Painter) rangeGet(ctx context.Context, start, end int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.contentURL, nil)
	if err != nil {
		return nil, nbdterr.Wrap(nbdterr.Transport, err, "build range request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nbdterr.Wrap(nbdterr.Transport, err, "range GET %d-%d", start, end-1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, nbdterr.New(nbdterr.Transport, "range GET returned status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusOK && start > 0 && resp.ContentLength != end-start {
		// The origin ignored Range and sent the whole file: skip to start.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return nil, nbdterr.Wrap(nbdterr.Transport, err, "skip to offset %d in full-body response", start)
		}
	}

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, nbdterr.Wrap(nbdterr.Transport, err, "read range response body")
	}
	return buf, nil
}
