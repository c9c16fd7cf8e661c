package painter

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
	"github.com/nosqlbench/nbdatatools-sub006/internal/shadow"
)

// corruptingHandler serves data over HTTP range requests, except that bytes
// in [badStart, badEnd) are always replaced with zeros, simulating a chunk
// that can never verify no matter how many times it is refetched.
type corruptingHandler struct {
	data             []byte
	badStart, badEnd int64
	requests         int32
}

func (h *corruptingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&h.requests, 1)
	served := append([]byte(nil), h.data...)
	if h.badEnd > h.badStart {
		for i := h.badStart; i < h.badEnd && i < int64(len(served)); i++ {
			served[i] = 0
		}
	}
	http.ServeContent(w, r, "data.bin", time.Unix(0, 0), bytes.NewReader(served))
}

func setupPainter(t *testing.T, data []byte, handler http.Handler, cfg *Config) (*Painter, *shadow.Shadow, *geometry.Geometry, func()) {
	t.Helper()
	dir := t.TempDir()

	ref, err := merkletree.BuildFromData(data, filepath.Join(dir, "ref.mrkl"))
	if err != nil {
		t.Fatal(err)
	}
	local, err := merkletree.CreateEmpty(int64(len(data)), filepath.Join(dir, "local.mrkl"))
	if err != nil {
		t.Fatal(err)
	}
	content, err := os.Create(filepath.Join(dir, "content"))
	if err != nil {
		t.Fatal(err)
	}
	if err := content.Truncate(int64(len(data))); err != nil {
		t.Fatal(err)
	}
	sh, err := shadow.Open(ref, local, content, filepath.Join(dir, "content.shadow"))
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(handler)

	geo := geometry.New(int64(len(data)))
	c := DefaultConfig(geo)
	if cfg != nil {
		c = *cfg
	}
	p := New(geo, sh, srv.Client(), srv.URL+"/data.bin", c)

	cleanup := func() {
		srv.Close()
		sh.Close()
		local.Close()
		ref.Close()
		content.Close()
	}
	return p, sh, geo, cleanup
}

func TestPaintFetchesAndVerifies(t *testing.T) {
	data := make([]byte, 3*geometry.MinChunkSize)
	rand.New(rand.NewSource(10)).Read(data)

	h := &corruptingHandler{data: data}
	p, sh, geo, cleanup := setupPainter(t, data, h, nil)
	defer cleanup()

	start, end, _ := geo.ChunkBoundary(1)
	if err := p.Paint(context.Background(), start, end); err != nil {
		t.Fatal(err)
	}
	if !sh.IsVerified(1) {
		t.Fatal("chunk 1 should be verified after Paint")
	}
	if sh.IsVerified(0) || sh.IsVerified(2) {
		t.Fatal("Paint should not have touched chunks outside the requested range")
	}
}

func TestPaintSkipsAlreadyVerifiedChunks(t *testing.T) {
	data := make([]byte, 2*geometry.MinChunkSize)
	rand.New(rand.NewSource(11)).Read(data)

	h := &corruptingHandler{data: data}
	p, _, geo, cleanup := setupPainter(t, data, h, nil)
	defer cleanup()

	start, end, _ := geo.ChunkBoundary(0)
	if err := p.Paint(context.Background(), start, end); err != nil {
		t.Fatal(err)
	}
	before := atomic.LoadInt32(&h.requests)
	if err := p.Paint(context.Background(), start, end); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&h.requests) != before {
		t.Fatalf("expected no additional requests for an already-verified range, got %d new", atomic.LoadInt32(&h.requests)-before)
	}
}

func TestPaintDetectsPersistentCorruption(t *testing.T) {
	data := make([]byte, 2*geometry.MinChunkSize)
	rand.New(rand.NewSource(12)).Read(data)

	start0, end0 := int64(0), int64(geometry.MinChunkSize)
	h := &corruptingHandler{data: data, badStart: start0, badEnd: end0}
	cfg := &Config{
		MinDownloadSize:     geometry.MinChunkSize,
		MaxDownloadSize:     geometry.MinChunkSize,
		AutobufferThreshold: 1000,
		ReadaheadRequests:   0,
		VerifyRetries:       2,
	}
	p, sh, geo, cleanup := setupPainter(t, data, h, cfg)
	defer cleanup()

	start, end, _ := geo.ChunkBoundary(0)
	err := p.Paint(context.Background(), start, end)
	if err == nil {
		t.Fatal("expected a verification error for persistently corrupted content")
	}
	if nbdterr.KindOf(err) != nbdterr.ChunkVerificationFailed {
		t.Fatalf("expected ChunkVerificationFailed, got %v", err)
	}
	if sh.IsVerified(0) {
		t.Fatal("corrupted chunk must not be marked verified")
	}
}

func TestPaintConcurrentOverlappingCallsAgree(t *testing.T) {
	data := make([]byte, 4*geometry.MinChunkSize)
	rand.New(rand.NewSource(13)).Read(data)

	h := &corruptingHandler{data: data}
	p, sh, geo, cleanup := setupPainter(t, data, h, nil)
	defer cleanup()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	ranges := [][2]int64{{0, 2}, {1, 3}}
	for i, r := range ranges {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			start, _, _ := geo.ChunkBoundary(r[0])
			_, end, _ := geo.ChunkBoundary(r[1])
			errs[i] = p.Paint(context.Background(), start, end)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(0); i < 4; i++ {
		if !sh.IsVerified(i) {
			t.Fatalf("chunk %d should be verified after overlapping concurrent paints", i)
		}
	}
}

func TestAutobufferExtendsRangeAfterThreshold(t *testing.T) {
	data := make([]byte, 20*geometry.MinChunkSize)
	rand.New(rand.NewSource(14)).Read(data)

	h := &corruptingHandler{data: data}
	cfg := &Config{
		MinDownloadSize:     geometry.MinChunkSize,
		MaxDownloadSize:     geometry.MinChunkSize,
		AutobufferThreshold: 2,
		ReadaheadRequests:   2,
		VerifyRetries:       3,
	}
	p, sh, geo, cleanup := setupPainter(t, data, h, cfg)
	defer cleanup()

	ctx := context.Background()
	for i := int64(0); i < 3; i++ {
		start, end, _ := geo.ChunkBoundary(i)
		if err := p.Paint(ctx, start, end); err != nil {
			t.Fatal(err)
		}
	}

	if !sh.IsVerified(3) {
		t.Fatal("expected read-ahead to have verified chunks beyond the requested range once sequential threshold was exceeded")
	}
}
