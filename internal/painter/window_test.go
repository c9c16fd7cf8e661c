package painter

import (
	"testing"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
)

func TestSplitWindowMergesShortTailIntoPreviousWindow(t *testing.T) {
	geo := geometry.New(20 * geometry.MinChunkSize)
	cfg := Config{
		MinDownloadSize: 4 * geometry.MinChunkSize,
		MaxDownloadSize: 4 * geometry.MinChunkSize,
	}

	run := make([]int64, 9)
	for i := range run {
		run[i] = int64(i)
	}

	windows := splitWindow(run, geo, cfg)
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows (4 merged with the 1-chunk tail), got %d: %v", len(windows), windows)
	}
	if len(windows[0]) != 4 {
		t.Fatalf("expected first window of 4 chunks, got %d", len(windows[0]))
	}
	if len(windows[1]) != 5 {
		t.Fatalf("expected second window to absorb the short tail (5 chunks), got %d", len(windows[1]))
	}
}

func TestSplitWindowRunShorterThanMinimumStillOneWindow(t *testing.T) {
	geo := geometry.New(20 * geometry.MinChunkSize)
	cfg := Config{
		MinDownloadSize: 8 * geometry.MinChunkSize,
		MaxDownloadSize: 8 * geometry.MinChunkSize,
	}

	run := []int64{0, 1}
	windows := splitWindow(run, geo, cfg)
	if len(windows) != 1 || len(windows[0]) != 2 {
		t.Fatalf("expected a single undersized window for a short run, got %v", windows)
	}
}

func TestSplitWindowExactMultipleNoMerge(t *testing.T) {
	geo := geometry.New(20 * geometry.MinChunkSize)
	cfg := Config{
		MinDownloadSize: 4 * geometry.MinChunkSize,
		MaxDownloadSize: 4 * geometry.MinChunkSize,
	}

	run := make([]int64, 8)
	for i := range run {
		run[i] = int64(i)
	}

	windows := splitWindow(run, geo, cfg)
	if len(windows) != 2 {
		t.Fatalf("expected 2 exact 4-chunk windows, got %d: %v", len(windows), windows)
	}
	for _, w := range windows {
		if len(w) != 4 {
			t.Fatalf("expected every window to be exactly 4 chunks, got %d", len(w))
		}
	}
}
