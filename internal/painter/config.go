package painter

import "github.com/nosqlbench/nbdatatools-sub006/internal/geometry"

// Config holds the chunk painter's tunables, per spec.md §4.5.
type Config struct {
	// MinDownloadSize is the minimum size, in bytes, of a single range GET,
	// unless bounded by the end of the file.
	MinDownloadSize int64
	// MaxDownloadSize is the maximum size, in bytes, of a single range GET.
	MaxDownloadSize int64
	// AutobufferThreshold is the number of consecutive contiguous paint
	// requests before read-ahead activates.
	AutobufferThreshold int
	// ReadaheadRequests is the number of additional max-sized fetches
	// scheduled beyond the requested range while autobuffering.
	ReadaheadRequests int
	// VerifyRetries is the number of per-chunk retries on verification
	// failure before surfacing ChunkVerificationFailed.
	VerifyRetries int
}

// DefaultConfig returns the spec-mandated defaults for a dataset shaped by
// geo: MinDownloadSize = chunk_size, MaxDownloadSize = 16 * chunk_size,
// AutobufferThreshold = 10, ReadaheadRequests = 4, VerifyRetries = 3.
func DefaultConfig(geo *geometry.Geometry) Config {
	return Config{
		MinDownloadSize:     geo.ChunkSize(),
		MaxDownloadSize:     16 * geo.ChunkSize(),
		AutobufferThreshold: 10,
		ReadaheadRequests:   4,
		VerifyRetries:       3,
	}
}
