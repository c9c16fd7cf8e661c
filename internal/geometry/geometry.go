// Package geometry computes the chunk layout and complete-binary-tree shape
// derived from a dataset's total size. It is pure, deterministic, and has no
// dependency on the rest of the transport: every other component consults it
// as the single source of truth for chunk boundaries and tree indices.
package geometry

import (
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
)

const (
	// MinChunkSize is the smallest chunk size ever chosen (1 MiB).
	MinChunkSize = 1 << 20
	// MaxChunkSize is the largest chunk size ever chosen (64 MiB).
	MaxChunkSize = 1 << 26
	// MaxChunkCount is the ceiling on chunk count that drives doubling of
	// the chunk size.
	MaxChunkCount = 4096
)

// Geometry is an immutable description of a dataset's chunk and tree layout.
type Geometry struct {
	totalSize   int64
	chunkSize   int64
	totalChunks int64
	capLeaf     int64
}

// New derives a Geometry from totalSize. totalSize == 0 is valid and yields
// zero chunks and a degenerate single-leaf tree that callers must not read
// from.
func New(totalSize int64) *Geometry {
	if totalSize < 0 {
		totalSize = 0
	}

	chunkSize := int64(MinChunkSize)
	for {
		chunks := divCeil(totalSize, chunkSize)
		if chunks <= MaxChunkCount || chunkSize >= MaxChunkSize {
			break
		}
		chunkSize <<= 1
	}

	totalChunks := divCeil(totalSize, chunkSize)
	if totalSize == 0 {
		totalChunks = 0
	}

	capLeaf := nextPow2(totalChunks)
	if capLeaf == 0 {
		// Degenerate tree still has one (padding) leaf slot.
		capLeaf = 1
	}

	return &Geometry{
		totalSize:   totalSize,
		chunkSize:   chunkSize,
		totalChunks: totalChunks,
		capLeaf:     capLeaf,
	}
}

func divCeil(a, b int64) int64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func nextPow2(n int64) int64 {
	if n <= 0 {
		return 0
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// TotalSize returns the dataset's total byte length.
func (g *Geometry) TotalSize() int64 { return g.totalSize }

// ChunkSize returns the chosen chunk size, a power of two in [1 MiB, 64 MiB].
func (g *Geometry) ChunkSize() int64 { return g.chunkSize }

// TotalChunks returns the number of logical chunks (ceil(total_size / chunk_size)).
func (g *Geometry) TotalChunks() int64 { return g.totalChunks }

// CapLeaf returns the smallest power of two >= TotalChunks(), i.e. the
// leaf capacity of the complete binary tree.
func (g *Geometry) CapLeaf() int64 { return g.capLeaf }

// LeafOffset returns the flat-array index of leaf 0 (= CapLeaf - 1).
func (g *Geometry) LeafOffset() int64 { return g.capLeaf - 1 }

// NodeCount returns the total number of nodes in the flat heap array
// (2*CapLeaf - 1).
func (g *Geometry) NodeCount() int64 { return 2*g.capLeaf - 1 }

// InternalNodeCount returns the number of internal (non-leaf) nodes
// (CapLeaf - 1).
func (g *Geometry) InternalNodeCount() int64 { return g.capLeaf - 1 }

// ChunkBoundary returns the half-open byte range [start, end) covered by
// chunk i. The last chunk may be short.
func (g *Geometry) ChunkBoundary(i int64) (start, end int64, err error) {
	if i < 0 || i >= g.totalChunks {
		return 0, 0, nbdterr.New(nbdterr.InvalidArgument, "chunk index %d out of range [0,%d)", i, g.totalChunks)
	}
	start = i * g.chunkSize
	end = start + g.chunkSize
	if end > g.totalSize {
		end = g.totalSize
	}
	return start, end, nil
}

// ChunkOf returns the index of the chunk containing byte position p.
func (g *Geometry) ChunkOf(p int64) (int64, error) {
	if p < 0 || p >= g.totalSize {
		return 0, nbdterr.New(nbdterr.InvalidArgument, "position %d out of range [0,%d)", p, g.totalSize)
	}
	return p / g.chunkSize, nil
}

// IsPaddingLeaf reports whether leaf index i (0-based, not a flat-array
// index) is beyond TotalChunks and therefore carries the defined empty
// digest rather than real content.
func (g *Geometry) IsPaddingLeaf(i int64) bool {
	return i >= g.totalChunks
}

// Parent returns the flat-array index of i's parent. Parent(0) is undefined
// (the root has no parent); callers must not call Parent(0).
func Parent(i int64) int64 { return (i - 1) / 2 }

// Children returns the flat-array indices of i's left and right children.
func Children(i int64) (left, right int64) { return 2*i + 1, 2*i + 2 }
