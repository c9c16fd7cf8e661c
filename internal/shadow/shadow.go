// Package shadow implements the shadow bitmap described in spec.md §3/§4.7:
// a bitset over leaves asserting "verified AND durably written to the
// content file," strictly implied by but distinct from the local tree's
// leaf validity.
package shadow

import (
	"os"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
)

// Shadow couples the local tree, the reference tree, the content file, and
// a per-leaf verified bitmap. The reference tree is read-only after
// acquisition; Local and shadow bits transition together, under mu, per
// spec.md §4.7's "never diverge in the set direction" invariant.
type Shadow struct {
	mu sync.Mutex

	geo     *geometry.Geometry
	ref     *merkletree.Tree
	local   *merkletree.Tree
	content *os.File

	bits       *bitset.BitSet
	shadowPath string
}

// Open constructs a Shadow over an already-open reference tree, local tree,
// and content file, loading any persisted bitmap at shadowPath (a missing
// file is treated as empty, consistent with a freshly-synced dataset; chunks
// whose bits lie past the end of a short file are left unverified).
func Open(ref, local *merkletree.Tree, content *os.File, shadowPath string) (*Shadow, error) {
	geo := ref.Geometry()
	s := &Shadow{
		geo:        geo,
		ref:        ref,
		local:      local,
		content:    content,
		bits:       bitset.New(uint(geo.TotalChunks())),
		shadowPath: shadowPath,
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shadow) load() error {
	data, err := os.ReadFile(s.shadowPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nbdterr.Wrap(nbdterr.Io, err, "read shadow bitmap %s", s.shadowPath)
	}
	for i := int64(0); i < s.geo.TotalChunks(); i++ {
		byteIdx := i / 8
		if byteIdx >= int64(len(data)) {
			break
		}
		if data[byteIdx]&(1<<uint(i%8)) != 0 {
			s.bits.Set(uint(i))
		}
	}
	return nil
}

// persist flushes the shadow bitmap to shadowPath. Caller must hold mu.
func (s *Shadow) persist() error {
	size := (s.geo.TotalChunks() + 7) / 8
	buf := make([]byte, size)
	for i := int64(0); i < s.geo.TotalChunks(); i++ {
		if s.bits.Test(uint(i)) {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	tmp := s.shadowPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "write shadow bitmap")
	}
	if err := os.Rename(tmp, s.shadowPath); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "rename shadow bitmap into place")
	}
	return nil
}

// Submit verifies data against the reference leaf hash for chunkIndex; on
// match it writes the bytes to the content file at the chunk's offset,
// fsyncs, and atomically sets both the shadow bit and the local tree's leaf
// validity under mu. Returns false (not an error) on a hash mismatch, per
// spec.md §4.7 step 3.
func (s *Shadow) Submit(chunkIndex int64, data []byte) (bool, error) {
	if chunkIndex < 0 || chunkIndex >= s.geo.TotalChunks() {
		return false, nbdterr.New(nbdterr.InvalidArgument, "chunk index %d out of range", chunkIndex)
	}

	refHash, err := s.ref.LeafHash(chunkIndex)
	if err != nil {
		return false, nbdterr.Wrap(nbdterr.ReferenceMissing, err, "reference leaf %d not available", chunkIndex)
	}

	got := merkletree.HashChunk(data)
	if got != refHash {
		return false, nil
	}

	start, _, err := s.geo.ChunkBoundary(chunkIndex)
	if err != nil {
		return false, err
	}
	if _, err := s.content.WriteAt(data, start); err != nil {
		return false, nbdterr.Wrap(nbdterr.Io, err, "write chunk %d to content file", chunkIndex)
	}
	if err := syncRange(s.content); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.local.SubmitChunk(chunkIndex, data); err != nil {
		return false, err
	}
	s.bits.Set(uint(chunkIndex))
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// ReferenceLeafHash exposes the reference tree's leaf hash for chunkIndex,
// for callers (the painter's dedupe fast path) that need to compare against
// it without going through Submit's own hashing.
func (s *Shadow) ReferenceLeafHash(chunkIndex int64) ([merkletree.HashSize]byte, error) {
	return s.ref.LeafHash(chunkIndex)
}

// SubmitVerified is Submit's fast path for data whose SHA-256 digest is
// already known (e.g. from the painter's BLAKE3 dedupe cache): it skips
// rehashing and trusts digest as the hash of data.
func (s *Shadow) SubmitVerified(chunkIndex int64, data []byte, digest [merkletree.HashSize]byte) (bool, error) {
	if chunkIndex < 0 || chunkIndex >= s.geo.TotalChunks() {
		return false, nbdterr.New(nbdterr.InvalidArgument, "chunk index %d out of range", chunkIndex)
	}
	refHash, err := s.ref.LeafHash(chunkIndex)
	if err != nil {
		return false, nbdterr.Wrap(nbdterr.ReferenceMissing, err, "reference leaf %d not available", chunkIndex)
	}
	if digest != refHash {
		return false, nil
	}

	start, _, err := s.geo.ChunkBoundary(chunkIndex)
	if err != nil {
		return false, err
	}
	if _, err := s.content.WriteAt(data, start); err != nil {
		return false, nbdterr.Wrap(nbdterr.Io, err, "write chunk %d to content file", chunkIndex)
	}
	if err := syncRange(s.content); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.local.SubmitChunk(chunkIndex, data); err != nil {
		return false, err
	}
	s.bits.Set(uint(chunkIndex))
	return true, s.persist()
}

// IsVerified reports whether chunkIndex is shadow-verified.
func (s *Shadow) IsVerified(chunkIndex int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chunkIndex < 0 || chunkIndex >= s.geo.TotalChunks() {
		return false
	}
	return s.bits.Test(uint(chunkIndex))
}

// VerifiedCount returns the number of chunks currently shadow-verified.
func (s *Shadow) VerifiedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.bits.Count())
}

// Geometry exposes the dataset geometry this shadow was opened over.
func (s *Shadow) Geometry() *geometry.Geometry { return s.geo }

// ReadChunk returns the bytes of chunkIndex if it is shadow-verified, or a
// NotVerified error otherwise.
func (s *Shadow) ReadChunk(chunkIndex int64) ([]byte, error) {
	if !s.IsVerified(chunkIndex) {
		return nil, nbdterr.New(nbdterr.NotVerified, "chunk %d not shadow-verified", chunkIndex)
	}
	start, end, err := s.geo.ChunkBoundary(chunkIndex)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	if _, err := s.content.ReadAt(buf, start); err != nil {
		return nil, nbdterr.Wrap(nbdterr.Io, err, "read chunk %d from content file", chunkIndex)
	}
	return buf, nil
}

// RebuildFromContent recomputes shadow-verification from whatever bytes are
// currently on disk, per spec.md §4.4 step 5 / scenario 4 (crash recovery):
// a chunk is intact iff its on-disk bytes still hash to the reference leaf.
// Chunks that fail are left unverified and will be re-fetched on next read.
func (s *Shadow) RebuildFromContent() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bits = bitset.New(uint(s.geo.TotalChunks()))
	for i := int64(0); i < s.geo.TotalChunks(); i++ {
		start, end, err := s.geo.ChunkBoundary(i)
		if err != nil {
			return err
		}
		buf := make([]byte, end-start)
		if _, err := s.content.ReadAt(buf, start); err != nil {
			continue // short/sparse file region: chunk is simply not present
		}
		refHash, err := s.ref.LeafHash(i)
		if err != nil {
			continue
		}
		if merkletree.HashChunk(buf) == refHash {
			if err := s.local.SubmitChunk(i, buf); err != nil {
				return err
			}
			s.bits.Set(uint(i))
		}
	}
	return s.persist()
}

// Close flushes the shadow bitmap.
func (s *Shadow) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// syncRange fsyncs the content file. Go's os.File exposes no portable
// partial-range fsync, so this flushes the whole file; spec.md's "fsync the
// page range" requirement is satisfied conservatively.
func syncRange(f *os.File) error {
	if err := f.Sync(); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "fsync content file")
	}
	return nil
}
