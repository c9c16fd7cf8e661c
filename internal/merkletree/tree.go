// Package merkletree implements the persisted, lazily-recomputed Merkle tree
// described in spec.md §3/§4.2: a flat, heap-indexed array of fixed-width
// SHA-256 hashes backed by a memory-mapped file, with a validity bitset and
// a fixed-layout footer.
//
// On-disk layout (see footer.go for the footer itself):
//
//	[ leaf hashes      : cap_leaf * HashSize ]
//	[ internal hashes  : (cap_leaf-1) * HashSize ]
//	[ validity bitset  : bitset_size bytes ]
//	[ footer           : FooterSize bytes ]
//
// Leaves are stored in physical chunk order (leaf 0 first); internal nodes
// are stored in heap-index order immediately after. A node's logical,
// heap-indexed position (root = 0, children of i at 2i+1/2i+2) is mapped to
// its on-disk byte offset by nodeOffset.
package merkletree

import (
	"crypto/sha256"
	"os"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/mmap"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
)

// Tree is a persisted Merkle tree over a dataset's chunk geometry. The zero
// value is not usable; construct with CreateEmpty, BuildFromData, or Load.
//
// Concurrency discipline follows spec.md §9: a single owner mutex guards
// every mutation (submit, internal recomputation, lazily-computed parents),
// and reads of already-valid slots go through the same mutex rather than a
// lock-free acquire-load fast path — simpler, and still correct, per the
// "single owner writer mutex" design note.
type Tree struct {
	mu sync.Mutex

	path string
	geo  *geometry.Geometry

	file   *os.File       // read-write handle used for all slot/bitset/footer writes
	reader *mmap.ReaderAt // read-only mapping used for the hot leaf/internal read path
	bits   *bitset.BitSet // validity bitset, one bit per heap-indexed node

	closed bool
}

// CreateEmpty allocates a new, all-invalid Merkle file at path shaped for
// totalSize, and returns a Tree over it.
func CreateEmpty(totalSize int64, path string) (*Tree, error) {
	geo := geometry.New(totalSize)
	capLeaf := geo.CapLeaf()
	nodeCount := geo.NodeCount()
	bitsetSize := uint32((nodeCount + 7) / 8)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nbdterr.Wrap(nbdterr.Io, err, "create merkle file %s", path)
	}

	size := FileSize(capLeaf, bitsetSize)
	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, nbdterr.Wrap(nbdterr.Io, err, "truncate merkle file %s to %d", path, size)
	}

	t := &Tree{
		path: path,
		geo:  geo,
		file: file,
		bits: bitset.New(uint(nodeCount)),
	}

	if err := t.initPaddingLeavesLocked(); err != nil {
		file.Close()
		return nil, err
	}
	if err := t.writeFooter(geo.ChunkSize(), totalSize, bitsetSize); err != nil {
		file.Close()
		return nil, err
	}
	if err := t.writeBitset(bitsetSize); err != nil {
		file.Close()
		return nil, err
	}
	if err := t.openReader(); err != nil {
		file.Close()
		return nil, err
	}
	return t, nil
}

// Load memory-maps an existing Merkle file, validating its footer and
// tree-region digest. A digest, magic, version, or size mismatch is
// reported as nbdterr.Corrupt; the caller's strategy is to discard the tree
// and re-sync from origin (reference tree) or rebuild from local content
// (local tree), per spec.md §4.2.
func Load(path string) (*Tree, error) {
	footer, err := ReadFooterFromFile(path)
	if err != nil {
		return nil, err
	}

	geo := geometry.New(footer.TotalSize)
	if geo.ChunkSize() != footer.ChunkSize {
		return nil, nbdterr.New(nbdterr.Corrupt, "footer chunk_size %d disagrees with geometry for total_size %d (%d)", footer.ChunkSize, footer.TotalSize, geo.ChunkSize())
	}
	capLeaf := geo.CapLeaf()
	nodeCount := geo.NodeCount()
	wantBitsetSize := uint32((nodeCount + 7) / 8)
	if footer.BitsetSize != wantBitsetSize {
		return nil, nbdterr.New(nbdterr.Corrupt, "footer bitset_size %d disagrees with expected %d", footer.BitsetSize, wantBitsetSize)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nbdterr.Wrap(nbdterr.Io, err, "stat %s", path)
	}
	wantSize := FileSize(capLeaf, footer.BitsetSize)
	if info.Size() != wantSize {
		return nil, nbdterr.New(nbdterr.Corrupt, "file %s size %d disagrees with computed shape size %d", path, info.Size(), wantSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, nbdterr.Wrap(nbdterr.Io, err, "open merkle file %s", path)
	}

	t := &Tree{
		path: path,
		geo:  geo,
		file: file,
	}

	regionSize := TreeRegionSize(capLeaf)
	region := make([]byte, regionSize)
	if _, err := file.ReadAt(region, 0); err != nil {
		file.Close()
		return nil, nbdterr.Wrap(nbdterr.Io, err, "read tree region of %s", path)
	}
	gotDigest := hashRegion(region)
	if gotDigest != footer.TreeDigest {
		file.Close()
		return nil, nbdterr.New(nbdterr.Corrupt, "tree-region digest mismatch for %s", path)
	}

	bitsetBuf := make([]byte, footer.BitsetSize)
	if _, err := file.ReadAt(bitsetBuf, regionSize); err != nil {
		file.Close()
		return nil, nbdterr.Wrap(nbdterr.Io, err, "read validity bitset of %s", path)
	}
	t.bits = bytesToBitset(bitsetBuf, nodeCount)

	if err := t.openReader(); err != nil {
		file.Close()
		return nil, err
	}
	return t, nil
}

// BuildFromData constructs a tree from data already held in memory: every
// leaf hash is computed directly, internals are computed bottom-up, every
// bit is set, and the result is saved to path.
func BuildFromData(data []byte, path string) (*Tree, error) {
	t, err := CreateEmpty(int64(len(data)), path)
	if err != nil {
		return nil, err
	}

	for i := int64(0); i < t.geo.TotalChunks(); i++ {
		start, end, err := t.geo.ChunkBoundary(i)
		if err != nil {
			t.file.Close()
			return nil, err
		}
		if err := t.SubmitChunk(i, data[start:end]); err != nil {
			t.file.Close()
			return nil, err
		}
	}
	if err := t.ComputeAllInternals(); err != nil {
		t.file.Close()
		return nil, err
	}
	if err := t.save(); err != nil {
		t.file.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tree) openReader() error {
	r, err := mmap.Open(t.path)
	if err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "mmap %s", t.path)
	}
	t.reader = r
	return nil
}

// Geometry returns the chunk geometry this tree is shaped for.
func (t *Tree) Geometry() *geometry.Geometry { return t.geo }

// nodeOffset maps a heap-indexed node position to its byte offset in the
// leaves-then-internals on-disk region.
func (t *Tree) nodeOffset(idx int64) int64 {
	leafOffset := t.geo.LeafOffset()
	if idx >= leafOffset {
		leafNum := idx - leafOffset
		return leafNum * HashSize
	}
	return t.geo.CapLeaf()*HashSize + idx*HashSize
}

// LeafHash returns the hash stored at leaf chunk index i (0-based chunk
// index, not a heap index). Returns nbdterr.NotVerified-kind error if the
// leaf's bit is not set: callers use this as the package's "NotValid".
func (t *Tree) LeafHash(i int64) ([HashSize]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leafHashLocked(i)
}

func (t *Tree) leafHashLocked(i int64) ([HashSize]byte, error) {
	idx := t.geo.LeafOffset() + i
	if !t.bits.Test(uint(idx)) {
		return [HashSize]byte{}, nbdterr.New(nbdterr.NotVerified, "leaf %d not valid", i)
	}
	return t.readSlot(idx)
}

func (t *Tree) readSlot(idx int64) ([HashSize]byte, error) {
	var h [HashSize]byte
	off := t.nodeOffset(idx)
	if _, err := t.reader.ReadAt(h[:], off); err != nil {
		return h, nbdterr.Wrap(nbdterr.Io, err, "read node %d", idx)
	}
	return h, nil
}

func (t *Tree) writeSlot(idx int64, h [HashSize]byte) error {
	off := t.nodeOffset(idx)
	if _, err := t.file.WriteAt(h[:], off); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "write node %d", idx)
	}
	return nil
}

// SubmitChunk computes the empty-normalized hash of data, writes it to the
// leaf slot for chunk i, sets the leaf's validity bit, and clears every
// ancestor's bit (their cached hashes are now stale).
func (t *Tree) SubmitChunk(i int64, data []byte) error {
	start, end, err := t.geo.ChunkBoundary(i)
	if err != nil {
		return err
	}
	if int64(len(data)) != end-start {
		return nbdterr.New(nbdterr.InvalidArgument, "chunk %d expects %d bytes, got %d", i, end-start, len(data))
	}

	h := HashChunk(data)

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.geo.LeafOffset() + i
	if err := t.writeSlot(idx, h); err != nil {
		return err
	}
	t.bits.Set(uint(idx))
	t.invalidateAncestorsLocked(idx)
	return nil
}

// initPaddingLeavesLocked writes the defined empty digest into every leaf
// slot beyond TotalChunks() (the padding leaves a non-power-of-two chunk
// count always leaves in a complete binary tree) and marks them valid, so
// computeAllInternalsLocked/getHashLocked see a real right child instead of
// treating the padding slot as "not ready" or "structurally absent."
func (t *Tree) initPaddingLeavesLocked() error {
	empty := EmptyLeafDigest()
	leafOffset := t.geo.LeafOffset()
	for i := t.geo.TotalChunks(); i < t.geo.CapLeaf(); i++ {
		idx := leafOffset + i
		if err := t.writeSlot(idx, empty); err != nil {
			return err
		}
		t.bits.Set(uint(idx))
	}
	return nil
}

func (t *Tree) invalidateAncestorsLocked(idx int64) {
	for idx != 0 {
		idx = geometry.Parent(idx)
		t.bits.Clear(uint(idx))
	}
}

// ComputeAllInternals performs a breadth-first sweep over invalid internal
// nodes whose children are both valid, computing and storing their hash and
// setting their bit. It is idempotent and terminates when no further
// progress is possible; the root becomes valid iff every leaf is valid.
func (t *Tree) ComputeAllInternals() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.computeAllInternalsLocked()
}

func (t *Tree) computeAllInternalsLocked() error {
	internalCount := t.geo.InternalNodeCount()
	for {
		progressed := false
		for idx := internalCount - 1; idx >= 0; idx-- {
			if t.bits.Test(uint(idx)) {
				continue
			}
			left, right := geometry.Children(idx)
			if !t.bits.Test(uint(left)) {
				continue
			}
			leftHash, err := t.readSlot(left)
			if err != nil {
				return err
			}

			var combined [HashSize]byte
			if right < t.geo.NodeCount() && t.bits.Test(uint(right)) {
				rightHash, err := t.readSlot(right)
				if err != nil {
					return err
				}
				combined = HashInternal(leftHash, &rightHash)
			} else if right < t.geo.NodeCount() && !t.bits.Test(uint(right)) {
				continue // right child exists but isn't ready yet
			} else {
				combined = HashInternal(leftHash, nil)
			}

			if err := t.writeSlot(idx, combined); err != nil {
				return err
			}
			t.bits.Set(uint(idx))
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return nil
}

// GetHash returns the hash at heap index idx, computing and caching it from
// already-available children if it is not yet valid. Returns
// nbdterr.NotVerified if idx's value cannot yet be determined.
func (t *Tree) GetHash(idx int64) ([HashSize]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getHashLocked(idx)
}

func (t *Tree) getHashLocked(idx int64) ([HashSize]byte, error) {
	if t.bits.Test(uint(idx)) {
		return t.readSlot(idx)
	}
	if idx >= t.geo.LeafOffset() {
		return [HashSize]byte{}, nbdterr.New(nbdterr.NotVerified, "leaf at %d not valid", idx)
	}

	left, right := geometry.Children(idx)
	leftHash, err := t.getHashLocked(left)
	if err != nil {
		return [HashSize]byte{}, nbdterr.New(nbdterr.NotVerified, "node %d: left child not available", idx)
	}

	var combined [HashSize]byte
	if right < t.geo.NodeCount() {
		rightHash, err := t.getHashLocked(right)
		if err != nil {
			return [HashSize]byte{}, nbdterr.New(nbdterr.NotVerified, "node %d: right child not available", idx)
		}
		combined = HashInternal(leftHash, &rightHash)
	} else {
		combined = HashInternal(leftHash, nil)
	}

	if err := t.writeSlot(idx, combined); err != nil {
		return [HashSize]byte{}, err
	}
	t.bits.Set(uint(idx))
	return combined, nil
}

// RootHash is a convenience wrapper over GetHash(0).
func (t *Tree) RootHash() ([HashSize]byte, error) {
	return t.GetHash(0)
}

// FindMismatches compares leaf hashes pointwise against other over
// [startLeaf, endLeaf) and returns the indices that disagree. Both trees
// must share the same chunk_size and total_size.
func (t *Tree) FindMismatches(other *Tree, startLeaf, endLeaf int64) ([]int64, error) {
	if t.geo.ChunkSize() != other.geo.ChunkSize() || t.geo.TotalSize() != other.geo.TotalSize() {
		return nil, nbdterr.New(nbdterr.InvalidArgument, "trees have different shapes")
	}

	var mismatches []int64
	for i := startLeaf; i < endLeaf; i++ {
		a, errA := t.LeafHash(i)
		b, errB := other.LeafHash(i)
		if errA != nil || errB != nil {
			mismatches = append(mismatches, i)
			continue
		}
		if a != b {
			mismatches = append(mismatches, i)
		}
	}
	return mismatches, nil
}

// save forces any remaining lazily-computable parents, recomputes the
// tree-region digest, and persists a fresh footer and bitset.
func (t *Tree) save() error {
	if err := t.computeAllInternalsLocked(); err != nil {
		return err
	}
	bitsetSize := uint32((t.geo.NodeCount() + 7) / 8)
	if err := t.writeBitset(bitsetSize); err != nil {
		return err
	}
	return t.writeFooter(t.geo.ChunkSize(), t.geo.TotalSize(), bitsetSize)
}

func (t *Tree) writeBitset(_ uint32) error {
	buf := bitsetToBytes(t.bits, t.geo.NodeCount())
	regionSize := TreeRegionSize(t.geo.CapLeaf())
	if _, err := t.file.WriteAt(buf, regionSize); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "write validity bitset")
	}
	return nil
}

func (t *Tree) writeFooter(chunkSize, totalSize int64, bitsetSize uint32) error {
	regionSize := TreeRegionSize(t.geo.CapLeaf())
	region := make([]byte, regionSize)
	if _, err := t.file.ReadAt(region, 0); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "read tree region before footer write")
	}

	footer := Footer{
		ChunkSize:  chunkSize,
		TotalSize:  totalSize,
		BitsetSize: bitsetSize,
		TreeDigest: hashRegion(region),
	}
	offset := regionSize + int64(bitsetSize)
	if _, err := t.file.WriteAt(footer.Encode(), offset); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "write footer")
	}
	return nil
}

// Close forces any remaining lazy parent computations, flushes the footer
// and bitset, and releases the mapping. Close must never be followed by
// further operations on t.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	err := t.save()
	if syncErr := t.file.Sync(); syncErr != nil && err == nil {
		err = nbdterr.Wrap(nbdterr.Io, syncErr, "fsync merkle file")
	}
	if t.reader != nil {
		if cerr := t.reader.Close(); cerr != nil && err == nil {
			err = nbdterr.Wrap(nbdterr.Io, cerr, "close mmap reader")
		}
	}
	if cerr := t.file.Close(); cerr != nil && err == nil {
		err = nbdterr.Wrap(nbdterr.Io, cerr, "close merkle file")
	}
	return err
}

func hashRegion(region []byte) [HashSize]byte {
	return sha256.Sum256(region)
}

func bitsetToBytes(bs *bitset.BitSet, nodeCount int64) []byte {
	size := (nodeCount + 7) / 8
	buf := make([]byte, size)
	for i := int64(0); i < nodeCount; i++ {
		if bs.Test(uint(i)) {
			buf[i/8] |= 1 << uint(i%8)
		}
	}
	return buf
}

func bytesToBitset(data []byte, nodeCount int64) *bitset.BitSet {
	bs := bitset.New(uint(nodeCount))
	for i := int64(0); i < nodeCount; i++ {
		if data[i/8]&(1<<uint(i%8)) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs
}
