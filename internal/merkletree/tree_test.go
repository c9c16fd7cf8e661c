package merkletree

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/nosqlbench/nbdatatools-sub006/internal/geometry"
)

func randomData(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestBuildFromDataRootMatchesGetHash(t *testing.T) {
	dir := t.TempDir()
	data := randomData(5*geometry.MinChunkSize+123, 1)

	tr, err := BuildFromData(data, filepath.Join(dir, "ref.mrkl"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	root, err := tr.RootHash()
	if err != nil {
		t.Fatal(err)
	}
	if root == ([HashSize]byte{}) {
		t.Fatal("root hash should not be zero")
	}

	for i := int64(0); i < tr.Geometry().TotalChunks(); i++ {
		start, end, _ := tr.Geometry().ChunkBoundary(i)
		want := HashChunk(data[start:end])
		got, err := tr.LeafHash(i)
		if err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("leaf %d hash mismatch", i)
		}
	}
}

func TestBuildFromDataPaddingLeavesMatchIndependentComputation(t *testing.T) {
	dir := t.TempDir()
	// 3 chunks -> cap_leaf 4: leaf 3 is a padding leaf with no backing data.
	data := randomData(2*geometry.MinChunkSize+1, 7)

	tr, err := BuildFromData(data, filepath.Join(dir, "ref.mrkl"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if got := tr.Geometry().TotalChunks(); got != 3 {
		t.Fatalf("expected 3 chunks, got %d", got)
	}
	if got := tr.Geometry().CapLeaf(); got != 4 {
		t.Fatalf("expected cap_leaf 4, got %d", got)
	}

	leaf0hash, leaf1hash, leaf2hash := func() ([HashSize]byte, [HashSize]byte, [HashSize]byte) {
		var hs [3][HashSize]byte
		for i := 0; i < 3; i++ {
			start, end, err := tr.Geometry().ChunkBoundary(int64(i))
			if err != nil {
				t.Fatal(err)
			}
			hs[i] = HashChunk(data[start:end])
		}
		return hs[0], hs[1], hs[2]
	}()
	leaf3hash := EmptyLeafDigest()

	node1 := HashInternal(leaf0hash, &leaf1hash) // heap index 1: children of leaf 0 and 1
	node2 := HashInternal(leaf2hash, &leaf3hash) // heap index 2: children of leaf 2 and the padding leaf
	wantRoot := HashInternal(node1, &node2)

	gotRoot, err := tr.RootHash()
	if err != nil {
		t.Fatal(err)
	}
	if gotRoot != wantRoot {
		t.Fatalf("root hash does not match independently recomputed root:\n got  %x\n want %x", gotRoot, wantRoot)
	}

	gotPadding, err := tr.LeafHash(3)
	if err != nil {
		t.Fatalf("padding leaf should be valid: %v", err)
	}
	if gotPadding != leaf3hash {
		t.Fatal("padding leaf hash does not match EmptyLeafDigest")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.mrkl")
	data := randomData(3*geometry.MinChunkSize, 2)

	tr, err := BuildFromData(data, path)
	if err != nil {
		t.Fatal(err)
	}
	wantRoot, err := tr.RootHash()
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()

	gotRoot, err := loaded.RootHash()
	if err != nil {
		t.Fatal(err)
	}
	if gotRoot != wantRoot {
		t.Fatal("root hash changed across save/load round trip")
	}
	for i := int64(0); i < loaded.Geometry().TotalChunks(); i++ {
		if _, err := loaded.LeafHash(i); err != nil {
			t.Fatalf("leaf %d should be valid after load: %v", i, err)
		}
	}
}

func TestLoadRejectsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.mrkl")
	data := randomData(2*geometry.MinChunkSize, 3)

	tr, err := BuildFromData(data, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	flipOneByte(t, path, 0)

	if _, err := Load(path); err == nil {
		t.Fatal("expected load to reject a corrupted tree region")
	}
}

func TestSubmitChunkInvalidatesAncestors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.mrkl")

	tr, err := CreateEmpty(5*geometry.MinChunkSize, path)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	for i := int64(0); i < tr.Geometry().TotalChunks(); i++ {
		start, end, _ := tr.Geometry().ChunkBoundary(i)
		n := end - start
		if err := tr.SubmitChunk(i, randomData(int(n), 100+i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tr.ComputeAllInternals(); err != nil {
		t.Fatal(err)
	}
	before, err := tr.RootHash()
	if err != nil {
		t.Fatalf("root should be computable once all leaves are valid: %v", err)
	}

	// Resubmitting leaf 0 with different bytes must clear its ancestors'
	// bits, so the root is recomputed rather than served stale.
	start, end, _ := tr.Geometry().ChunkBoundary(0)
	if err := tr.SubmitChunk(0, randomData(int(end-start), 999)); err != nil {
		t.Fatal(err)
	}
	after, err := tr.RootHash()
	if err != nil {
		t.Fatal(err)
	}
	if after == before {
		t.Fatal("root hash unchanged after resubmitting leaf 0: ancestors were not invalidated")
	}
}

func TestSubmitChunkWrongSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.mrkl")
	tr, err := CreateEmpty(3*geometry.MinChunkSize, path)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if err := tr.SubmitChunk(0, []byte("too short")); err == nil {
		t.Fatal("expected InvalidArgument for wrong chunk size")
	}
}

func TestEmptyContentDegenerateTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.mrkl")
	tr, err := BuildFromData(nil, path)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if tr.Geometry().TotalChunks() != 0 {
		t.Fatalf("expected zero chunks for empty content")
	}
}

func TestFindMismatches(t *testing.T) {
	dir := t.TempDir()
	dataA := randomData(4*geometry.MinChunkSize, 10)
	dataB := append([]byte(nil), dataA...)
	// Corrupt chunk 2 in dataB.
	start := int64(2) * geometry.MinChunkSize
	dataB[start] ^= 0xff

	treeA, err := BuildFromData(dataA, filepath.Join(dir, "a.mrkl"))
	if err != nil {
		t.Fatal(err)
	}
	defer treeA.Close()
	treeB, err := BuildFromData(dataB, filepath.Join(dir, "b.mrkl"))
	if err != nil {
		t.Fatal(err)
	}
	defer treeB.Close()

	mismatches, err := treeA.FindMismatches(treeB, 0, treeA.Geometry().TotalChunks())
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 1 || mismatches[0] != 2 {
		t.Fatalf("expected mismatch at chunk 2 only, got %v", mismatches)
	}
}

func flipOneByte(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, offset); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 0xff
	if _, err := f.WriteAt(b, offset); err != nil {
		t.Fatal(err)
	}
}
