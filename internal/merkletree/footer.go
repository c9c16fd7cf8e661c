package merkletree

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
)

// HashSize is the width of every stored digest (SHA-256).
const HashSize = 32

// magic identifies the persisted Merkle file format.
var magic = [4]byte{'N', 'B', 'M', 'T'}

// formatVersion gates forward compatibility of the footer layout.
const formatVersion = 1

// FooterSize is the fixed size of the trailer in bytes:
// magic(4) + version(1) + chunk_size(8) + total_size(8) + bitset_size(4) +
// digest(32) + footer_length(1).
const FooterSize = 4 + 1 + 8 + 8 + 4 + 32 + 1

// Footer is the fixed-layout trailer of a persisted Merkle file. All
// multi-byte scalars are big-endian.
type Footer struct {
	ChunkSize   int64
	TotalSize   int64
	BitsetSize  uint32
	TreeDigest  [HashSize]byte
}

// Encode serializes f into its canonical 58-byte representation.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	copy(buf[0:4], magic[:])
	buf[4] = formatVersion
	binary.BigEndian.PutUint64(buf[5:13], uint64(f.ChunkSize))
	binary.BigEndian.PutUint64(buf[13:21], uint64(f.TotalSize))
	binary.BigEndian.PutUint32(buf[21:25], f.BitsetSize)
	copy(buf[25:57], f.TreeDigest[:])
	buf[57] = byte(FooterSize)
	return buf
}

// DecodeFooter parses a footer from its canonical byte representation,
// validating the magic, version, and that the length byte agrees with the
// layout this code understands.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, nbdterr.New(nbdterr.Corrupt, "footer has %d bytes, want %d", len(buf), FooterSize)
	}
	if !bytes.Equal(buf[0:4], magic[:]) {
		return Footer{}, nbdterr.New(nbdterr.Corrupt, "bad magic %x", buf[0:4])
	}
	if buf[4] != formatVersion {
		return Footer{}, nbdterr.New(nbdterr.Corrupt, "unsupported footer version %d", buf[4])
	}
	if buf[57] != byte(FooterSize) {
		return Footer{}, nbdterr.New(nbdterr.Corrupt, "footer_length byte %d disagrees with known layout %d", buf[57], FooterSize)
	}

	var f Footer
	f.ChunkSize = int64(binary.BigEndian.Uint64(buf[5:13]))
	f.TotalSize = int64(binary.BigEndian.Uint64(buf[13:21]))
	f.BitsetSize = binary.BigEndian.Uint32(buf[21:25])
	copy(f.TreeDigest[:], buf[25:57])
	return f, nil
}

// Equal reports whether two footers are byte-equal across every scalar and
// the tree digest.
func (f Footer) Equal(other Footer) bool {
	return f.ChunkSize == other.ChunkSize &&
		f.TotalSize == other.TotalSize &&
		f.BitsetSize == other.BitsetSize &&
		f.TreeDigest == other.TreeDigest
}

// ReadFooterFromFile reads and decodes the trailing footer of a local file
// via a tail read of FooterSize bytes, as described by the "footer length
// sits at the last byte" probe strategy.
func ReadFooterFromFile(path string) (Footer, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Footer{}, nbdterr.Wrap(nbdterr.Io, err, "open %s", path)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return Footer{}, nbdterr.Wrap(nbdterr.Io, err, "stat %s", path)
	}
	if info.Size() < FooterSize {
		return Footer{}, nbdterr.New(nbdterr.Corrupt, "file %s too small (%d bytes) for a footer", path, info.Size())
	}

	buf := make([]byte, FooterSize)
	if _, err := fh.ReadAt(buf, info.Size()-FooterSize); err != nil && err != io.EOF {
		return Footer{}, nbdterr.Wrap(nbdterr.Io, err, "read footer tail of %s", path)
	}
	return DecodeFooter(buf)
}

// TreeRegionSize returns the byte length of the leaves+internals region for
// a given cap_leaf, i.e. (2*capLeaf-1) * HashSize.
func TreeRegionSize(capLeaf int64) int64 {
	return (2*capLeaf - 1) * HashSize
}

// FileSize returns the total expected size of a persisted Merkle file for
// the given shape and bitset size.
func FileSize(capLeaf int64, bitsetSize uint32) int64 {
	return TreeRegionSize(capLeaf) + int64(bitsetSize) + FooterSize
}

