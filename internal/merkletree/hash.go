package merkletree

import "crypto/sha256"

// emptyByte is hashed in place of a zero-length buffer so that "no data" and
// "absent" never collide under SHA-256(nil) == SHA-256([]byte{}).
var emptyByte = []byte{0x00}

// HashChunk computes the empty-normalized SHA-256 digest of a chunk's bytes.
// Every code path that computes a leaf hash must go through this function.
func HashChunk(data []byte) [HashSize]byte {
	if len(data) == 0 {
		return sha256.Sum256(emptyByte)
	}
	return sha256.Sum256(data)
}

// HashInternal computes the digest of an internal node from its children.
// If only a left child exists, only the left is hashed.
func HashInternal(left [HashSize]byte, right *[HashSize]byte) [HashSize]byte {
	if right == nil {
		return sha256.Sum256(left[:])
	}
	buf := make([]byte, 0, 2*HashSize)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// EmptyLeafDigest is the defined digest of a padding leaf (a leaf beyond
// leaf_count in the complete binary tree).
func EmptyLeafDigest() [HashSize]byte {
	return HashChunk(nil)
}
