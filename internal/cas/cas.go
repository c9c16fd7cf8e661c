// Package cas provides an in-memory content-addressed store and BLAKE3 hashing utilities.
package cas

import (
	"encoding/hex"
	"fmt"
	"sync"

	"lukechampine.com/blake3"
)

// Hash represents a BLAKE3-256 hash value.
type Hash [32]byte

// String returns the hexadecimal representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// SumB3 computes the BLAKE3 hash of the given data.
func SumB3(data []byte) Hash {
	return blake3.Sum256(data)
}

// MemoryCAS is an in-memory, hash-verified content store: data can only be
// put in keyed by its own hash, and membership can be checked cheaply
// without copying the stored bytes back out. It has no Get because its one
// caller, the painter's dedupe cache, only ever needs the cheaper
// Put-then-Has shape, not full content retrieval.
type MemoryCAS struct {
	mu   sync.RWMutex
	seen map[Hash]struct{}
}

// NewMemoryCAS creates a new in-memory CAS.
func NewMemoryCAS() *MemoryCAS {
	return &MemoryCAS{
		seen: make(map[Hash]struct{}),
	}
}

// Put records hash as stored, rejecting a mismatched hash/content pair.
// The content itself is not retained: the only caller needs membership, not
// retrieval, so there's nothing to copy or hold onto past the hash check.
func (m *MemoryCAS) Put(hash Hash, data []byte) error {
	computed := SumB3(data)
	if computed != hash {
		return fmt.Errorf("hash mismatch: expected %s, got %s", hash, computed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[hash] = struct{}{}

	return nil
}

// Has reports whether data for hash has already been stored.
func (m *MemoryCAS) Has(hash Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.seen[hash]
	return exists, nil
}