package painter

import (
	"sync"

	"github.com/nosqlbench/nbdatatools-sub006/internal/cas"
	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
)

// dedupeCache short-circuits re-verifying byte-identical chunk content that
// recurs at different chunk indices within one painter's lifetime, which is
// common in vector datasets with zero-padding or repeated embeddings.
// Content is fingerprinted with BLAKE3 (cas.SumB3), cheaper than the
// SHA-256 the reference tree is keyed on, and the first SHA-256 computed
// for a given fingerprint is reused on later sightings rather than
// recomputed.
type dedupeCache struct {
	mu    sync.Mutex
	store *cas.MemoryCAS
	sha   map[cas.Hash][merkletree.HashSize]byte
}

func newDedupeCache() *dedupeCache {
	return &dedupeCache{
		store: cas.NewMemoryCAS(),
		sha:   make(map[cas.Hash][merkletree.HashSize]byte),
	}
}

// lookup returns the cached SHA-256 digest for data's content fingerprint,
// if this exact byte sequence was verified earlier in the session.
func (d *dedupeCache) lookup(data []byte) ([merkletree.HashSize]byte, bool) {
	key := cas.SumB3(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	if has, _ := d.store.Has(key); !has {
		return [merkletree.HashSize]byte{}, false
	}
	sum, ok := d.sha[key]
	return sum, ok
}

// remember records data's BLAKE3 fingerprint alongside the SHA-256 digest
// already computed for it, for future lookups.
func (d *dedupeCache) remember(data []byte, sha [merkletree.HashSize]byte) {
	key := cas.SumB3(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store.Put(key, data); err != nil {
		return
	}
	d.sha[key] = sha
}
