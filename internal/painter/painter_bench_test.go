package painter

import (
	"testing"
)

func BenchmarkFutureTable(b *testing.B) {
	b.Run("AcquireComplete", func(b *testing.B) {
		ft := newFutureTable()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			idx := int64(i % 4096)
			owned, _ := ft.acquire([]int64{idx})
			for _, o := range owned {
				ft.complete(o, nil)
			}
		}
	})
}

func BenchmarkContiguousRuns(b *testing.B) {
	idxs := make([]int64, 0, 4096)
	for i := int64(0); i < 4096; i++ {
		if i%7 != 0 { // leave gaps so runs are realistic, not one giant run
			idxs = append(idxs, i)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = contiguousRuns(idxs)
	}
}

func BenchmarkDedupeCache(b *testing.B) {
	d := newDedupeCache()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	var digest [32]byte
	d.remember(data, digest)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := d.lookup(data); !ok {
			b.Fatal("expected cache hit")
		}
	}
}
