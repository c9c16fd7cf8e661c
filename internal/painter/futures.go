package painter

import "sync"

// future is the terminal state of one chunk index's in-flight fetch.
type future struct {
	done chan struct{}
	err  error
}

func (f *future) wait() error {
	<-f.done
	return f.err
}

// futureTable is the chunk-level in-flight fetch registry of spec.md §4.5
// step 5: at most one fetch owns any given chunk index at a time. A second
// caller needing the same index joins the existing future instead of
// re-issuing a fetch.
type futureTable struct {
	mu sync.Mutex
	m  map[int64]*future
}

func newFutureTable() *futureTable {
	return &futureTable{m: make(map[int64]*future)}
}

// acquire partitions idxs into chunks this caller now owns (and must
// eventually complete via complete()) and futures for chunks some other
// caller already owns.
func (t *futureTable) acquire(idxs []int64) (owned []int64, joined []*future) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, idx := range idxs {
		if f, ok := t.m[idx]; ok {
			joined = append(joined, f)
			continue
		}
		f := &future{done: make(chan struct{})}
		t.m[idx] = f
		owned = append(owned, idx)
	}
	return owned, joined
}

// complete resolves the future for idx, waking any joined waiters, and
// removes it from the table.
func (t *futureTable) complete(idx int64, err error) {
	t.mu.Lock()
	f, ok := t.m[idx]
	delete(t.m, idx)
	t.mu.Unlock()
	if !ok {
		return
	}
	f.err = err
	close(f.done)
}
