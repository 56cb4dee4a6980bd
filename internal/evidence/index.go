package evidence

import (
	"sort"
	"sync"
)

// index maps a key to the ascending sequence numbers filed under it
type index struct {
	mu   sync.RWMutex
	keys map[string][]uint64
}

func newIndex() *index {
	return &index{keys: make(map[string][]uint64)}
}

// add files seq under key, keeping the list sorted. Appends complete out of
// order, so this is an insertion rather than a push.
func (ix *index) add(key string, seq uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ids := ix.keys[key]
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= seq })
	if i < len(ids) && ids[i] == seq {
		return
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = seq
	ix.keys[key] = ids
}

// upTo returns the ids under key that are <= limit
func (ix *index) upTo(key string, limit uint64) []uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := ix.keys[key]
	n := sort.Search(len(ids), func(i int) bool { return ids[i] > limit })
	return append([]uint64(nil), ids[:n]...)
}

// keysList returns all keys in sorted order
func (ix *index) keysList() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.keys))
	for k := range ix.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
