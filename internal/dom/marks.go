package dom

import (
	"hash/fnv"
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// Marks remembers which units were already classified, keyed weakly by
// their parent node. A detached node that is garbage collected drops its
// entry through a cleanup, so long-lived pages do not accumulate entries.
//
// The event loop is the only reader and writer; the mutex exists because
// cleanups run on the runtime's cleanup goroutine.
type Marks struct {
	mu      sync.Mutex
	entries map[weak.Pointer[html.Node]]uint64
	epoch   uint64
}

// NewMarks returns an empty set.
func NewMarks() *Marks {
	return &Marks{entries: make(map[weak.Pointer[html.Node]]uint64)}
}

type marksKey struct {
	ptr   weak.Pointer[html.Node]
	epoch uint64
}

// Seen reports whether n was marked with the same text.
func (m *Marks) Seen(n *html.Node, text string) bool {
	k := weak.Make(n)
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.entries[k]
	return ok && h == HashText(text)
}

// Mark records text as processed for n.
func (m *Marks) Mark(n *html.Node, text string) {
	k := weak.Make(n)
	m.mu.Lock()
	_, existed := m.entries[k]
	m.entries[k] = HashText(text)
	epoch := m.epoch
	m.mu.Unlock()
	if !existed {
		runtime.AddCleanup(n, m.drop, marksKey{ptr: k, epoch: epoch})
	}
}

// Forget removes n's entry.
func (m *Marks) Forget(n *html.Node) {
	m.mu.Lock()
	delete(m.entries, weak.Make(n))
	m.mu.Unlock()
}

// Reset clears every entry. Cleanups registered before the reset become
// no-ops for entries re-added afterwards.
func (m *Marks) Reset() {
	m.mu.Lock()
	clear(m.entries)
	m.epoch++
	m.mu.Unlock()
}

// Len returns the number of live entries.
func (m *Marks) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Marks) drop(k marksKey) {
	m.mu.Lock()
	if k.epoch == m.epoch {
		delete(m.entries, k.ptr)
	}
	m.mu.Unlock()
}

// HashText is the FNV-1a hash stored per node.
func HashText(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
