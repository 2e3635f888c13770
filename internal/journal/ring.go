package journal

import "sync"

// DefaultRingSize is used when a non-positive size is requested.
const DefaultRingSize = 512

// Ring is a fixed-size circular buffer of entries, safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []Entry
	head  int // next write position
	count int
}

// NewRing returns a ring holding up to size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{buf: make([]Entry, size)}
}

// Push adds e, evicting the oldest entry when full.
func (r *Ring) Push(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Last returns up to n of the newest entries, oldest first.
func (r *Ring) Last(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return []Entry{}
	}
	out := make([]Entry, n)
	size := len(r.buf)
	start := (r.head - n + size) % size
	for i := range out {
		out[i] = r.buf[(start+i)%size]
	}
	return out
}

// Len is the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Stats counts buffered entries by kind.
func (r *Ring) Stats() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[Kind]int)
	size := len(r.buf)
	start := (r.head - r.count + size) % size
	for i := 0; i < r.count; i++ {
		counts[r.buf[(start+i)%size].Kind]++
	}
	return counts
}
