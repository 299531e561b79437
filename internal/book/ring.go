package book

import "liquidity_go/internal/domain"

// Ring is a fixed-capacity FIFO buffer of top-of-book entries. Once full,
// each push evicts the oldest entry. Not safe for concurrent use; the Store
// serializes access.
type Ring struct {
	buf   []domain.TopOfBook
	head  int
	count int
}

// NewRing creates a ring with the given capacity (minimum 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]domain.TopOfBook, capacity)}
}

// Push appends an entry, evicting the oldest when full.
func (r *Ring) Push(t domain.TopOfBook) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = t
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// Latest returns the most recent entry.
func (r *Ring) Latest() (domain.TopOfBook, bool) {
	if r.count == 0 {
		return domain.TopOfBook{}, false
	}
	idx := (r.head + r.count - 1) % len(r.buf)
	return r.buf[idx], true
}

// Recent returns up to n most recent entries in chronological order.
func (r *Ring) Recent(n int) []domain.TopOfBook {
	if n > r.count {
		n = r.count
	}
	out := make([]domain.TopOfBook, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring) Len() int { return r.count }

// Full reports whether the next push will evict.
func (r *Ring) Full() bool { return r.count == len(r.buf) }
