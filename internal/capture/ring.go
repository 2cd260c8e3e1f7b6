package capture

import (
	"fmt"
	"sync"
)

type slot struct {
	index   int
	data    []byte
	used    int
	stamp   Timestamp
	holders map[uint64]struct{}
}

// Ring is a fixed pool of frame buffers kept in recency order, newest
// first. The capture loop recycles the oldest buffer nobody is reading;
// readers pin buffers with LockNewest and unpin them with Release.
//
// A buffer is never written while a view of it is held. Holding views
// indefinitely stalls capture once every buffer but one is pinned.
type Ring struct {
	mu        sync.Mutex
	slots     []*slot
	order     []*slot // front is newest; a slot being written is absent
	size      int
	nextLease uint64
	locked    int
	updated   chan struct{}
	released  chan struct{}

	onLocked func(n int)
}

// View is a read-only lease on one buffer. Data must not be modified and
// must not be used after the view is released.
type View struct {
	Timestamp Timestamp
	Data      []byte

	ring  *Ring
	slot  *slot
	lease uint64
}

// Index identifies the buffer the view refers to.
func (v View) Index() int {
	if v.slot == nil {
		return -1
	}
	return v.slot.index
}

func newRing(count, size int) *Ring {
	r := &Ring{
		slots:    make([]*slot, count),
		order:    make([]*slot, 0, count),
		size:     size,
		updated:  make(chan struct{}),
		released: make(chan struct{}),
	}
	for i := range r.slots {
		s := &slot{
			index:   i,
			data:    make([]byte, size),
			stamp:   NeverWritten,
			holders: make(map[uint64]struct{}),
		}
		r.slots[i] = s
		r.order = append(r.order, s)
	}
	return r
}

// Len returns the number of buffers in the pool.
func (r *Ring) Len() int {
	return len(r.slots)
}

// BufferSize returns the capacity of each buffer in bytes.
func (r *Ring) BufferSize() int {
	return r.size
}

// Locked returns how many buffers are held by at least one view.
func (r *Ring) Locked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// LockNewest pins the n newest buffers and returns views of them, newest
// first. n must satisfy 1 <= n < Len(); other values panic. Buffers that
// have not received a frame yet carry NeverWritten and empty Data.
func (r *Ring) LockNewest(n int) []View {
	if n < 1 || n >= len(r.slots) {
		panic(fmt.Sprintf("capture: LockNewest(%d) outside [1, %d)", n, len(r.slots)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// At most one slot is detached for writing, so n < Len slots are
	// always in order.
	views := make([]View, n)
	for i, s := range r.order[:n] {
		r.nextLease++
		if len(s.holders) == 0 {
			r.locked++
		}
		s.holders[r.nextLease] = struct{}{}
		views[i] = View{
			Timestamp: s.stamp,
			Data:      s.data[:s.used:s.used],
			ring:      r,
			slot:      s,
			lease:     r.nextLease,
		}
	}
	r.notifyLocked()
	return views
}

// Release unpins exactly the given views. Releasing a view that is not
// held, including a second release of the same view or a view from
// another ring, panics.
func (r *Ring) Release(views []View) {
	if len(views) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint64]struct{}, len(views))
	for _, v := range views {
		if v.ring != r || v.slot == nil {
			panic("capture: release of a view not obtained from this ring")
		}
		if _, held := v.slot.holders[v.lease]; !held {
			panic(fmt.Sprintf("capture: release of buffer %d which is not held by this view", v.slot.index))
		}
		if _, dup := seen[v.lease]; dup {
			panic(fmt.Sprintf("capture: buffer %d released twice", v.slot.index))
		}
		seen[v.lease] = struct{}{}
	}

	freed := false
	for _, v := range views {
		delete(v.slot.holders, v.lease)
		if len(v.slot.holders) == 0 {
			r.locked--
			freed = true
		}
	}
	r.notifyLocked()
	if freed {
		close(r.released)
		r.released = make(chan struct{})
	}
}

// ReadNewest runs fn with views of the n newest buffers and releases them
// when fn returns, even if it panics.
func (r *Ring) ReadNewest(n int, fn func([]View)) {
	views := r.LockNewest(n)
	defer r.Release(views)
	fn(views)
}

// CountNewerThan returns how many buffers, scanning from the newest, carry
// a timestamp strictly after t. The result is advisory: capture may insert
// newer frames before the caller acts on it.
func (r *Ring) CountNewerThan(t Timestamp) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.order {
		if s.stamp <= t {
			break
		}
		n++
	}
	return n
}

// Updated returns a channel that is closed when the next frame is inserted.
func (r *Ring) Updated() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updated
}

// takeOldestWritable detaches the oldest buffer if nobody holds it. When
// it does not, it returns nil and a channel closed on the next release
// that frees a buffer.
func (r *Ring) takeOldestWritable() (*slot, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := len(r.order) - 1
	back := r.order[last]
	if len(back.holders) > 0 {
		return nil, r.released
	}
	r.order[last] = nil
	r.order = r.order[:last]
	return back, nil
}

// insertNewest re-attaches a detached buffer at the front with its new
// contents.
func (r *Ring) insertNewest(s *slot, stamp Timestamp, used int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.stamp = stamp
	s.used = used
	r.order = append(r.order, nil)
	copy(r.order[1:], r.order)
	r.order[0] = s

	close(r.updated)
	r.updated = make(chan struct{})
}

// putBack re-attaches a detached buffer at the back, untouched.
func (r *Ring) putBack(s *slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

func (r *Ring) notifyLocked() {
	if r.onLocked != nil {
		r.onLocked(r.locked)
	}
}
