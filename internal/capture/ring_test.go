package capture

import (
	"sync"
	"testing"
	"time"
)

// fill writes one frame into the oldest writable buffer.
func fill(t *testing.T, r *Ring, stamp Timestamp, b byte) {
	t.Helper()
	s, _ := r.takeOldestWritable()
	if s == nil {
		t.Fatalf("no writable buffer for stamp %d", stamp)
	}
	for i := range s.data {
		s.data[i] = b
	}
	r.insertNewest(s, stamp, len(s.data))
}

func TestNewRing(t *testing.T) {
	r := newRing(4, 16)

	if r.Len() != 4 {
		t.Errorf("Expected 4 buffers, got %d", r.Len())
	}
	if r.BufferSize() != 16 {
		t.Errorf("Expected buffer size 16, got %d", r.BufferSize())
	}
	if r.Locked() != 0 {
		t.Errorf("Expected no locked buffers, got %d", r.Locked())
	}
	if n := r.CountNewerThan(NeverWritten); n != 0 {
		t.Errorf("Expected no written buffers, got %d", n)
	}

	views := r.LockNewest(3)
	defer r.Release(views)
	for i, v := range views {
		if v.Timestamp.Written() {
			t.Errorf("view %d: expected NeverWritten, got %d", i, v.Timestamp)
		}
		if len(v.Data) != 0 {
			t.Errorf("view %d: expected empty data, got %d bytes", i, len(v.Data))
		}
	}
}

func TestLockNewestOutOfRangePanics(t *testing.T) {
	r := newRing(3, 8)
	for _, n := range []int{-1, 0, 3, 4} {
		mustPanic(t, "LockNewest", func() { r.LockNewest(n) })
	}
	if r.Locked() != 0 {
		t.Errorf("Expected no locked buffers after rejected calls, got %d", r.Locked())
	}
}

func TestLockNewestOrder(t *testing.T) {
	r := newRing(3, 8)
	fill(t, r, 10, 1)
	fill(t, r, 20, 2)
	fill(t, r, 30, 3)

	views := r.LockNewest(2)
	defer r.Release(views)

	if views[0].Timestamp != 30 || views[1].Timestamp != 20 {
		t.Errorf("Expected newest first [30 20], got [%d %d]", views[0].Timestamp, views[1].Timestamp)
	}
	if views[0].Data[0] != 3 || len(views[0].Data) != 8 {
		t.Errorf("Unexpected data in newest view: %v", views[0].Data)
	}
}

func TestCountNewerThan(t *testing.T) {
	r := newRing(3, 8)
	fill(t, r, 10, 1)
	fill(t, r, 20, 2)

	tests := []struct {
		t    Timestamp
		want int
	}{
		{NeverWritten, 2},
		{5, 2},
		{10, 1},
		{15, 1},
		{20, 0},
		{99, 0},
	}
	prev := r.Len()
	for _, tt := range tests {
		got := r.CountNewerThan(tt.t)
		if got != tt.want {
			t.Errorf("CountNewerThan(%d) = %d, want %d", tt.t, got, tt.want)
		}
		if got > prev {
			t.Errorf("CountNewerThan increased from %d to %d at %d", prev, got, tt.t)
		}
		prev = got
	}
}

func TestTakeOldestWritableSkipsHeldBuffer(t *testing.T) {
	r := newRing(2, 8)
	fill(t, r, 1, 1)
	fill(t, r, 2, 2)

	// Pin the newest frame, then push it to the back.
	held := r.LockNewest(1)
	fill(t, r, 3, 3)

	s, released := r.takeOldestWritable()
	if s != nil {
		t.Fatalf("Expected no writable buffer while the oldest is held, got buffer %d", s.index)
	}

	r.Release(held)
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("release notification not delivered")
	}

	s, _ = r.takeOldestWritable()
	if s == nil {
		t.Fatal("Expected a writable buffer after release")
	}
	if s.index != held[0].Index() {
		t.Errorf("Expected buffer %d, got %d", held[0].Index(), s.index)
	}
	r.putBack(s)
}

func TestPutBackLeavesBufferUntouched(t *testing.T) {
	r := newRing(3, 8)
	fill(t, r, 10, 1)
	fill(t, r, 20, 2)

	s, _ := r.takeOldestWritable()
	r.putBack(s)

	if n := r.CountNewerThan(NeverWritten); n != 2 {
		t.Errorf("Expected 2 written buffers, got %d", n)
	}
	views := r.LockNewest(2)
	defer r.Release(views)
	if views[0].Timestamp != 20 || views[1].Timestamp != 10 {
		t.Errorf("Order changed by putBack: [%d %d]", views[0].Timestamp, views[1].Timestamp)
	}
}

func TestReleaseRestoresReaderCounts(t *testing.T) {
	r := newRing(4, 8)
	fill(t, r, 1, 1)
	fill(t, r, 2, 2)

	a := r.LockNewest(2)
	b := r.LockNewest(1)
	if r.Locked() != 2 {
		t.Errorf("Expected 2 locked buffers, got %d", r.Locked())
	}

	r.Release(a)
	if r.Locked() != 1 {
		t.Errorf("Expected shared buffer to stay locked, got %d locked", r.Locked())
	}
	r.Release(b)
	if r.Locked() != 0 {
		t.Errorf("Expected no locked buffers, got %d", r.Locked())
	}
	for _, s := range r.slots {
		if len(s.holders) != 0 {
			t.Errorf("buffer %d still has %d holders", s.index, len(s.holders))
		}
	}
}

func TestReleaseRejectsInvalidViews(t *testing.T) {
	r := newRing(3, 8)
	other := newRing(3, 8)

	mustPanic(t, "double release", func() {
		v := r.LockNewest(1)
		r.Release(v)
		r.Release(v)
	})
	mustPanic(t, "duplicate in one call", func() {
		v := r.LockNewest(1)
		r.Release([]View{v[0], v[0]})
	})
	mustPanic(t, "foreign view", func() {
		v := other.LockNewest(1)
		r.Release(v)
	})
	mustPanic(t, "zero view", func() {
		r.Release([]View{{}})
	})
}

func TestRejectedReleaseChangesNothing(t *testing.T) {
	r := newRing(3, 8)
	v := r.LockNewest(2)
	stale := r.LockNewest(1)
	r.Release(stale)

	mustPanic(t, "mixed release", func() {
		r.Release([]View{v[0], stale[0]})
	})
	if r.Locked() != 2 {
		t.Errorf("Expected 2 locked buffers after rejected release, got %d", r.Locked())
	}
	r.Release(v)
}

func TestReadNewestReleasesOnPanic(t *testing.T) {
	r := newRing(3, 8)
	mustPanic(t, "ReadNewest", func() {
		r.ReadNewest(2, func([]View) { panic("boom") })
	})
	if r.Locked() != 0 {
		t.Errorf("Expected views released after panic, got %d locked", r.Locked())
	}
}

func TestUpdatedClosedOnInsert(t *testing.T) {
	r := newRing(2, 8)
	updated := r.Updated()

	select {
	case <-updated:
		t.Fatal("Updated closed before any insert")
	default:
	}

	fill(t, r, 1, 1)
	select {
	case <-updated:
	default:
		t.Fatal("Updated not closed after insert")
	}
	if r.Updated() == updated {
		t.Error("Expected a fresh channel after insert")
	}
}

func TestOnLockedReportsCount(t *testing.T) {
	r := newRing(3, 8)
	var got []int
	r.onLocked = func(n int) { got = append(got, n) }

	v := r.LockNewest(2)
	r.Release(v)

	if len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Errorf("Expected locked counts [2 0], got %v", got)
	}
}

func TestConcurrentLockRelease(t *testing.T) {
	r := newRing(4, 64)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		stamp := Timestamp(0)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s, _ := r.takeOldestWritable()
			if s == nil {
				continue
			}
			stamp++
			for i := range s.data {
				s.data[i] = byte(stamp)
			}
			r.insertNewest(s, stamp, len(s.data))
		}
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				views := r.LockNewest(n)
				for _, v := range views {
					for _, b := range v.Data {
						if b != byte(v.Timestamp) {
							t.Errorf("buffer %d overwritten while held", v.Index())
							break
						}
					}
				}
				for j := 1; j < len(views); j++ {
					if views[j].Timestamp.Written() && views[j].Timestamp >= views[j-1].Timestamp {
						t.Errorf("views not newest first: %d then %d", views[j-1].Timestamp, views[j].Timestamp)
					}
				}
				r.Release(views)
			}
		}(w%3 + 1)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	if r.Locked() != 0 {
		t.Errorf("Expected no locked buffers, got %d", r.Locked())
	}
}
