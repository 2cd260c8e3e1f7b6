package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/videocapture/internal/events"
	"github.com/smazurov/videocapture/internal/metrics"
	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

func TestCaptureOneSecond(t *testing.T) {
	tests := []struct {
		buffers  int
		minNewer int
	}{
		{buffers: 2, minNewer: 2},
		{buffers: 32, minNewer: 20},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d buffers", tt.buffers), func(t *testing.T) {
			f := newFakeDriver()
			d := openFake(t, f, func(c *Config) {
				c.Width, c.Height = 352, 288
				c.PixelFormat = v4l2.PixFmtRGB24
				c.BufferCount = tt.buffers
			})
			if d.BufferSize() < 352*288*3 {
				t.Fatalf("Expected buffer size >= %d, got %d", 352*288*3, d.BufferSize())
			}

			opened := d.Now()
			if err := d.StartCapturing(); err != nil {
				t.Fatalf("StartCapturing failed: %v", err)
			}
			time.Sleep(time.Second)
			d.StopCapturing()

			if n := d.CountNewerThan(opened); n < tt.minNewer {
				t.Errorf("Expected at least %d frames newer than open, got %d", tt.minNewer, n)
			}
			m := metrics.GetDeviceMetrics(d.Path())
			if m == nil || m.Frames < 20 {
				t.Errorf("Expected at least 20 frames captured, got %+v", m)
			}
		})
	}
}

func TestCaptureOnceNoDataPutsBufferBack(t *testing.T) {
	f := newFakeDriver()
	d := openFake(t, f, func(c *Config) { c.BufferCount = 3 })
	f.eagainN = 1

	if err := d.captureOnce(context.Background()); err != nil {
		t.Fatalf("captureOnce failed: %v", err)
	}
	if n := d.CountNewerThan(NeverWritten); n != 0 {
		t.Errorf("Expected no frames after EAGAIN, got %d", n)
	}
	if len(d.ring.order) != d.ring.Len() {
		t.Errorf("Expected buffer returned to the ring, %d of %d present", len(d.ring.order), d.ring.Len())
	}
	if m := metrics.GetDeviceMetrics(d.Path()); m == nil || m.Skipped != 1 {
		t.Errorf("Expected one skipped iteration, got %+v", m)
	}

	before := d.Now()
	if err := d.captureOnce(context.Background()); err != nil {
		t.Fatalf("captureOnce failed: %v", err)
	}
	if n := d.CountNewerThan(before); n != 1 {
		t.Errorf("Expected one new frame, got %d", n)
	}
	views := d.LockNewest(1)
	defer d.Release(views)
	if len(views[0].Data) != d.BufferSize() {
		t.Errorf("Expected %d bytes, got %d", d.BufferSize(), len(views[0].Data))
	}
}

func TestHeldBuffersAreNotOverwritten(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	d := openFake(t, f, func(c *Config) {
		c.Width, c.Height = 32, 32
		c.BufferCount = 3
	})

	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}
	defer d.StopCapturing()
	waitFor(t, "ring to fill", func() bool { return d.CountNewerThan(NeverWritten) == 3 })

	a := d.LockNewest(2)
	b := d.LockNewest(1)
	snapshots := make([][]byte, len(a))
	for i, v := range a {
		snapshots[i] = bytes.Clone(v.Data)
	}

	waitFor(t, "loop to stall", func() bool {
		m := metrics.GetDeviceMetrics(d.Path())
		return m != nil && m.Skipped > 0 && d.CountNewerThan(a[0].Timestamp) >= 1
	})
	time.Sleep(50 * time.Millisecond)

	for i, v := range a {
		if !bytes.Equal(v.Data, snapshots[i]) {
			t.Errorf("held buffer %d was overwritten", v.Index())
		}
	}
	if !bytes.Equal(b[0].Data, a[0].Data) {
		t.Error("shared view differs from its buffer")
	}

	newest := d.LockNewest(1)
	stalled := newest[0].Timestamp
	d.Release(newest)

	d.Release(a)
	d.Release(b)
	waitFor(t, "capture to resume", func() bool { return d.CountNewerThan(stalled) > 0 })
}

func TestLockReleaseUnderCapture(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	d := openFake(t, f, func(c *Config) {
		c.Width, c.Height = 16, 16
		c.BufferCount = 4
	})

	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				since := d.Now() - Timestamp(10*time.Millisecond)
				// The ring may have grown between the two calls.
				n := min(max(d.CountNewerThan(since), 1), d.Ring().Len()-1)
				views := d.LockNewest(n)
				if len(views) != n {
					t.Errorf("Expected %d views, got %d", n, len(views))
				}
				d.Release(views)
			}
		}()
	}
	wg.Wait()
	d.StopCapturing()

	if d.Ring().Locked() != 0 {
		t.Errorf("Expected no locked buffers, got %d", d.Ring().Locked())
	}
	for _, s := range d.ring.slots {
		if len(s.holders) != 0 {
			t.Errorf("buffer %d has %d holders", s.index, len(s.holders))
		}
	}
	if f.overlap.Load() {
		t.Error("driver requests overlapped")
	}
}

func TestStopStartRepeatable(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	d := openFake(t, f, func(c *Config) { c.Width, c.Height = 16, 16 })

	baseline := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		reads := f.readCount()
		if err := d.StartCapturing(); err != nil {
			t.Fatalf("StartCapturing #%d failed: %v", i, err)
		}
		if err := d.StartCapturing(); err != nil {
			t.Fatalf("second StartCapturing #%d failed: %v", i, err)
		}
		if !d.IsCapturing() {
			t.Fatalf("iteration %d: expected capturing", i)
		}
		waitFor(t, "a frame", func() bool { return f.readCount() > reads })
		d.StopCapturing()
		if d.IsCapturing() {
			t.Fatalf("iteration %d: expected stopped", i)
		}
	}
	d.StopCapturing()

	time.Sleep(10 * time.Millisecond)
	if n := runtime.NumGoroutine(); n > baseline+1 {
		t.Errorf("Goroutines grew from %d to %d", baseline, n)
	}
	if d.Ring().Len() != DefaultBufferCount {
		t.Errorf("Expected %d buffers, got %d", DefaultBufferCount, d.Ring().Len())
	}
}

func TestPauseCapturing(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	d := openFake(t, f, func(c *Config) { c.Width, c.Height = 16, 16 })

	d.PauseCapturing(true)
	if d.CaptureState() != LoopStopped {
		t.Errorf("Pause while stopped should be ignored, got %s", d.CaptureState())
	}

	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}
	defer d.StopCapturing()

	d.PauseCapturing(true)
	if d.CaptureState() != LoopPaused {
		t.Fatalf("Expected paused, got %s", d.CaptureState())
	}
	d.PauseCapturing(true)
	if d.CaptureState() != LoopPaused {
		t.Errorf("Second pause changed state to %s", d.CaptureState())
	}

	reads := f.readCount()
	time.Sleep(30 * time.Millisecond)
	if f.readCount() != reads {
		t.Errorf("Reads continued while paused: %d -> %d", reads, f.readCount())
	}

	// Control requests go through while the loop is parked.
	if err := d.SetControl(v4l2.CIDBrightness, 200); err != nil {
		t.Fatalf("SetControl failed: %v", err)
	}

	d.PauseCapturing(false)
	d.PauseCapturing(false)
	if d.CaptureState() != LoopRunning {
		t.Errorf("Expected running, got %s", d.CaptureState())
	}
	waitFor(t, "reads to resume", func() bool { return f.readCount() > reads })
}

func TestPauseAfterResume(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	d := openFake(t, f, func(c *Config) { c.Width, c.Height = 16, 16 })

	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}
	defer d.StopCapturing()

	for i := 0; i < 200; i++ {
		done := make(chan struct{})
		go func() {
			d.PauseCapturing(true)
			d.PauseCapturing(false)
			d.PauseCapturing(true)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: pause after resume hung in state %s", i, d.CaptureState())
		}
		if d.CaptureState() != LoopPaused {
			t.Fatalf("iteration %d: expected paused, got %s", i, d.CaptureState())
		}
		d.PauseCapturing(false)
	}

	reads := f.readCount()
	waitFor(t, "reads to resume", func() bool { return f.readCount() > reads })
}

func TestStopWhilePaused(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	d := openFake(t, f, func(c *Config) { c.Width, c.Height = 16, 16 })

	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}
	d.PauseCapturing(true)

	stopped := make(chan struct{})
	go func() {
		d.StopCapturing()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopCapturing blocked on a paused loop")
	}

	// The pause request does not survive a restart.
	reads := f.readCount()
	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}
	defer d.StopCapturing()
	if d.CaptureState() != LoopRunning {
		t.Errorf("Expected running after restart, got %s", d.CaptureState())
	}
	waitFor(t, "reads after restart", func() bool { return f.readCount() > reads })
}

func TestFatalErrorsStopTheLoop(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*fakeDriver)
	}{
		{"wait", func(f *fakeDriver) { f.setWaitErr(syscall.EIO) }},
		{"read", func(f *fakeDriver) { f.setReadErr(syscall.EIO) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDriver()
			f.interval = time.Millisecond
			handler, fatal := fatalRecorder()
			d := openFake(t, f, func(c *Config) { c.Width, c.Height = 16, 16 }, handler)

			if err := d.StartCapturing(); err != nil {
				t.Fatalf("StartCapturing failed: %v", err)
			}
			waitFor(t, "a frame", func() bool { return f.readCount() > 0 })
			tt.inject(f)

			select {
			case err := <-fatal:
				if !errors.Is(err, syscall.EIO) {
					t.Errorf("Expected EIO, got %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("fatal handler not called")
			}

			waitFor(t, "loop to stop", func() bool { return !d.IsCapturing() })
			if m := metrics.GetDeviceMetrics(d.Path()); m == nil || m.ReadErrors != 1 {
				t.Errorf("Expected one read error, got %+v", m)
			}
			if d.Ring().Locked() != 0 || len(d.ring.order) != d.Ring().Len() {
				t.Error("Ring left inconsistent after fatal error")
			}
			d.StopCapturing()
		})
	}
}

func TestCaptureEvents(t *testing.T) {
	f := newFakeDriver()
	f.interval = time.Millisecond
	bus := events.New()

	states := make(chan events.CaptureStateChangedEvent, 16)
	frames := make(chan events.FrameCapturedEvent, 1)
	defer events.SubscribeToChannel[events.CaptureStateChangedEvent](bus, states)()
	defer events.SubscribeToChannel[events.FrameCapturedEvent](bus, frames)()

	d := openFake(t, f, func(c *Config) { c.Width, c.Height = 16, 16 }, WithEventBus(bus))
	if err := d.StartCapturing(); err != nil {
		t.Fatalf("StartCapturing failed: %v", err)
	}

	select {
	case ev := <-frames:
		if ev.DevicePath != d.Path() || ev.BytesUsed != d.BufferSize() || ev.Timestamp <= 0 {
			t.Errorf("Unexpected frame event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no FrameCapturedEvent")
	}
	d.StopCapturing()

	var seen []string
	timeout := time.After(2 * time.Second)
	for len(seen) == 0 || seen[len(seen)-1] != string(LoopStopped) {
		select {
		case ev := <-states:
			seen = append(seen, ev.NewState)
		case <-timeout:
			t.Fatalf("Incomplete state sequence %v", seen)
		}
	}
	want := []string{"running", "stopping", "stopped"}
	if len(seen) != len(want) {
		t.Fatalf("Expected states %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Expected states %v, got %v", want, seen)
			break
		}
	}
}
