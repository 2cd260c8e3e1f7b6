package capture

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/smazurov/videocapture/internal/events"
	"github.com/smazurov/videocapture/internal/metrics"
)

// waitBound caps every blocking wait in the loop so cancellation and pause
// requests are seen promptly.
const waitBound = 100 * time.Millisecond

// StartCapturing launches the capture goroutine. It is a no-op when the
// loop is already running and fails with ErrClosed after Close.
func (d *Device) StartCapturing() error {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()

	if d.closed.Load() {
		return ErrClosed
	}

	l := &d.loop
	l.mu.Lock()
	if l.state != LoopStopped {
		l.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.pauseRequested = false
	t := l.setLocked(LoopRunning)
	done := l.done
	l.mu.Unlock()

	d.announce(t)
	go d.run(ctx, done)
	d.logger.Info("Capture started")
	return nil
}

// StopCapturing cancels the loop, wakes it if paused and waits for the
// goroutine to exit. A pending pause request is dropped. Stopping a loop
// that is not running does nothing.
func (d *Device) StopCapturing() {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()
	d.stopLocked()
}

func (d *Device) stopLocked() {
	l := &d.loop
	l.mu.Lock()
	if l.state == LoopStopped {
		l.mu.Unlock()
		return
	}
	t := l.setLocked(LoopStopping)
	l.pauseRequested = false
	l.cancel()
	done := l.done
	l.mu.Unlock()
	d.announce(t)

	<-done

	l.mu.Lock()
	t = l.setLocked(LoopStopped)
	l.mu.Unlock()
	d.announce(t)
	d.logger.Info("Capture stopped")
}

// PauseCapturing parks or resumes the loop. Pausing blocks until the loop
// has parked between frames; resuming returns at once. Repeating the
// current request does nothing, and pausing a loop that is not running is
// ignored.
func (d *Device) PauseCapturing(pause bool) {
	l := &d.loop
	l.mu.Lock()
	var t *transition
	switch {
	case pause && l.state == LoopRunning:
		l.pauseRequested = true
		t = l.setLocked(LoopPausing)
	case !pause && (l.state == LoopPausing || l.state == LoopPaused):
		l.pauseRequested = false
		t = l.setLocked(LoopRunning)
	}
	l.mu.Unlock()
	d.announce(t)

	if !pause {
		return
	}
	l.mu.Lock()
	for l.state == LoopPausing {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (d *Device) run(ctx context.Context, done chan struct{}) {
	var fatal error
	defer func() {
		l := &d.loop
		l.mu.Lock()
		var t *transition
		if l.state != LoopStopping {
			t = l.setLocked(LoopStopped)
			l.cancel()
		}
		l.mu.Unlock()
		close(done)
		d.announce(t)
		if fatal != nil {
			d.fatal(fatal)
		}
	}()

	for ctx.Err() == nil {
		if err := d.captureOnce(ctx); err != nil {
			metrics.ReadError(d.cfg.Path)
			fatal = err
			return
		}
	}
}

// pauseGate parks the loop while a pause is requested. Every pause
// request that arrives while parked, including one that follows a resume
// the loop has not woken up for yet, is acknowledged by moving to
// LoopPaused. It reports false once the loop has been cancelled.
func (d *Device) pauseGate(ctx context.Context) bool {
	l := &d.loop
	l.mu.Lock()
	for l.pauseRequested && ctx.Err() == nil {
		if l.state == LoopPausing {
			t := l.setLocked(LoopPaused)
			l.mu.Unlock()
			d.announce(t)
			l.mu.Lock()
			continue
		}
		l.cond.Wait()
	}
	l.mu.Unlock()
	return ctx.Err() == nil
}

// captureOnce runs one iteration. Only errors that end capture are
// returned.
func (d *Device) captureOnce(ctx context.Context) error {
	if !d.pauseGate(ctx) {
		return nil
	}

	ready, err := d.drv.WaitReadable(waitBound)
	switch {
	case errors.Is(err, syscall.EINTR):
		return nil
	case err != nil:
		return fmt.Errorf("wait for frame: %w", err)
	case !ready:
		metrics.SkipIteration(d.cfg.Path, metrics.SkipWaitTimeout)
		return nil
	}

	s, released := d.ring.takeOldestWritable()
	if s == nil {
		d.logger.Debug("No writable buffer; all held by readers")
		metrics.SkipIteration(d.cfg.Path, metrics.SkipNoWritableBuffer)
		timer := time.NewTimer(waitBound)
		defer timer.Stop()
		select {
		case <-released:
		case <-ctx.Done():
		case <-timer.C:
		}
		return nil
	}

	stamp := d.clock.Now()
	start := time.Now()
	d.ioMu.Lock()
	n, err := d.drv.Read(s.data)
	d.ioMu.Unlock()
	readTime := time.Since(start)

	switch {
	case errors.Is(err, syscall.EAGAIN), err == nil && n == 0:
		d.ring.putBack(s)
		metrics.SkipIteration(d.cfg.Path, metrics.SkipNoData)
		return nil
	case err != nil:
		d.ring.putBack(s)
		return fmt.Errorf("read frame: %w", err)
	}

	d.ring.insertNewest(s, stamp, n)
	metrics.FrameCaptured(d.cfg.Path, n, readTime)
	d.bus.Publish(events.FrameCapturedEvent{
		DevicePath: d.cfg.Path,
		Timestamp:  int64(stamp),
		BytesUsed:  n,
	})
	return nil
}
