package capture

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/videocapture/internal/events"
	"github.com/smazurov/videocapture/internal/metrics"
)

// LoopState is the state of a device's capture loop.
type LoopState string

// Capture loop states.
const (
	LoopStopped  LoopState = "stopped"
	LoopRunning  LoopState = "running"
	LoopPausing  LoopState = "pausing" // pause requested, loop not parked yet
	LoopPaused   LoopState = "paused"
	LoopStopping LoopState = "stopping"
)

// loopControl is guarded by mu. cond is signalled on every state change
// and every change of pauseRequested.
type loopControl struct {
	mu             sync.Mutex
	cond           *sync.Cond
	state          LoopState
	pauseRequested bool
	cancel         context.CancelFunc
	done           chan struct{}
}

func (l *loopControl) init() {
	l.cond = sync.NewCond(&l.mu)
	l.state = LoopStopped
}

type transition struct {
	from, to LoopState
}

// setLocked changes state with l.mu held. The returned transition is
// announced after the lock is dropped.
func (l *loopControl) setLocked(to LoopState) *transition {
	if l.state == to {
		return nil
	}
	t := &transition{from: l.state, to: to}
	l.state = to
	l.cond.Broadcast()
	return t
}

func (d *Device) announce(t *transition) {
	if t == nil {
		return
	}
	d.logger.Debug("Capture state changed", "from", t.from, "to", t.to)
	metrics.SetRunning(d.cfg.Path, t.to != LoopStopped)
	d.bus.Publish(events.CaptureStateChangedEvent{
		DevicePath: d.cfg.Path,
		OldState:   string(t.from),
		NewState:   string(t.to),
		At:         time.Now(),
	})
}

// CaptureState returns the current loop state.
func (d *Device) CaptureState() LoopState {
	d.loop.mu.Lock()
	defer d.loop.mu.Unlock()
	return d.loop.state
}

// IsCapturing reports whether the capture goroutine is alive, paused or
// not.
func (d *Device) IsCapturing() bool {
	return d.CaptureState() != LoopStopped
}
