//go:build !linux

package capture

import (
	"fmt"
	"time"
)

type runtimeClock struct {
	id    ClockID
	epoch time.Time
}

// SystemClock returns a clock backed by the Go runtime. Only the realtime
// and monotonic clocks are available off Linux.
func SystemClock(id ClockID) (Clock, error) {
	switch id {
	case ClockRealtime, ClockMonotonic:
		return &runtimeClock{id: id, epoch: time.Now()}, nil
	default:
		return nil, fmt.Errorf("clock %s", id)
	}
}

func (c *runtimeClock) Now() Timestamp {
	if c.id == ClockRealtime {
		return Timestamp(time.Now().UnixNano())
	}
	return Timestamp(time.Since(c.epoch))
}

func (c *runtimeClock) Resolution() time.Duration {
	return time.Nanosecond
}
