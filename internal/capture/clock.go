package capture

import (
	"math"
	"time"
)

// Timestamp is a point on the device's clock in nanoseconds.
type Timestamp int64

// NeverWritten marks a buffer that has not received a frame yet. It is
// older than every real timestamp.
const NeverWritten Timestamp = math.MinInt64

// Sub returns t-u.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

// Written reports whether t is a real capture time.
func (t Timestamp) Written() bool {
	return t != NeverWritten
}

// Clock reads the time source frames are stamped with.
type Clock interface {
	Now() Timestamp
	Resolution() time.Duration
}

// ClockInfo describes the clock a device stamps frames with.
type ClockInfo struct {
	ID         ClockID
	Resolution time.Duration
	OpenedAt   time.Time // wall-clock time the device was opened
}
