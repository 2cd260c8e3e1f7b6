//go:build linux

package capture

import (
	"time"

	"golang.org/x/sys/unix"
)

type posixClock struct {
	id  ClockID
	res time.Duration
}

// SystemClock returns the POSIX clock id. It fails when the kernel does
// not support the clock.
func SystemClock(id ClockID) (Clock, error) {
	var ts unix.Timespec
	if err := unix.ClockGetres(int32(id), &ts); err != nil {
		return nil, err
	}
	return &posixClock{id: id, res: time.Duration(ts.Nano())}, nil
}

func (c *posixClock) Now() Timestamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(int32(c.id), &ts); err != nil {
		// The id was validated by ClockGetres; a failure here is a kernel bug.
		panic("clock_gettime(" + c.id.String() + "): " + err.Error())
	}
	return Timestamp(ts.Nano())
}

func (c *posixClock) Resolution() time.Duration {
	return c.res
}
