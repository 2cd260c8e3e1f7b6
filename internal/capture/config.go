package capture

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

// ClockID selects the POSIX clock used to timestamp frames. Values match
// the kernel's clockid_t.
type ClockID int32

// Supported clocks.
const (
	ClockRealtime       ClockID = 0
	ClockMonotonic      ClockID = 1
	ClockProcessCPUTime ClockID = 2
	ClockThreadCPUTime  ClockID = 3
	ClockMonotonicRaw   ClockID = 4
	ClockBoottime       ClockID = 7
)

var clockNames = map[ClockID]string{
	ClockRealtime:       "realtime",
	ClockMonotonic:      "monotonic",
	ClockProcessCPUTime: "process-cputime",
	ClockThreadCPUTime:  "thread-cputime",
	ClockMonotonicRaw:   "monotonic-raw",
	ClockBoottime:       "boottime",
}

func (c ClockID) String() string {
	if name, ok := clockNames[c]; ok {
		return name
	}
	return fmt.Sprintf("clock(%d)", int32(c))
}

// ParseClockID accepts the names printed by ClockID.String, case-insensitive,
// with '_' allowed in place of '-'.
func ParseClockID(s string) (ClockID, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for id, name := range clockNames {
		if name == norm {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown clock %q", s)
}

// Defaults applied by DefaultConfig.
const (
	DefaultWidth       = 352
	DefaultHeight      = 288
	DefaultBufferCount = 2
	DefaultReadTimeout = 2 * time.Second
)

// Config describes how a device is opened and captured from.
type Config struct {
	Path        string
	PixelFormat uint32 // fourcc, see v4l2.PixFmt*
	Width       uint32
	Height      uint32
	Field       uint32
	BufferCount int
	Clock       ClockID
	ReadTimeout time.Duration // readiness bound used by DetermineCapturePeriod
}

// DefaultConfig returns a configuration for path with RGB24 352x288
// progressive frames, two buffers and the monotonic clock.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		PixelFormat: v4l2.PixFmtRGB24,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		Field:       v4l2.FieldNone,
		BufferCount: DefaultBufferCount,
		Clock:       ClockMonotonic,
		ReadTimeout: DefaultReadTimeout,
	}
}

// Validate checks the fields Open depends on.
func (c Config) Validate() error {
	switch {
	case c.Path == "":
		return errors.New("empty device path")
	case c.Width == 0 || c.Height == 0:
		return fmt.Errorf("frame size %dx%d", c.Width, c.Height)
	case c.PixelFormat == 0:
		return errors.New("no pixel format")
	case c.BufferCount < 2:
		return fmt.Errorf("need at least 2 buffers, got %d", c.BufferCount)
	case c.ReadTimeout <= 0:
		return errors.New("read timeout must be positive")
	}
	return nil
}
