package capture

import (
	"time"

	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

// Driver is the set of V4L2 requests a Device issues. *v4l2.Device
// implements it on Linux.
type Driver interface {
	QueryCapability() (v4l2.Capability, error)
	ResetCrop() error
	SetFormat(f v4l2.PixFormat) (v4l2.PixFormat, error)
	EnumFormat(index uint32) (v4l2.FormatInfo, error)
	QueryControl(id uint32) (v4l2.ControlInfo, error)
	QueryMenu(id, index uint32) (v4l2.MenuItem, error)
	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32) error

	// WaitReadable reports false when timeout elapses with no data.
	WaitReadable(timeout time.Duration) (bool, error)
	// Read returns EAGAIN when no frame is ready.
	Read(p []byte) (int, error)
	Close() error
}

// Opener opens the node at path. It must return an error matching
// ErrNotCharDevice for paths that are not character devices.
type Opener func(path string) (Driver, error)
