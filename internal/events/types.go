package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeFrameCaptured uint32 = iota + 1
	TypeCaptureStateChanged
	TypeFormatNegotiated
	TypeControlChanged
	TypeDeviceRemoved
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// FrameCapturedEvent is published after a frame has been inserted into a
// device's buffer ring.
type FrameCapturedEvent struct {
	DevicePath string `json:"device_path"`
	Timestamp  int64  `json:"timestamp"` // nanoseconds on the device clock
	BytesUsed  int    `json:"bytes_used"`
}

// Type returns the event type identifier for FrameCapturedEvent.
func (e FrameCapturedEvent) Type() uint32 { return TypeFrameCaptured }

// CaptureStateChangedEvent reports a capture loop state transition.
type CaptureStateChangedEvent struct {
	DevicePath string    `json:"device_path"`
	OldState   string    `json:"old_state"`
	NewState   string    `json:"new_state"`
	At         time.Time `json:"at"`
}

// Type returns the event type identifier for CaptureStateChangedEvent.
func (e CaptureStateChangedEvent) Type() uint32 { return TypeCaptureStateChanged }

// FormatNegotiatedEvent carries the requested and accepted capture format.
// Diverged is set when the driver adjusted any requested field.
type FormatNegotiatedEvent struct {
	DevicePath      string `json:"device_path"`
	RequestedWidth  uint32 `json:"requested_width"`
	RequestedHeight uint32 `json:"requested_height"`
	RequestedFormat string `json:"requested_format"`
	Width           uint32 `json:"width"`
	Height          uint32 `json:"height"`
	Format          string `json:"format"`
	BytesPerLine    uint32 `json:"bytes_per_line"`
	BufferSize      int    `json:"buffer_size"`
	Diverged        bool   `json:"diverged"`
}

// Type returns the event type identifier for FormatNegotiatedEvent.
func (e FormatNegotiatedEvent) Type() uint32 { return TypeFormatNegotiated }

// ControlChangedEvent is published after a control value was written.
type ControlChangedEvent struct {
	DevicePath string `json:"device_path"`
	ControlID  uint32 `json:"control_id"`
	Name       string `json:"name,omitempty"`
	Value      int32  `json:"value"`
}

// Type returns the event type identifier for ControlChangedEvent.
func (e ControlChangedEvent) Type() uint32 { return TypeControlChanged }

// DeviceRemovedEvent is published when a device node disappears.
type DeviceRemovedEvent struct {
	DevicePath string    `json:"device_path"`
	At         time.Time `json:"at"`
}

// Type returns the event type identifier for DeviceRemovedEvent.
func (e DeviceRemovedEvent) Type() uint32 { return TypeDeviceRemoved }
