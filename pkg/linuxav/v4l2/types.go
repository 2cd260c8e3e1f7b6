package v4l2

import (
	"errors"
	"fmt"
	"syscall"
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// Capability is the decoded result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capabilities of the opened node. Drivers that report
// per-node capabilities expose them in DeviceCaps.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// Has reports whether all bits of flag are set in the effective capabilities.
func (c Capability) Has(flag uint32) bool {
	return c.Effective()&flag == flag
}

// KernelVersion formats Version as major.minor.patch.
func (c Capability) KernelVersion() string {
	return fmt.Sprintf("%d.%d.%d", (c.Version>>16)&0xff, (c.Version>>8)&0xff, c.Version&0xff)
}

// PixFormat mirrors the single-planar v4l2_pix_format fields used for
// negotiation.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	Index       uint32
	PixelFormat uint32
	FormatName  string
	Compressed  bool
	Emulated    bool
}

// ControlType is the V4L2 control value type.
type ControlType uint32

// Control types.
const (
	CtrlTypeInteger     ControlType = 1
	CtrlTypeBoolean     ControlType = 2
	CtrlTypeMenu        ControlType = 3
	CtrlTypeButton      ControlType = 4
	CtrlTypeInteger64   ControlType = 5
	CtrlTypeCtrlClass   ControlType = 6
	CtrlTypeString      ControlType = 7
	CtrlTypeBitmask     ControlType = 8
	CtrlTypeIntegerMenu ControlType = 9
)

func (t ControlType) String() string {
	switch t {
	case CtrlTypeInteger:
		return "integer"
	case CtrlTypeBoolean:
		return "boolean"
	case CtrlTypeMenu:
		return "menu"
	case CtrlTypeButton:
		return "button"
	case CtrlTypeInteger64:
		return "integer64"
	case CtrlTypeCtrlClass:
		return "control-class"
	case CtrlTypeString:
		return "string"
	case CtrlTypeBitmask:
		return "bitmask"
	case CtrlTypeIntegerMenu:
		return "integer-menu"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Control flags.
const (
	CtrlFlagDisabled  = 0x0001
	CtrlFlagGrabbed   = 0x0002
	CtrlFlagReadOnly  = 0x0004
	CtrlFlagUpdate    = 0x0008
	CtrlFlagInactive  = 0x0010
	CtrlFlagSlider    = 0x0020
	CtrlFlagWriteOnly = 0x0040
	CtrlFlagVolatile  = 0x0080
)

// Control id ranges. Standard user controls occupy [CIDBase, CIDLastP1);
// driver private controls start at CIDPrivateBase and are open-ended.
const (
	CIDBase        uint32 = 0x00980900
	CIDLastP1      uint32 = CIDBase + 44
	CIDPrivateBase uint32 = 0x08000000
)

// Well-known user control ids.
const (
	CIDBrightness = CIDBase + 0
	CIDContrast   = CIDBase + 1
	CIDSaturation = CIDBase + 2
	CIDHue        = CIDBase + 3
	CIDGain       = CIDBase + 19
	CIDHFlip      = CIDBase + 20
	CIDVFlip      = CIDBase + 21
)

// ControlInfo is the decoded result of VIDIOC_QUERYCTRL.
type ControlInfo struct {
	ID      uint32
	Type    ControlType
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// MenuItem is the decoded result of VIDIOC_QUERYMENU.
type MenuItem struct {
	ID    uint32
	Index uint32
	Name  string
}

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapReadWrite    = 0x01000000
	CapStreaming    = 0x04000000
	CapDeviceCaps   = 0x80000000
)

// Format flags.
const (
	FmtFlagCompressed = 0x0001
	FmtFlagEmulated   = 0x0002
)

// Field orders.
const (
	FieldAny        uint32 = 0
	FieldNone       uint32 = 1
	FieldTop        uint32 = 2
	FieldBottom     uint32 = 3
	FieldInterlaced uint32 = 4
)

// FieldName returns a readable name for a field order.
func FieldName(field uint32) string {
	switch field {
	case FieldAny:
		return "any"
	case FieldNone:
		return "none"
	case FieldTop:
		return "top"
	case FieldBottom:
		return "bottom"
	case FieldInterlaced:
		return "interlaced"
	default:
		return fmt.Sprintf("field(%d)", field)
	}
}

// Common pixel formats.
const (
	PixFmtRGB24 = 0x33424752 // 'RGB3'
	PixFmtBGR24 = 0x33524742 // 'BGR3'
	PixFmtGrey  = 0x59455247 // 'GREY'
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtHEVC  = 0x43564548 // 'HEVC'
	PixFmtNV12  = 0x3231564E // 'NV12'
)

// Buffer type.
const (
	BufTypeVideoCapture = 1
)

// ErrNotCharDevice is returned by Open when the path is not a character
// special file.
var ErrNotCharDevice = errors.New("not a character device")

// IoctlError reports a failed ioctl request. Errno is never EINTR; those are
// retried before an IoctlError is built.
type IoctlError struct {
	Request string
	Errno   syscall.Errno
}

func (e *IoctlError) Error() string {
	return fmt.Sprintf("%s: %v", e.Request, e.Errno)
}

func (e *IoctlError) Unwrap() error {
	return e.Errno
}

// IsInvalid reports whether err is an EINVAL answer from the driver, which is
// how V4L2 signals "no such id" or "no such index" while probing.
func IsInvalid(err error) bool {
	return errors.Is(err, syscall.EINVAL)
}
