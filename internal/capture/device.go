// Package capture reads frames from a V4L2 device into a ring of reusable
// buffers and exposes the device's controls.
//
// A Device is opened once, optionally captures on a background goroutine,
// and is closed once. Every request that touches the device descriptor is
// serialized by a per-device mutex, so control changes from other
// goroutines interleave safely with capture.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smazurov/videocapture/internal/events"
	"github.com/smazurov/videocapture/internal/logging"
	"github.com/smazurov/videocapture/internal/metrics"
	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

// State is the lifecycle state of a Device.
type State string

// Device states.
const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Option configures Open.
type Option func(*options)

type options struct {
	opener Opener
	clock  Clock
	logger *slog.Logger
	bus    *events.Bus
	fatal  func(error)
}

// WithOpener replaces the function that opens the device node.
func WithOpener(o Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// WithClock stamps frames with c instead of the configured system clock.
func WithClock(c Clock) Option {
	return func(opts *options) { opts.clock = c }
}

// WithLogger sets the logger. Defaults to the "capture" module logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// WithEventBus publishes frame, state, format and control events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(opts *options) { opts.bus = bus }
}

// WithFatalHandler replaces the handler for unrecoverable capture errors.
// It runs on the capture goroutine after the loop has stopped. The default
// logs the error and panics.
func WithFatalHandler(fn func(error)) Option {
	return func(opts *options) { opts.fatal = fn }
}

// Negotiation records the format that was requested and the one the driver
// accepted.
type Negotiation struct {
	Requested v4l2.PixFormat
	Effective v4l2.PixFormat
}

// Diverged reports whether the driver changed any requested field.
func (n Negotiation) Diverged() bool {
	return len(n.Differences()) > 0
}

// Differences lists each adjusted field as "name requested -> effective".
func (n Negotiation) Differences() []string {
	var diffs []string
	r, e := n.Requested, n.Effective
	if r.Width != e.Width {
		diffs = append(diffs, fmt.Sprintf("width %d -> %d", r.Width, e.Width))
	}
	if r.Height != e.Height {
		diffs = append(diffs, fmt.Sprintf("height %d -> %d", r.Height, e.Height))
	}
	if r.PixelFormat != e.PixelFormat {
		diffs = append(diffs, fmt.Sprintf("pixelformat %s -> %s",
			v4l2.FormatFourCC(r.PixelFormat), v4l2.FormatFourCC(e.PixelFormat)))
	}
	if r.Field != e.Field {
		diffs = append(diffs, fmt.Sprintf("field %s -> %s", v4l2.FieldName(r.Field), v4l2.FieldName(e.Field)))
	}
	return diffs
}

// Device is an open capture device.
type Device struct {
	cfg       Config
	drv       Driver
	clock     Clock
	logger    *slog.Logger
	ctlLogger *slog.Logger
	bus       *events.Bus
	fatal     func(error)

	ioMu   sync.Mutex // serializes every request on drv
	closed atomic.Bool

	caps        v4l2.Capability
	format      v4l2.PixFormat
	negotiation Negotiation
	bufferSize  int
	ring        *Ring
	clockInfo   ClockInfo
	catalog     atomic.Pointer[Catalog] // last result of Controls

	ctlMu sync.Mutex // serializes Start, Stop, Close and the period probe
	loop  loopControl
}

// Open opens cfg.Path, negotiates the format and allocates the buffer
// ring. On failure nothing stays open and the error is an *OpenError.
// A driver that adjusts the requested format is not an error; see
// Negotiation.
func Open(cfg Config, opts ...Option) (*Device, error) {
	o := options{opener: defaultOpener}
	for _, opt := range opts {
		opt(&o)
	}
	logger, ctlLogger := o.logger, o.logger
	if o.logger == nil {
		logger = logging.GetLogger("capture")
		ctlLogger = logging.GetLogger("controls")
	}
	logger = logger.With("device", cfg.Path)
	ctlLogger = ctlLogger.With("device", cfg.Path)

	if err := cfg.Validate(); err != nil {
		return nil, openError(cfg.Path, ErrInvalidConfig, err.Error(), nil)
	}

	clock := o.clock
	if clock == nil {
		c, err := SystemClock(cfg.Clock)
		if err != nil {
			return nil, openError(cfg.Path, ErrClockUnavailable, cfg.Clock.String(), err)
		}
		clock = c
	}

	drv, err := o.opener(cfg.Path)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotCharDevice):
			return nil, openError(cfg.Path, ErrNotCharDevice, "", nil)
		case errors.Is(err, ErrUnsupportedPlatform):
			return nil, openError(cfg.Path, ErrUnsupportedPlatform, "", nil)
		default:
			return nil, openError(cfg.Path, ErrOpenFailed, "", err)
		}
	}

	d := &Device{
		cfg:       cfg,
		drv:       drv,
		clock:     clock,
		logger:    logger,
		ctlLogger: ctlLogger,
		bus:       o.bus,
		fatal:     o.fatal,
	}
	if d.fatal == nil {
		d.fatal = d.abort
	}
	d.loop.init()

	if err := d.initialize(); err != nil {
		if closeErr := drv.Close(); closeErr != nil {
			logger.Debug("Close after failed open", "error", closeErr)
		}
		return nil, err
	}

	d.clockInfo = ClockInfo{ID: cfg.Clock, Resolution: clock.Resolution(), OpenedAt: time.Now()}
	d.reportNegotiation()
	logger.Info("Device opened",
		"card", d.caps.Card,
		"driver", d.caps.Driver,
		"format", v4l2.FormatFourCC(d.format.PixelFormat),
		"width", d.format.Width,
		"height", d.format.Height,
		"buffers", cfg.BufferCount,
		"buffer_size", d.bufferSize)
	return d, nil
}

// initialize runs the ioctl part of Open against an open descriptor.
func (d *Device) initialize() error {
	path := d.cfg.Path

	caps, err := d.drv.QueryCapability()
	if err != nil {
		if v4l2.IsInvalid(err) || errors.Is(err, syscall.ENOTTY) {
			return openError(path, ErrNotV4L2Device, "", err)
		}
		return openError(path, ErrOpenFailed, "VIDIOC_QUERYCAP", err)
	}
	if !caps.Has(v4l2.CapVideoCapture) {
		return openError(path, ErrCapabilityMissing, "video capture", nil)
	}
	if !caps.Has(v4l2.CapReadWrite) {
		return openError(path, ErrCapabilityMissing, "read/write i/o", nil)
	}
	d.caps = caps

	if err := d.drv.ResetCrop(); err != nil {
		d.logger.Debug("Crop reset not supported", "error", err)
	}

	requested := v4l2.PixFormat{
		Width:       d.cfg.Width,
		Height:      d.cfg.Height,
		PixelFormat: d.cfg.PixelFormat,
		Field:       d.cfg.Field,
	}
	effective, err := d.drv.SetFormat(requested)
	if err != nil {
		return openError(path, ErrFormatRejected, v4l2.FormatFourCC(requested.PixelFormat), err)
	}
	d.format = effective
	d.negotiation = Negotiation{Requested: requested, Effective: effective}

	d.bufferSize = frameBufferSize(effective)
	if d.bufferSize <= 0 {
		return openError(path, ErrFormatRejected, "driver reported an empty frame", nil)
	}

	d.ring = newRing(d.cfg.BufferCount, d.bufferSize)
	d.ring.onLocked = func(n int) { metrics.SetLockedBuffers(path, n) }
	return nil
}

// frameBufferSize guards against drivers that under-report the line
// stride: a line is assumed to take at least two bytes per pixel, and
// the reported image size is a floor.
func frameBufferSize(f v4l2.PixFormat) int {
	bpl := max(uint64(f.BytesPerLine), 2*uint64(f.Width))
	size := max(uint64(f.SizeImage), bpl*uint64(f.Height))
	return int(size)
}

func (d *Device) reportNegotiation() {
	n := d.negotiation
	if n.Diverged() {
		d.logger.Warn("Driver adjusted requested format", "changes", n.Differences())
	}
	d.bus.Publish(events.FormatNegotiatedEvent{
		DevicePath:      d.cfg.Path,
		RequestedWidth:  n.Requested.Width,
		RequestedHeight: n.Requested.Height,
		RequestedFormat: v4l2.FormatFourCC(n.Requested.PixelFormat),
		Width:           n.Effective.Width,
		Height:          n.Effective.Height,
		Format:          v4l2.FormatFourCC(n.Effective.PixelFormat),
		BytesPerLine:    n.Effective.BytesPerLine,
		BufferSize:      d.bufferSize,
		Diverged:        n.Diverged(),
	})
}

// Close stops capture, waits for the capture goroutine to exit and
// releases the descriptor. Closing a device that is not open panics.
// Views still held keep their memory until released.
func (d *Device) Close() error {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()

	if d.closed.Load() {
		panic("capture: Close of a device that is not open")
	}
	d.stopLocked()

	d.ioMu.Lock()
	d.closed.Store(true)
	err := d.drv.Close()
	d.ioMu.Unlock()

	metrics.DeleteDevice(d.cfg.Path)
	d.logger.Info("Device closed")
	return err
}

// State reports whether the device is open.
func (d *Device) State() State {
	if d.closed.Load() {
		return StateClosed
	}
	return StateOpen
}

// Config returns the configuration the device was opened with.
func (d *Device) Config() Config { return d.cfg }

// Path returns the device node.
func (d *Device) Path() string { return d.cfg.Path }

// Capability returns the result of VIDIOC_QUERYCAP taken at open.
func (d *Device) Capability() v4l2.Capability { return d.caps }

// Format returns the format the driver accepted.
func (d *Device) Format() v4l2.PixFormat { return d.format }

// Negotiation returns the requested and accepted formats.
func (d *Device) Negotiation() Negotiation { return d.negotiation }

// BufferSize returns the size of each frame buffer in bytes.
func (d *Device) BufferSize() int { return d.bufferSize }

// Ring returns the device's buffer ring.
func (d *Device) Ring() *Ring { return d.ring }

// ClockInfo describes the clock frames are stamped with.
func (d *Device) ClockInfo() ClockInfo { return d.clockInfo }

// Now reads the device clock.
func (d *Device) Now() Timestamp { return d.clock.Now() }

// LockNewest pins the n newest frames; see Ring.LockNewest.
func (d *Device) LockNewest(n int) []View { return d.ring.LockNewest(n) }

// Release unpins views; see Ring.Release.
func (d *Device) Release(views []View) { d.ring.Release(views) }

// CountNewerThan counts frames newer than t; see Ring.CountNewerThan.
func (d *Device) CountNewerThan(t Timestamp) int { return d.ring.CountNewerThan(t) }

// do runs fn as one serialized request on the descriptor.
func (d *Device) do(fn func(Driver) error) error {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	if d.closed.Load() {
		return ErrClosed
	}
	return fn(d.drv)
}

// RawControlGet issues VIDIOC_G_CTRL.
func (d *Device) RawControlGet(id uint32) (int32, error) {
	var v int32
	err := d.do(func(drv Driver) (err error) {
		v, err = drv.GetControl(id)
		return err
	})
	return v, err
}

// RawControlSet issues VIDIOC_S_CTRL. The driver may clamp value.
func (d *Device) RawControlSet(id uint32, value int32) error {
	return d.do(func(drv Driver) error {
		return drv.SetControl(id, value)
	})
}

// RawQueryControl issues VIDIOC_QUERYCTRL. Unknown ids fail with EINVAL.
func (d *Device) RawQueryControl(id uint32) (v4l2.ControlInfo, error) {
	var info v4l2.ControlInfo
	err := d.do(func(drv Driver) (err error) {
		info, err = drv.QueryControl(id)
		return err
	})
	return info, err
}

// RawQueryMenu issues VIDIOC_QUERYMENU.
func (d *Device) RawQueryMenu(id, index uint32) (v4l2.MenuItem, error) {
	var item v4l2.MenuItem
	err := d.do(func(drv Driver) (err error) {
		item, err = drv.QueryMenu(id, index)
		return err
	})
	return item, err
}

// RawEnumFormat issues VIDIOC_ENUM_FMT.
func (d *Device) RawEnumFormat(index uint32) (v4l2.FormatInfo, error) {
	var info v4l2.FormatInfo
	err := d.do(func(drv Driver) (err error) {
		info, err = drv.EnumFormat(index)
		return err
	})
	return info, err
}

// Formats enumerates the pixel formats the device offers for capture.
func (d *Device) Formats() ([]v4l2.FormatInfo, error) {
	return probeUntilNotFound(d.RawEnumFormat)
}

func (d *Device) abort(err error) {
	d.logger.Error("Capture failed", "error", err)
	panic(err)
}
