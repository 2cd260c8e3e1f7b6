package capture

import (
	"errors"
	"fmt"

	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

// Open failures. An *OpenError matches exactly one of these with errors.Is.
var (
	ErrInvalidConfig       = errors.New("invalid capture config")
	ErrClockUnavailable    = errors.New("clock unavailable")
	ErrNotCharDevice       = v4l2.ErrNotCharDevice
	ErrOpenFailed          = errors.New("cannot open device")
	ErrNotV4L2Device       = errors.New("not a V4L2 device")
	ErrCapabilityMissing   = errors.New("missing required capability")
	ErrFormatRejected      = errors.New("format rejected")
	ErrUnsupportedPlatform = errors.New("V4L2 capture is not supported on this platform")
)

// Runtime failures.
var (
	ErrClosed           = errors.New("device closed")
	ErrCapturing        = errors.New("capture loop is running")
	ErrReadTimeout      = errors.New("timed out waiting for a frame")
	ErrNotEnoughSamples = errors.New("not enough frames to measure a period")
)

// OpenError reports why Open failed. Kind is one of the Err* sentinels and
// Cause, when set, is the underlying *v4l2.IoctlError or errno.
type OpenError struct {
	Path   string
	Kind   error
	Detail string
	Cause  error
}

func (e *OpenError) Error() string {
	msg := fmt.Sprintf("open %s: %v", e.Path, e.Kind)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *OpenError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func openError(path string, kind error, detail string, cause error) *OpenError {
	return &OpenError{Path: path, Kind: kind, Detail: detail, Cause: cause}
}
