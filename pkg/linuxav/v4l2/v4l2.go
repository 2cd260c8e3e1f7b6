// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, read()-based capture, format negotiation and
// control access.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm). Types and pixel format
// helpers build on every platform; the device bindings are Linux only.
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Negotiation
//
// The driver may revise every field of a requested format. Always use the
// value returned by SetFormat:
//
//	dev, _ := v4l2.Open("/dev/video0")
//	got, err := dev.SetFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV})
//
// # Controls
//
// QueryControl and QueryMenu answer EINVAL for ids and indices the driver does
// not implement. Use IsInvalid to tell that apart from a real failure:
//
//	info, err := dev.QueryControl(v4l2.CIDBrightness)
//	if v4l2.IsInvalid(err) {
//	    // not supported by this driver
//	}
//
// Every ioctl is retried while it fails with EINTR. Device is not safe for
// concurrent use; callers serialize access.
package v4l2
