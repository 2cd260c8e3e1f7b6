//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 node used for read() based capture.
type Device struct {
	fd   int
	path string
}

// Open verifies that path names a character device and opens it read-write
// and non-blocking. A regular file yields ErrNotCharDevice; open failures
// are returned as *os.PathError wrapping the errno.
func Open(path string) (*Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCharDevice)
	}

	fd, err := openFd(path)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Device{fd: fd, path: path}, nil
}

// Path returns the node the device was opened from.
func (d *Device) Path() string {
	return d.path
}

// Fd returns the underlying descriptor.
func (d *Device) Fd() int {
	return d.fd
}

// Close releases the descriptor.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := closeFd(d.fd)
	d.fd = -1
	return err
}

// QueryCapability issues VIDIOC_QUERYCAP.
func (d *Device) QueryCapability() (Capability, error) {
	c := v4l2Capability{}
	if err := ioctl(d.fd, vidiocQuerycap, "VIDIOC_QUERYCAP", unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}
	return decodeCapability(&c), nil
}

// WaitReadable blocks until the device has data to read or timeout elapses.
// It reports false on timeout. EINTR is returned to the caller unchanged.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	var fds unix.FdSet
	fds.Zero()
	fds.Set(d.fd)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())

	n, err := unix.Select(d.fd+1, &fds, nil, nil, &tv)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Read reads one frame into p. With the descriptor in non-blocking mode an
// empty driver queue yields EAGAIN.
func (d *Device) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// FindDevices finds all V4L2 video capture devices on the system.
func FindDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir("/sys/class/video4linux")
	if err != nil {
		if os.IsNotExist(err) {
			return []DeviceInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read video4linux directory: %w", err)
	}

	var devices []DeviceInfo

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		devicePath := "/dev/" + entry.Name()

		dev, err := Open(devicePath)
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to open video device", "path", devicePath, "error", err)
			continue
		}

		c, err := dev.QueryCapability()
		_ = dev.Close()
		if err != nil {
			slog.With("component", "linuxav").Debug("failed to query device capabilities", "path", devicePath, "error", err)
			continue
		}

		// Only include video capture devices
		if !c.Has(CapVideoCapture) {
			continue
		}

		indexValue := readSysfsInt(filepath.Join("/sys/class/video4linux", entry.Name(), "index"))

		stableID := findStableID(entry.Name(), indexValue)
		if stableID == "" {
			if strings.HasPrefix(c.BusInfo, "usb-") {
				stableID = fmt.Sprintf("%s-video-index%d", c.BusInfo, indexValue)
			} else {
				stableID = fmt.Sprintf("platform-%s-video-index%d", c.BusInfo, indexValue)
			}
		}

		devices = append(devices, DeviceInfo{
			DevicePath: devicePath,
			DeviceName: c.Card,
			DeviceID:   stableID,
			Caps:       c.Effective(),
		})
	}

	return devices, nil
}

// findStableID looks for a stable ID symlink in /dev/v4l/by-id/
func findStableID(deviceName string, indexValue int) string {
	byIDDir := "/dev/v4l/by-id"
	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return ""
	}

	expectedSuffix := fmt.Sprintf("-video-index%d", indexValue)

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		target, err := os.Readlink(filepath.Join(byIDDir, entry.Name()))
		if err != nil {
			continue
		}

		if filepath.Base(target) == deviceName && strings.HasSuffix(entry.Name(), expectedSuffix) {
			return entry.Name()
		}
	}

	return ""
}

// readSysfsInt reads an integer value from a sysfs file.
func readSysfsInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return val
}

func decodeCapability(c *v4l2Capability) Capability {
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}
}

// cstr converts a null-terminated byte slice to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
