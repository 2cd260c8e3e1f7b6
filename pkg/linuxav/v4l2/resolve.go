package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directories holding the stable udev symlinks for video nodes.
var (
	ByIDDir   = "/dev/v4l/by-id"
	ByPathDir = "/dev/v4l/by-path"
)

// ResolvePath turns a device reference into a node path. Absolute paths
// are returned unchanged; stable ids such as those reported in
// DeviceInfo.DeviceID are looked up in /dev/v4l/by-id, then by-path.
func ResolvePath(ref string) (string, error) {
	if filepath.IsAbs(ref) {
		return ref, nil
	}

	var dirs []string
	if strings.HasPrefix(ref, "usb-") {
		dirs = append(dirs, ByIDDir)
	}
	if strings.HasPrefix(ref, "platform-") || strings.HasPrefix(ref, "usb-") || strings.HasPrefix(ref, "pci-") {
		dirs = append(dirs, ByPathDir)
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, ref)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no stable symlink found for device id %q", ref)
}

// CanonicalPath follows symlinks so that a by-id path and the /dev/videoN
// node it points to compare equal. Paths that cannot be resolved are
// returned cleaned.
func CanonicalPath(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	return filepath.Clean(path)
}
