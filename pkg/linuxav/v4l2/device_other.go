//go:build !linux

package v4l2

// FindDevices reports no devices off Linux.
func FindDevices() ([]DeviceInfo, error) {
	return nil, nil
}
