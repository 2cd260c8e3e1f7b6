//go:build linux

package capture

import "github.com/smazurov/videocapture/pkg/linuxav/v4l2"

func defaultOpener(path string) (Driver, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}
