package capture

import "github.com/smazurov/videocapture/pkg/linuxav/v4l2"

// probeUntilNotFound calls probe with 0, 1, 2, ... and collects the
// results until the driver answers EINVAL, which V4L2 uses for "no such
// index". Any other error stops the probe and is returned with what was
// collected so far.
func probeUntilNotFound[T any](probe func(index uint32) (T, error)) ([]T, error) {
	var found []T
	for i := uint32(0); ; i++ {
		v, err := probe(i)
		if v4l2.IsInvalid(err) {
			return found, nil
		}
		if err != nil {
			return found, err
		}
		found = append(found, v)
	}
}
