//go:build !linux

package capture

func defaultOpener(string) (Driver, error) {
	return nil, ErrUnsupportedPlatform
}
