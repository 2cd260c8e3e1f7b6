package v4l2

import "fmt"

// FourCC packs four characters into a pixel format code.
func FourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

// ParseFourCC converts a code such as "RGB3" or "YUYV" back to its numeric
// form. A handful of common aliases are accepted.
func ParseFourCC(s string) (uint32, error) {
	switch s {
	case "RGB24", "rgb24":
		return PixFmtRGB24, nil
	case "BGR24", "bgr24":
		return PixFmtBGR24, nil
	case "MJPEG", "mjpeg":
		return PixFmtMJPEG, nil
	}
	if len(s) != 4 {
		return 0, fmt.Errorf("pixel format %q: want 4 characters", s)
	}
	return FourCC(s[0], s[1], s[2], s[3]), nil
}
