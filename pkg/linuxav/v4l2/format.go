//go:build linux

package v4l2

import "unsafe"

// SetFormat requests f with VIDIOC_S_FMT and returns the format the driver
// actually accepted, which may differ in every field.
func (d *Device) SetFormat(f PixFormat) (PixFormat, error) {
	req := v4l2Format{typ: BufTypeVideoCapture}
	req.pix = v4l2PixFormat{
		width:        f.Width,
		height:       f.Height,
		pixelformat:  f.PixelFormat,
		field:        f.Field,
		bytesperline: f.BytesPerLine,
		sizeimage:    f.SizeImage,
	}
	if err := ioctl(d.fd, vidiocSFmt, "VIDIOC_S_FMT", unsafe.Pointer(&req)); err != nil {
		return PixFormat{}, err
	}
	return decodePixFormat(&req.pix), nil
}

// GetFormat returns the current capture format.
func (d *Device) GetFormat() (PixFormat, error) {
	req := v4l2Format{typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGFmt, "VIDIOC_G_FMT", unsafe.Pointer(&req)); err != nil {
		return PixFormat{}, err
	}
	return decodePixFormat(&req.pix), nil
}

// ResetCrop selects the driver's default crop rectangle. Many drivers do not
// implement cropping; callers usually ignore the error.
func (d *Device) ResetCrop() error {
	cc := v4l2Cropcap{typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocCropcap, "VIDIOC_CROPCAP", unsafe.Pointer(&cc)); err != nil {
		return err
	}
	crop := v4l2Crop{typ: BufTypeVideoCapture, c: cc.defrect}
	return ioctl(d.fd, vidiocSCrop, "VIDIOC_S_CROP", unsafe.Pointer(&crop))
}

// EnumFormat returns the index-th supported capture format. EINVAL marks the
// end of the list.
func (d *Device) EnumFormat(index uint32) (FormatInfo, error) {
	desc := v4l2Fmtdesc{
		index: index,
		typ:   BufTypeVideoCapture,
	}
	if err := ioctl(d.fd, vidiocEnumFmt, "VIDIOC_ENUM_FMT", unsafe.Pointer(&desc)); err != nil {
		return FormatInfo{}, err
	}
	return FormatInfo{
		Index:       index,
		PixelFormat: desc.pixelformat,
		FormatName:  cstr(desc.description[:]),
		Compressed:  desc.flags&FmtFlagCompressed != 0,
		Emulated:    desc.flags&FmtFlagEmulated != 0,
	}, nil
}

func decodePixFormat(p *v4l2PixFormat) PixFormat {
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        p.field,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
	}
}
