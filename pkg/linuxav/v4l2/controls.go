//go:build linux

package v4l2

import "unsafe"

// QueryControl describes control id. Unknown ids answer EINVAL.
func (d *Device) QueryControl(id uint32) (ControlInfo, error) {
	q := v4l2Queryctrl{id: id}
	if err := ioctl(d.fd, vidiocQueryctrl, "VIDIOC_QUERYCTRL", unsafe.Pointer(&q)); err != nil {
		return ControlInfo{}, err
	}
	return ControlInfo{
		ID:      q.id,
		Type:    ControlType(q.typ),
		Name:    cstr(q.name[:]),
		Minimum: q.minimum,
		Maximum: q.maximum,
		Step:    q.step,
		Default: q.defaultValue,
		Flags:   q.flags,
	}, nil
}

// QueryMenu returns the name of menu entry index of control id.
func (d *Device) QueryMenu(id, index uint32) (MenuItem, error) {
	m := v4l2Querymenu{id: id, index: index}
	if err := ioctl(d.fd, vidiocQuerymenu, "VIDIOC_QUERYMENU", unsafe.Pointer(&m)); err != nil {
		return MenuItem{}, err
	}
	return MenuItem{ID: m.id, Index: m.index, Name: cstr(m.name[:])}, nil
}

// GetControl reads the current value of control id.
func (d *Device) GetControl(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := ioctl(d.fd, vidiocGCtrl, "VIDIOC_G_CTRL", unsafe.Pointer(&c)); err != nil {
		return 0, err
	}
	return c.value, nil
}

// SetControl writes value to control id. The driver may clamp the value.
func (d *Device) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	return ioctl(d.fd, vidiocSCtrl, "VIDIOC_S_CTRL", unsafe.Pointer(&c))
}
