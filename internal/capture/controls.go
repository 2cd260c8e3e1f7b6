package capture

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/smazurov/videocapture/internal/events"
	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
)

// ControlDescriptor describes one control as reported by VIDIOC_QUERYCTRL.
type ControlDescriptor struct {
	ID      uint32
	Name    string
	Type    v4l2.ControlType
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
	Menu    []MenuEntry // filled for menu controls by Controls
}

// Disabled reports whether the driver has switched the control off.
func (c ControlDescriptor) Disabled() bool { return c.Flags&v4l2.CtrlFlagDisabled != 0 }

// ReadOnly reports whether the control can only be read.
func (c ControlDescriptor) ReadOnly() bool { return c.Flags&v4l2.CtrlFlagReadOnly != 0 }

// Inactive reports whether the control currently has no effect.
func (c ControlDescriptor) Inactive() bool { return c.Flags&v4l2.CtrlFlagInactive != 0 }

// Grabbed reports whether another process holds the control.
func (c ControlDescriptor) Grabbed() bool { return c.Flags&v4l2.CtrlFlagGrabbed != 0 }

// IsMenu reports whether the control takes named menu entries.
func (c ControlDescriptor) IsMenu() bool { return c.Type == v4l2.CtrlTypeMenu }

// Private reports whether the id is in the driver private range.
func (c ControlDescriptor) Private() bool { return c.ID >= v4l2.CIDPrivateBase }

func describeControl(info v4l2.ControlInfo) ControlDescriptor {
	return ControlDescriptor{
		ID:      info.ID,
		Name:    info.Name,
		Type:    info.Type,
		Minimum: info.Minimum,
		Maximum: info.Maximum,
		Step:    info.Step,
		Default: info.Default,
		Flags:   info.Flags,
	}
}

// MenuEntry is one named value of a menu control.
type MenuEntry struct {
	ControlID uint32
	Index     uint32
	Name      string
}

// Catalog is the set of controls a device offers.
type Catalog struct {
	Standard []ControlDescriptor
	Private  []ControlDescriptor
}

// All returns standard controls followed by private ones.
func (c Catalog) All() []ControlDescriptor {
	all := make([]ControlDescriptor, 0, len(c.Standard)+len(c.Private))
	all = append(all, c.Standard...)
	return append(all, c.Private...)
}

// Lookup finds a control by id.
func (c Catalog) Lookup(id uint32) (ControlDescriptor, bool) {
	for _, desc := range c.All() {
		if desc.ID == id {
			return desc, true
		}
	}
	return ControlDescriptor{}, false
}

// ByName finds a control by name. Case, spaces and punctuation are ignored,
// so "white_balance_temperature" matches "White Balance Temperature".
func (c Catalog) ByName(name string) (ControlDescriptor, bool) {
	want := NormalizeControlName(name)
	for _, desc := range c.All() {
		if NormalizeControlName(desc.Name) == want {
			return desc, true
		}
	}
	return ControlDescriptor{}, false
}

// NormalizeControlName lowercases name and drops everything but letters
// and digits.
func NormalizeControlName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Controls enumerates standard and private controls and the entries of
// every enabled menu control.
func (d *Device) Controls() (Catalog, error) {
	standard, err := d.EnumerateStandard()
	if err != nil {
		return Catalog{}, err
	}
	private, err := d.EnumeratePrivate()
	if err != nil {
		return Catalog{}, err
	}

	cat := Catalog{Standard: standard, Private: private}
	for _, list := range [][]ControlDescriptor{cat.Standard, cat.Private} {
		for i := range list {
			if !list[i].IsMenu() || list[i].Disabled() {
				continue
			}
			menu, err := d.EnumerateMenu(list[i])
			if err != nil {
				return Catalog{}, err
			}
			list[i].Menu = menu
		}
	}

	d.catalog.Store(&cat)
	return cat, nil
}

// EnumerateStandard queries every id in the standard user control range.
// Ids the driver does not implement are skipped.
func (d *Device) EnumerateStandard() ([]ControlDescriptor, error) {
	var found []ControlDescriptor
	for id := v4l2.CIDBase; id < v4l2.CIDLastP1; id++ {
		info, err := d.RawQueryControl(id)
		if v4l2.IsInvalid(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query control %#x: %w", id, err)
		}
		found = append(found, describeControl(info))
	}
	return found, nil
}

// EnumeratePrivate queries driver private controls from CIDPrivateBase
// upward until the first id the driver rejects.
func (d *Device) EnumeratePrivate() ([]ControlDescriptor, error) {
	found, err := probeUntilNotFound(func(i uint32) (ControlDescriptor, error) {
		info, err := d.RawQueryControl(v4l2.CIDPrivateBase + i)
		if err != nil {
			return ControlDescriptor{}, err
		}
		return describeControl(info), nil
	})
	if err != nil {
		return nil, fmt.Errorf("query private control %#x: %w", v4l2.CIDPrivateBase+uint32(len(found)), err)
	}
	return found, nil
}

// EnumerateMenu queries the entries of a menu control for every index
// from its minimum to its maximum. Indices the driver refuses are logged
// and skipped. Non-menu controls have no entries.
func (d *Device) EnumerateMenu(desc ControlDescriptor) ([]MenuEntry, error) {
	if !desc.IsMenu() {
		return nil, nil
	}

	var entries []MenuEntry
	for i := max(int64(desc.Minimum), 0); i <= int64(desc.Maximum); i++ {
		item, err := d.RawQueryMenu(desc.ID, uint32(i))
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		if err != nil {
			d.ctlLogger.Debug("Menu entry unavailable", "control", desc.Name, "index", i, "error", err)
			continue
		}
		entries = append(entries, MenuEntry{ControlID: desc.ID, Index: item.Index, Name: item.Name})
	}
	return entries, nil
}

// Control reads the current value of a control.
func (d *Device) Control(id uint32) (int32, error) {
	v, err := d.RawControlGet(id)
	if err != nil {
		return 0, fmt.Errorf("get control %#x: %w", id, err)
	}
	return v, nil
}

// SetControl writes a control value. The driver may clamp it.
func (d *Device) SetControl(id uint32, value int32) error {
	if err := d.RawControlSet(id, value); err != nil {
		return fmt.Errorf("set control %#x: %w", id, err)
	}

	name := ""
	if cat := d.catalog.Load(); cat != nil {
		if desc, ok := cat.Lookup(id); ok {
			name = desc.Name
		}
	}
	d.ctlLogger.Debug("Control set", "id", fmt.Sprintf("%#x", id), "name", name, "value", value)
	d.bus.Publish(events.ControlChangedEvent{
		DevicePath: d.cfg.Path,
		ControlID:  id,
		Name:       name,
		Value:      value,
	})
	return nil
}

// ControlOrDefault reads a control and falls back to its default value
// when the read fails.
func (d *Device) ControlOrDefault(desc ControlDescriptor) int32 {
	v, err := d.Control(desc.ID)
	if err != nil {
		d.ctlLogger.Debug("Using default control value", "control", desc.Name, "error", err)
		return desc.Default
	}
	return v
}
