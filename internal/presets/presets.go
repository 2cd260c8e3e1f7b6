// Package presets applies control values from a TOML file to open capture
// devices and re-applies them when the file changes.
//
// A presets file lists devices by node path. Controls are keyed by name
// (matched like capture.Catalog.ByName) or by numeric id:
//
//	[[device]]
//	path = "/dev/video0"
//
//	[device.controls]
//	brightness = 140
//	"power_line_frequency" = 1
//	"0x0098091c" = 0
package presets

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/videocapture/internal/capture"
)

// File is a parsed presets file.
type File struct {
	Devices []Device `toml:"device"`
}

// Device holds the control values for one device node.
type Device struct {
	Path     string           `toml:"path"`
	Controls map[string]int64 `toml:"controls"`
}

// For returns the preset for path.
func (f *File) For(path string) (Device, bool) {
	if f == nil {
		return Device{}, false
	}
	for _, d := range f.Devices {
		if d.Path == path {
			return d, true
		}
	}
	return Device{}, false
}

// Load reads and parses a presets file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes presets from TOML. Duplicate device paths and values that
// do not fit a 32-bit control are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	seen := make(map[string]bool, len(f.Devices))
	for i, d := range f.Devices {
		if d.Path == "" {
			return nil, fmt.Errorf("device %d: missing path", i)
		}
		if seen[d.Path] {
			return nil, fmt.Errorf("device %s listed twice", d.Path)
		}
		seen[d.Path] = true
		for key, v := range d.Controls {
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("device %s: control %s: value %d out of range", d.Path, key, v)
			}
		}
	}
	return &f, nil
}

// Target is a device presets can be applied to. *capture.Device
// implements it.
type Target interface {
	Path() string
	Controls() (capture.Catalog, error)
	CaptureState() capture.LoopState
	PauseCapturing(pause bool)
	SetControl(id uint32, value int32) error
}

// Result reports what Apply did.
type Result struct {
	Applied []string // control names that were written
	Skipped []string // read-only or disabled controls
}

// Apply writes every control in p to t. A running capture loop is paused
// for the duration and resumed afterwards; a loop that was already paused
// stays paused. Unknown keys and failed writes are collected and returned
// together after the remaining controls have been applied.
func Apply(t Target, p Device, logger *slog.Logger) (Result, error) {
	var res Result
	if len(p.Controls) == 0 {
		return res, nil
	}

	cat, err := t.Controls()
	if err != nil {
		return res, fmt.Errorf("enumerate controls: %w", err)
	}

	type write struct {
		desc  capture.ControlDescriptor
		value int32
	}
	var writes []write
	var errs []error

	keys := make([]string, 0, len(p.Controls))
	for k := range p.Controls {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		desc, ok := resolve(cat, key)
		if !ok {
			errs = append(errs, fmt.Errorf("control %q: not offered by %s", key, t.Path()))
			continue
		}
		if desc.ReadOnly() || desc.Disabled() {
			logger.Warn("Skipping control that cannot be written", "control", desc.Name, "flags", desc.Flags)
			res.Skipped = append(res.Skipped, desc.Name)
			continue
		}
		value := int32(p.Controls[key])
		if value < desc.Minimum || value > desc.Maximum {
			logger.Warn("Control value outside driver range; driver will clamp",
				"control", desc.Name, "value", value, "min", desc.Minimum, "max", desc.Maximum)
		}
		writes = append(writes, write{desc: desc, value: value})
	}

	if len(writes) > 0 {
		state := t.CaptureState()
		pause := state == capture.LoopRunning
		if pause {
			t.PauseCapturing(true)
		}
		for _, w := range writes {
			if err := t.SetControl(w.desc.ID, w.value); err != nil {
				errs = append(errs, fmt.Errorf("control %q: %w", w.desc.Name, err))
				continue
			}
			res.Applied = append(res.Applied, w.desc.Name)
		}
		if pause {
			t.PauseCapturing(false)
		}
	}

	logger.Info("Applied control presets",
		"device", t.Path(),
		"applied", len(res.Applied),
		"skipped", len(res.Skipped),
		"failed", len(errs))
	return res, errors.Join(errs...)
}

// resolve finds a control by numeric id ("9963776", "0x980900") or name.
func resolve(cat capture.Catalog, key string) (capture.ControlDescriptor, bool) {
	if id, err := strconv.ParseUint(key, 0, 32); err == nil {
		return cat.Lookup(uint32(id))
	}
	return cat.ByName(key)
}
