package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/videocapture/internal/capture"
	"github.com/smazurov/videocapture/internal/events"
	"github.com/smazurov/videocapture/internal/logging"
	"github.com/smazurov/videocapture/internal/metrics"
	"github.com/smazurov/videocapture/internal/metrics/exporters"
	"github.com/smazurov/videocapture/internal/presets"
	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "capture [device...]",
		Short: "Capture continuously from one or more devices",
		Long: `Opens every device, starts its capture loop and reports the newest frame of each ` +
			`device at the status interval. Control presets are applied on open and re-applied ` +
			`when the presets file changes. A device whose node disappears is closed.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runCapture(c.Context(), opts, opts.devicePaths(args))
		},
	}
}

type session struct {
	logger  *slog.Logger
	bus     *events.Bus
	presets *presets.Manager

	mu      sync.Mutex
	devices map[string]*capture.Device // keyed by canonical node path

	options []capture.Option
}

func runCapture(ctx context.Context, opts *Options, paths []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		logger:  logging.GetLogger("cli"),
		bus:     events.New(),
		devices: make(map[string]*capture.Device),
	}
	defer s.bus.Subscribe(func(e events.FormatNegotiatedEvent) {
		if e.Diverged {
			s.logger.Warn("Capturing with adjusted format", "device", e.DevicePath,
				"width", e.Width, "height", e.Height, "format", e.Format)
		}
	})()

	if opts.PresetsFile != "" {
		s.presets = presets.NewManager(opts.PresetsFile, logging.GetLogger("presets"))
		if err := s.presets.Load(); err != nil {
			return err
		}
		if err := s.presets.Watch(opts.PresetsDebounce); err != nil {
			s.logger.Warn("Presets will not be reloaded", "error", err)
		}
		defer s.presets.Stop()
	}

	for _, path := range paths {
		if err := s.open(opts, path, cancel); err != nil {
			s.logger.Error("Failed to open device", "device", path, "error", err)
		}
	}
	defer s.closeAll()
	if s.count() == 0 {
		return errors.New("no device could be opened")
	}

	if opts.MetricsAddr != "" {
		go func() {
			if err := exporters.Serve(ctx, opts.MetricsAddr, s.logger); err != nil {
				s.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	go watchRemovals(ctx, logging.GetLogger("hotplug"), s.remove)

	interval := opts.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping capture")
			return nil
		case <-ticker.C:
			if s.count() == 0 {
				return errors.New("all devices are gone")
			}
			s.report()
		}
	}
}

// open opens path, applies its presets and starts capturing. A fatal
// capture error ends the session unless the device went away.
func (s *session) open(opts *Options, path string, abort context.CancelFunc) error {
	// Removal events name the kernel node, not the symlink, and the
	// symlink is gone by the time the loop sees ENODEV.
	var node string
	d, err := opts.openDevice(path, append(slices.Clip(s.options),
		capture.WithEventBus(s.bus),
		capture.WithFatalHandler(func(err error) {
			if errors.Is(err, syscall.ENODEV) {
				s.remove(node)
				return
			}
			s.logger.Error("Capture failed", "device", path, "error", err)
			abort()
		}))...)
	if err != nil {
		return err
	}

	node = v4l2.CanonicalPath(d.Path())

	if s.presets != nil {
		if err := s.presets.Register(d); err != nil {
			s.logger.Warn("Presets partially applied", "device", path, "error", err)
		}
	}
	if err := d.StartCapturing(); err != nil {
		_ = d.Close()
		return err
	}

	s.mu.Lock()
	s.devices[node] = d
	s.mu.Unlock()
	return nil
}

func (s *session) remove(node string) {
	node = v4l2.CanonicalPath(node)
	s.mu.Lock()
	d, ok := s.devices[node]
	delete(s.devices, node)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Warn("Device removed", "device", node)
	s.bus.Publish(events.DeviceRemovedEvent{DevicePath: node, At: time.Now()})
	if s.presets != nil {
		s.presets.Unregister(d.Path())
	}
	if err := d.Close(); err != nil {
		s.logger.Debug("Close after removal", "device", node, "error", err)
	}
}

func (s *session) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// report polls every device independently for its newest frame.
func (s *session) report() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.devices))
	for p := range s.devices {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	devices := make([]*capture.Device, len(paths))
	for i, p := range paths {
		devices[i] = s.devices[p]
	}
	s.mu.Unlock()

	for _, d := range devices {
		m := metrics.GetDeviceMetrics(d.Path())
		if m == nil {
			m = &metrics.DeviceMetrics{}
		}

		var age time.Duration
		var size int
		d.Ring().ReadNewest(1, func(views []capture.View) {
			if views[0].Timestamp.Written() {
				age = d.Now().Sub(views[0].Timestamp)
				size = len(views[0].Data)
			}
		})

		s.logger.Info("Capture status",
			"device", d.Path(),
			"state", d.CaptureState(),
			"frames", m.Frames,
			"skipped", m.Skipped,
			"locked", m.LockedBuffers,
			"newest_age", age.Round(time.Millisecond),
			"newest_bytes", size)
	}
}

func (s *session) closeAll() {
	s.mu.Lock()
	devices := s.devices
	s.devices = make(map[string]*capture.Device)
	s.mu.Unlock()

	for path, d := range devices {
		if err := d.Close(); err != nil {
			s.logger.Warn("Close failed", "device", path, "error", fmt.Errorf("close: %w", err))
		}
	}
}
