// Package cmd implements the videocapture command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/smazurov/videocapture/internal/capture"
	"github.com/smazurov/videocapture/internal/config"
	"github.com/smazurov/videocapture/internal/logging"
	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping. Flag names are
// derived from field names (PixelFormat -> --pixel-format) so that flags
// set on the command line win over the file and environment.
type Options struct {
	Config string

	// Capture settings
	Devices        []string      `toml:"capture.devices" env:"DEVICES"`
	Width          uint          `toml:"capture.width" env:"WIDTH"`
	Height         uint          `toml:"capture.height" env:"HEIGHT"`
	PixelFormat    string        `toml:"capture.pixel_format" env:"PIXEL_FORMAT"`
	Buffers        int           `toml:"capture.buffers" env:"BUFFERS"`
	Clock          string        `toml:"capture.clock" env:"CLOCK"`
	ReadTimeout    time.Duration `toml:"capture.read_timeout" env:"READ_TIMEOUT"`
	StatusInterval time.Duration `toml:"capture.status_interval" env:"STATUS_INTERVAL"`

	// Presets settings
	PresetsFile     string        `toml:"presets.file" env:"PRESETS_FILE"`
	PresetsDebounce time.Duration `toml:"presets.debounce" env:"PRESETS_DEBOUNCE"`

	// Metrics settings
	MetricsAddr string `toml:"metrics.addr" env:"METRICS_ADDR"`

	// Logging settings
	LoggingLevel  string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `toml:"logging.format" env:"LOGGING_FORMAT"`
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&Options{})
}

func newRootCmd(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "videocapture",
		Short:         "Capture frames from V4L2 devices",
		Long:          `Opens Video4Linux capture devices using read() I/O, keeps the newest frames in a ring of buffers and exposes device controls.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			if err := config.LoadConfig(opts, c); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			lc := config.LoadLoggingConfig(opts.Config)
			lc.Level = opts.LoggingLevel
			lc.Format = opts.LoggingFormat
			logging.Initialize(lc)
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.Config, "config", "c", "videocapture.toml", "Path to configuration file")
	f.StringSliceVarP(&opts.Devices, "devices", "d", nil, "Device nodes to use (default /dev/video0)")
	f.UintVar(&opts.Width, "width", capture.DefaultWidth, "Requested frame width")
	f.UintVar(&opts.Height, "height", capture.DefaultHeight, "Requested frame height")
	f.StringVar(&opts.PixelFormat, "pixel-format", "RGB3", "Requested pixel format fourcc")
	f.IntVar(&opts.Buffers, "buffers", capture.DefaultBufferCount, "Number of frame buffers per device")
	f.StringVar(&opts.Clock, "clock", capture.ClockMonotonic.String(), "Clock used to timestamp frames")
	f.DurationVar(&opts.ReadTimeout, "read-timeout", capture.DefaultReadTimeout, "Frame wait bound for period measurement")
	f.DurationVar(&opts.StatusInterval, "status-interval", 5*time.Second, "Interval between capture status lines")
	f.StringVar(&opts.PresetsFile, "presets-file", "", "Control presets file, re-applied on change")
	f.DurationVar(&opts.PresetsDebounce, "presets-debounce", 500*time.Millisecond, "Delay before re-applying a changed presets file")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.StringVar(&opts.LoggingLevel, "logging-level", "info", "Global logging level (debug, info, warn, error)")
	f.StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")

	root.AddCommand(
		CreateDevicesCmd(),
		CreateInfoCmd(opts),
		CreateControlsCmd(opts),
		CreateControlCmd(opts),
		CreatePeriodCmd(opts),
		CreateCaptureCmd(opts),
		CreateVersionCmd(),
	)
	return root
}

// captureConfig builds the device configuration for path from opts.
func (o *Options) captureConfig(path string) (capture.Config, error) {
	cfg := capture.DefaultConfig(path)
	cfg.Width = uint32(o.Width)
	cfg.Height = uint32(o.Height)
	cfg.BufferCount = o.Buffers
	cfg.ReadTimeout = o.ReadTimeout

	pf, err := v4l2.ParseFourCC(o.PixelFormat)
	if err != nil {
		return cfg, err
	}
	cfg.PixelFormat = pf

	clock, err := capture.ParseClockID(o.Clock)
	if err != nil {
		return cfg, err
	}
	cfg.Clock = clock
	return cfg, nil
}

// devicePaths returns args, or the configured devices, or /dev/video0.
func (o *Options) devicePaths(args []string) []string {
	switch {
	case len(args) > 0:
		return args
	case len(o.Devices) > 0:
		return o.Devices
	default:
		return []string{"/dev/video0"}
	}
}

// openDevice opens a node path or stable device id with the configured
// format.
func (o *Options) openDevice(ref string, extra ...capture.Option) (*capture.Device, error) {
	path, err := v4l2.ResolvePath(ref)
	if err != nil {
		return nil, err
	}
	cfg, err := o.captureConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return capture.Open(cfg, extra...)
}
