package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smazurov/videocapture/internal/capture"
	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateInfoCmd creates the info command.
func CreateInfoCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "info [device...]",
		Short: "Show capabilities, negotiated format and supported formats",
		RunE: func(_ *cobra.Command, args []string) error {
			for _, path := range opts.devicePaths(args) {
				d, err := opts.openDevice(path)
				if err != nil {
					return err
				}
				err = printInfo(os.Stdout, d)
				if closeErr := d.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printInfo(w io.Writer, d *capture.Device) error {
	caps := d.Capability()
	fmt.Fprintf(w, "Device %s\n", d.Path())
	fmt.Fprintf(w, "  Driver:        %s (kernel %s)\n", caps.Driver, caps.KernelVersion())
	fmt.Fprintf(w, "  Card:          %s\n", caps.Card)
	fmt.Fprintf(w, "  Bus:           %s\n", caps.BusInfo)
	fmt.Fprintf(w, "  Capture:       %s\n", yesNo(caps.Has(v4l2.CapVideoCapture)))
	fmt.Fprintf(w, "  Read/write:    %s\n", yesNo(caps.Has(v4l2.CapReadWrite)))
	fmt.Fprintf(w, "  Streaming:     %s\n", yesNo(caps.Has(v4l2.CapStreaming)))

	f := d.Format()
	fmt.Fprintf(w, "  Format:        %dx%d %s field=%s bytesperline=%d sizeimage=%d\n",
		f.Width, f.Height, v4l2.FormatFourCC(f.PixelFormat), v4l2.FieldName(f.Field), f.BytesPerLine, f.SizeImage)
	if n := d.Negotiation(); n.Diverged() {
		fmt.Fprintf(w, "  Adjusted:      %s\n", strings.Join(n.Differences(), ", "))
	}
	fmt.Fprintf(w, "  Buffers:       %d x %d bytes\n", d.Ring().Len(), d.BufferSize())

	ci := d.ClockInfo()
	fmt.Fprintf(w, "  Clock:         %s, resolution %s, opened %s\n", ci.ID, ci.Resolution, ci.OpenedAt.Format("2006-01-02 15:04:05"))

	formats, err := d.Formats()
	if err != nil {
		return fmt.Errorf("enumerate formats: %w", err)
	}
	fmt.Fprintln(w, "  Formats:")
	for _, fi := range formats {
		var flags []string
		if fi.Compressed {
			flags = append(flags, "compressed")
		}
		if fi.Emulated {
			flags = append(flags, "emulated")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintf(w, "    [%d] %s %s%s\n", fi.Index, v4l2.FormatFourCC(fi.PixelFormat), fi.FormatName, suffix)
	}
	return nil
}
