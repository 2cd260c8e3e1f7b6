package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/smazurov/videocapture/internal/capture"
	"github.com/spf13/cobra"
)

// CreateControlsCmd creates the controls command.
func CreateControlsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "controls [device]",
		Short: "List standard and private controls with their current values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d, err := opts.openDevice(opts.devicePaths(args)[0])
			if err != nil {
				return err
			}
			defer d.Close()

			cat, err := d.Controls()
			if err != nil {
				return err
			}
			printControls(os.Stdout, d, cat)
			return nil
		},
	}
}

func printControls(w io.Writer, d *capture.Device, cat capture.Catalog) {
	section := func(title string, list []capture.ControlDescriptor) {
		fmt.Fprintf(w, "%s (%d)\n", title, len(list))
		for _, c := range list {
			state := ""
			switch {
			case c.Disabled():
				state = " [disabled]"
			case c.ReadOnly():
				state = " [read-only]"
			case c.Inactive():
				state = " [inactive]"
			}
			fmt.Fprintf(w, "  %#08x %-32s %-8s min=%d max=%d step=%d default=%d",
				c.ID, c.Name, c.Type, c.Minimum, c.Maximum, c.Step, c.Default)
			if !c.Disabled() {
				fmt.Fprintf(w, " value=%d", d.ControlOrDefault(c))
			}
			fmt.Fprintln(w, state)
			for _, m := range c.Menu {
				fmt.Fprintf(w, "      %d: %s\n", m.Index, m.Name)
			}
		}
	}
	section("Standard controls", cat.Standard)
	section("Private controls", cat.Private)
}

// CreateControlCmd creates the control command with get and set
// subcommands. Controls are named by id or by name.
func CreateControlCmd(opts *Options) *cobra.Command {
	var device string

	control := &cobra.Command{
		Use:   "control",
		Short: "Read or write a single control",
	}
	control.PersistentFlags().StringVar(&device, "device", "", "Device node (default: first configured device)")

	pick := func() string {
		if device != "" {
			return device
		}
		return opts.devicePaths(nil)[0]
	}

	get := &cobra.Command{
		Use:   "get <control>",
		Short: "Print a control value",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d, err := opts.openDevice(pick())
			if err != nil {
				return err
			}
			defer d.Close()

			desc, err := findControl(d, args[0])
			if err != nil {
				return err
			}
			v, err := d.Control(desc.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s = %d\n", desc.Name, v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <control> <value>",
		Short: "Write a control value",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("value %q: %w", args[1], err)
			}

			d, err := opts.openDevice(pick())
			if err != nil {
				return err
			}
			defer d.Close()

			desc, err := findControl(d, args[0])
			if err != nil {
				return err
			}
			if err := d.SetControl(desc.ID, int32(value)); err != nil {
				return err
			}
			// The driver may have clamped the value.
			fmt.Printf("%s = %d\n", desc.Name, d.ControlOrDefault(desc))
			return nil
		},
	}

	control.AddCommand(get, set)
	return control
}

func findControl(d *capture.Device, key string) (capture.ControlDescriptor, error) {
	cat, err := d.Controls()
	if err != nil {
		return capture.ControlDescriptor{}, err
	}
	if id, err := strconv.ParseUint(key, 0, 32); err == nil {
		if desc, ok := cat.Lookup(uint32(id)); ok {
			return desc, nil
		}
	} else if desc, ok := cat.ByName(key); ok {
		return desc, nil
	}
	return capture.ControlDescriptor{}, fmt.Errorf("%s has no control %q", d.Path(), key)
}
