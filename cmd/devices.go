package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/smazurov/videocapture/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List video capture devices",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			devices, err := v4l2.FindDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tNAME\tID\tREAD/WRITE\tSTREAMING")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.DevicePath, d.DeviceName, d.DeviceID,
					yesNo(d.Caps&v4l2.CapReadWrite != 0), yesNo(d.Caps&v4l2.CapStreaming != 0))
			}
			return w.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
