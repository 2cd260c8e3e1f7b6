package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// CreatePeriodCmd creates the period command.
func CreatePeriodCmd(opts *Options) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "period [device...]",
		Short: "Measure the interval between frames",
		Long:  `Reads frames for the given duration and prints the mean interval between them and its standard deviation.`,
		RunE: func(c *cobra.Command, args []string) error {
			for _, path := range opts.devicePaths(args) {
				d, err := opts.openDevice(path)
				if err != nil {
					return err
				}
				p, err := d.DetermineCapturePeriod(c.Context(), duration)
				_ = d.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				fps := 0.0
				if p.Mean > 0 {
					fps = float64(time.Second) / float64(p.Mean)
				}
				fmt.Printf("%s: mean %.4fs stddev %.4fs (%.2f fps, %d intervals)\n",
					path, p.Mean.Seconds(), p.StdDev.Seconds(), fps, p.Samples)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "How long to measure")
	return cmd
}
