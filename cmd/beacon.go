package cmd

import (
	"fmt"
	"time"

	"github.com/illarion/lockersim/internal/beacon"
	"github.com/illarion/lockersim/internal/config"
	"github.com/spf13/cobra"
)

var beaconFlags struct {
	url      string
	bursts   int
	interval time.Duration
	timeout  time.Duration
}

var beaconCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Send \"encrypted\" beacons to a collector",
	Long: `POSTs a JSON beacon {model, platform_version, status, nonce} to the
collector URL, --bursts times, waiting --interval between bursts. Failed
bursts are reported and not retried. Ctrl-C stops the schedule.

Run 'lockersim serve' in another terminal to receive them.`,
	Example: `  lockersim beacon
  lockersim beacon --url http://127.0.0.1:8000/beacon --bursts 3 --interval 2s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, func(cfg *config.Config) {
			flags := cmd.Flags()
			if flags.Changed("url") {
				cfg.Beacon.URL = beaconFlags.url
			}
			if flags.Changed("bursts") {
				cfg.Beacon.Bursts = beaconFlags.bursts
			}
			if flags.Changed("interval") {
				cfg.Beacon.Interval = beaconFlags.interval
			}
			if flags.Changed("timeout") {
				cfg.Beacon.Timeout = beaconFlags.timeout
			}
		})
		if err != nil {
			return err
		}
		defer a.Close()

		bc := a.cfg.Beacon
		id := beacon.DefaultIdentity()
		if bc.Model != "" {
			id.Model = bc.Model
		}
		if bc.PlatformVersion != "" {
			id.PlatformVersion = bc.PlatformVersion
		}

		sender := beacon.NewSender(
			beacon.WithLogger(a.logger.With("component", "beacon")),
			beacon.WithIdentity(id),
			beacon.WithTimeout(bc.Timeout),
		)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Sending %d beacon(s) to %s every %s\n", bc.Bursts, bc.URL, bc.Interval)

		task := sender.Start(cmd.Context(), bc.URL, bc.Bursts, bc.Interval)
		report := task.Wait()

		for _, at := range report.Attempts {
			if at.OK() {
				fmt.Fprintf(out, "  burst %d: delivered (nonce %d, %s)\n", at.Burst+1, at.Nonce, at.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(out, "  burst %d: FAILED: %v\n", at.Burst+1, at.Err)
			}
		}
		fmt.Fprintf(out, "Delivered %d of %d\n", report.Delivered(), len(report.Attempts))

		if report.Cancelled {
			return errCancelled
		}
		return nil
	},
}

func init() {
	flags := beaconCmd.Flags()
	flags.StringVar(&beaconFlags.url, "url", "", "collector URL (default from config)")
	flags.IntVar(&beaconFlags.bursts, "bursts", 0, "number of beacons")
	flags.DurationVar(&beaconFlags.interval, "interval", 0, "wait between beacons")
	flags.DurationVar(&beaconFlags.timeout, "timeout", 0, "per-request timeout")
	rootCmd.AddCommand(beaconCmd)
}
