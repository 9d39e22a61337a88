package cmd

import (
	"fmt"

	"github.com/illarion/lockersim/internal/collector"
	"github.com/illarion/lockersim/internal/config"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	addr    string
	logPath string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the beacon collector",
	Long: `Listens for beacons and appends each one, with its receive time and
sender address, to a JSON Lines file. GET /health answers "ok".
Stops cleanly on Ctrl-C.`,
	Example: "  lockersim serve --addr 127.0.0.1:8000 --log beacons.jsonl",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, func(cfg *config.Config) {
			if cmd.Flags().Changed("addr") {
				cfg.Collector.Addr = serveFlags.addr
			}
			if cmd.Flags().Changed("log") {
				cfg.Collector.LogPath = serveFlags.logPath
			}
		})
		if err != nil {
			return err
		}
		defer a.Close()

		srv := collector.New(a.cfg.Collector.Addr, a.cfg.Collector.LogPath,
			collector.WithLogger(a.logger.With("component", "collector")),
		)

		fmt.Fprintf(cmd.OutOrStdout(), "Collecting beacons on %s into %s\n", a.cfg.Collector.Addr, a.cfg.Collector.LogPath)
		return srv.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", collector.DefaultAddr, "listen address")
	serveCmd.Flags().StringVar(&serveFlags.logPath, "log", collector.DefaultLogPath, "evidence log file")
	rootCmd.AddCommand(serveCmd)
}
