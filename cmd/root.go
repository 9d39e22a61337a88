package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	stateDirFlag  string
	keyBackendArg string
	logLevelFlag  string
	logFormatFlag string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockersim",
	Short: "Ransomware-style behavior simulator for lab directories",
	Long: `lockersim encrypts and restores the files of a lab directory the way
ransomware would, and emits "encrypted" beacons to a local collector.

It is a teaching and testing tool. Point it only at throwaway directories
created with 'lockersim seed'. Every locked file can be restored with
'lockersim unlock' as long as the key is kept.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "JSON configuration file")
	flags.StringVar(&stateDirFlag, "state-dir", "", "directory holding the state database and leases")
	flags.StringVar(&keyBackendArg, "key-backend", "", "key store: keyring, file or memory")
	flags.StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error")
	flags.StringVar(&logFormatFlag, "log-format", "", "text or json")
}

// Execute runs the command tree and returns the process exit code
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return HandleError(err)
	}
	return 0
}
