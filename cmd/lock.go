package cmd

import (
	"fmt"

	"github.com/illarion/lockersim/internal/config"
	"github.com/illarion/lockersim/internal/core"
	"github.com/spf13/cobra"
)

// batchFlags are shared by lock and unlock
type batchFlags struct {
	workers  int
	conflict string
	noNote   bool
	yes      bool
}

func (f *batchFlags) register(cmd *cobra.Command, conflictHelp string) {
	cmd.Flags().IntVar(&f.workers, "workers", 0, "files processed in parallel (default from config)")
	cmd.Flags().StringVar(&f.conflict, "conflict", "", conflictHelp)
}

func (f *batchFlags) apply(cmd *cobra.Command) func(cfg *config.Config) {
	return func(cfg *config.Config) {
		if cmd.Flags().Changed("workers") {
			cfg.Workers = f.workers
		}
		if cmd.Flags().Changed("conflict") {
			cfg.Conflict = f.conflict
		}
		if f.noNote {
			cfg.Note = false
		}
	}
}

var lockFlags batchFlags

var lockCmd = &cobra.Command{
	Use:   "lock <dir>",
	Short: "Encrypt every file in a lab directory",
	Long: `Encrypts every regular file of <dir> with AES-256-GCM and replaces it
with <name>.gcm. Files already ending in .gcm are left alone, so running
lock twice is harmless. A ransom-style note is written unless --no-note.

The key is created on first use and kept by the configured key backend.`,
	Example: `  lockersim seed ./lab && lockersim lock ./lab --yes
  lockersim lock ./lab --workers 4 --conflict overwrite`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, lockFlags.apply(cmd))
		if err != nil {
			return err
		}
		defer a.Close()

		dir := args[0]
		if !lockFlags.yes {
			ok, err := confirm(cmd, fmt.Sprintf("Encrypt every file in %s?", dir))
			if err != nil {
				return err
			}
			if !ok {
				return errCancelled
			}
		}
		if a.cfg.KeyBackend == "memory" {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: memory key backend, the key is lost when lockersim exits and the files cannot be unlocked")
		}

		engine, err := a.engine()
		if err != nil {
			return err
		}

		res, err := engine.LockPath(cmd.Context(), dir)
		if res != nil {
			if perr := printResult(cmd, res); err == nil {
				err = perr
			}
		}
		return err
	},
}

func init() {
	lockFlags.register(lockCmd, "when <name>.gcm already exists: skip or overwrite")
	lockCmd.Flags().BoolVar(&lockFlags.noNote, "no-note", false, "do not write "+core.NoteName)
	lockCmd.Flags().BoolVarP(&lockFlags.yes, "yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(lockCmd)
}
