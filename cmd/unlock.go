package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var unlockFlags batchFlags

var unlockCmd = &cobra.Command{
	Use:   "unlock <dir>",
	Short: "Restore every .gcm file in a lab directory",
	Long: `Decrypts every <name>.gcm of <dir> back to <name> and removes the blob.
A blob that was renamed, truncated or locked with another key fails
authentication and is left in place; the rest of the directory is still
restored.

When <name> already exists, --conflict decides: skip leaves both files,
overwrite replaces <name>, keep-both writes <name>.from-locked.`,
	Example: `  lockersim unlock ./lab
  lockersim unlock ./lab --conflict keep-both`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, unlockFlags.apply(cmd))
		if err != nil {
			return err
		}
		defer a.Close()

		engine, err := a.engine()
		if err != nil {
			return err
		}

		res, err := engine.UnlockPath(cmd.Context(), args[0])
		if res == nil {
			return err
		}
		perr := printResult(cmd, res)

		for _, f := range res.Failures {
			if failedCrypto(f.Kind) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Blobs that fail authentication were modified, renamed or locked with a different key")
				break
			}
		}

		if err == nil {
			err = perr
		}
		return err
	},
}

func init() {
	unlockFlags.register(unlockCmd, "when <name> already exists: skip, overwrite or keep-both")
	rootCmd.AddCommand(unlockCmd)
}
