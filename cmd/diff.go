package cmd

import (
	"fmt"

	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <dir>",
	Short: "Compare locked blobs with plaintext files of the same name",
	Long: `For every <name>.gcm whose <name> also exists, decrypts the blob in
memory and prints a unified diff against the current file. Nothing is
written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := fsdir.Open(args[0])
		if err != nil {
			return err
		}
		defer dir.Close()

		engine, err := a.engine()
		if err != nil {
			return err
		}

		diffs, err := engine.Diff(cmd.Context(), dir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(diffs) == 0 {
			fmt.Fprintln(out, "No locked file has a plaintext counterpart")
			return nil
		}

		var failed bool
		for _, d := range diffs {
			switch {
			case d.Err != nil:
				fmt.Fprintf(out, "%s: FAILED: %v\n", d.Name, d.Err)
				failed = true
			case d.Identical:
				fmt.Fprintf(out, "%s: identical\n", d.Name)
			default:
				fmt.Fprint(out, d.Text)
			}
		}

		if failed {
			return errPartial
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
