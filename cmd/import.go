package cmd

import (
	"fmt"

	"github.com/illarion/lockersim/internal/config"
	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/spf13/cobra"
)

var importOverwrite bool

var importCmd = &cobra.Command{
	Use:   "import <dir> <file>...",
	Short: "Copy files into a lab directory",
	Long: `Copies each <file> into <dir> under its base name. Only the copy is
ever locked; the source file is not touched.`,
	Example: "  lockersim import ./lab ~/Downloads/sample.pdf",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, func(cfg *config.Config) {
			if importOverwrite {
				cfg.Conflict = "overwrite"
			}
		})
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

		out := cmd.OutOrStdout()
		var failed bool
		for _, src := range args[1:] {
			name, err := engine.Import(cmd.Context(), dir, src)
			if err != nil {
				fmt.Fprintf(out, "  %s: FAILED: %v\n", src, err)
				failed = true
				continue
			}
			fmt.Fprintf(out, "  %s -> %s\n", src, name)
		}

		if failed {
			return errPartial
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "replace files of the same name")
	rootCmd.AddCommand(importCmd)
}
