package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/lockersim/internal/core"
	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/spf13/cobra"
)

var (
	seedText   int
	seedBinary int
)

var seedCmd = &cobra.Command{
	Use:   "seed <dir>",
	Short: "Create a lab directory filled with dummy files",
	Long: `Creates <dir> if needed and writes dummy text files (file_00.txt, ...)
and binary files (blob_00.bin, ...) into it. Existing files with the same
names are replaced.`,
	Example: "  lockersim seed ./lab --text 12 --binary 3",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedText < 0 || seedBinary < 0 {
			return fmt.Errorf("file counts must not be negative")
		}

		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := os.MkdirAll(args[0], 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", args[0], err)
		}
		dir, err := fsdir.Open(args[0])
		if err != nil {
			return err
		}
		defer dir.Close()

		engine, err := a.engine()
		if err != nil {
			return err
		}

		names, err := engine.Seed(cmd.Context(), dir, seedText, seedBinary)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d file(s) in %s\n", len(names), dir.Path())
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedText, "text", core.DefaultSeedText, "number of text files")
	seedCmd.Flags().IntVar(&seedBinary, "binary", core.DefaultSeedBinary, "number of binary files")
	rootCmd.AddCommand(seedCmd)
}
