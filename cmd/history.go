package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	pruneKeep    int
)

var historyCmd = &cobra.Command{
	Use:   "history [<dir>]",
	Short: "Show the journal of lock and unlock runs",
	Long: `Shows recorded lock and unlock runs, newest first. With <dir>, only
runs on that directory are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		var dir string
		if len(args) == 1 {
			if dir, err = filepath.Abs(args[0]); err != nil {
				return err
			}
		}

		db, err := a.storage()
		if err != nil {
			return err
		}
		runs, err := db.ListRuns(dir, historyLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if created, err := db.GetCreated(); err == nil {
			fmt.Fprintf(out, "State: %s (created %s)\n", db.Path(), humanize.Time(created))
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tOP\tDONE\tSKIPPED\tFAILED\tTOOK\tDIR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				r.Started.Local().Format(time.DateTime),
				r.Op,
				r.Transformed,
				r.Skipped,
				len(r.Failures),
				r.Finished.Sub(r.Started).Round(time.Millisecond),
				r.Dir)
		}
		w.Flush()

		for _, r := range runs {
			if r.Error != "" {
				fmt.Fprintf(out, "\n%s %s: %s\n", r.ID, r.Op, r.Error)
			}
			for _, f := range r.Failures {
				fmt.Fprintf(out, "  %s %s: %s (%s)\n", shortID(r.ID), f.Name, f.Kind, f.Message)
			}
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop old journal entries and compact the state database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneKeep < 0 {
			return fmt.Errorf("--keep must not be negative")
		}

		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		db, err := a.storage()
		if err != nil {
			return err
		}

		removed, err := db.PruneRuns(pruneKeep)
		if err != nil {
			return err
		}

		sizeBefore := fileSize(db.Path())
		if err := db.Compact(); err != nil {
			return err
		}
		sizeAfter := fileSize(db.Path())

		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s); compacted: %s -> %s\n",
			removed, humanize.IBytes(sizeBefore), humanize.IBytes(sizeAfter))
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs shown, 0 for all")
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 100, "newest runs to keep")
	historyCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(historyCmd)
}
