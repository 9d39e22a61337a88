package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/illarion/lockersim/internal/core"
	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list <dir>",
	Aliases: []string{"ls", "status"},
	Short:   "Show the files of a lab directory and their state",
	Long: `Lists the entries of <dir> with their size and state: locked (a .gcm
blob), plain, or ignored (directories, links, the note). Needs no key.`,
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

		entries, err := dir.List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "%s is empty\n", dir.Path())
			fmt.Fprintln(out, "Run 'lockersim seed <dir>' to create dummy files")
			return nil
		}

		var locked, plain int
		var total uint64
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tSIZE\tMODIFIED\tNAME")
		for _, ent := range entries {
			state := entryState(dir, ent)
			switch state {
			case "locked":
				locked++
			case "plain":
				plain++
			}
			size := "-"
			if ent.Regular {
				size = humanize.IBytes(uint64(ent.Size))
				total += uint64(ent.Size)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", state, size, humanize.Time(ent.ModTime), ent.Name)
		}
		w.Flush()

		fmt.Fprintf(out, "\n%d locked, %d plain, %s total\n", locked, plain, humanize.IBytes(total))

		if h, err := a.leases().LastHolder(dir.Path()); err == nil && h != nil {
			fmt.Fprintf(out, "Last batch: %s by pid %d, %s\n", h.Op, h.PID, humanize.Time(h.Started))
		}
		return nil
	},
}

func entryState(dir *fsdir.Dir, ent fsdir.Entry) string {
	switch {
	case !ent.Regular || fsdir.IsTemp(ent.Name):
		return "ignored"
	case ent.Name == core.NoteName && isNoteFile(dir):
		return "ignored"
	case core.IsLocked(ent.Name) && strings.TrimSuffix(ent.Name, core.LockedSuffix) != "":
		return "locked"
	default:
		return "plain"
	}
}

func isNoteFile(dir *fsdir.Dir) bool {
	data, err := dir.Read(core.NoteName)
	return err == nil && core.IsNote(data)
}

func init() {
	rootCmd.AddCommand(listCmd)
}
