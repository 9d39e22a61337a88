package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/illarion/lockersim/internal/core"
	"github.com/illarion/lockersim/internal/fsdir"
	"github.com/illarion/lockersim/internal/keyprovider"
	"github.com/illarion/lockersim/internal/lease"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/term"
)

const (
	exitFatal   = 1
	exitPartial = 2
)

// errPartial marks a batch that finished with per-file failures. The
// failures were already printed.
var errPartial = errors.New("some files failed")

var errCancelled = errors.New("cancelled")

// HandleError prints err for a human and returns the exit code
func HandleError(err error) int {
	switch {
	case errors.Is(err, errPartial):
		return exitPartial
	case errors.Is(err, errCancelled):
		fmt.Fprintln(os.Stderr, "Cancelled")
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Error: interrupted")
	case errors.Is(err, keyprovider.ErrWrongPassphrase):
		fmt.Fprintln(os.Stderr, "Error: wrong passphrase")
	case errors.Is(err, keyprovider.ErrNoPassphrase):
		fmt.Fprintf(os.Stderr, "Error: passphrase required\n")
		fmt.Fprintf(os.Stderr, "Set %s or run on a terminal\n", keyprovider.PassphraseEnv)
	case errors.Is(err, keyprovider.ErrKeyStoreUnavailable):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "No file was touched\n")
	case errors.Is(err, lease.ErrBusy), errors.Is(err, bolt.ErrTimeout):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Another lockersim process is working; retry later\n")
	case errors.Is(err, fsdir.ErrNotFound), errors.Is(err, fsdir.ErrNotDir):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Create a lab directory with 'lockersim seed <dir>'\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	return exitFatal
}

// confirm asks a yes/no question on stdin, defaulting to no. Without a
// terminal it refuses, so scripts have to pass --yes.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing to prompt without a terminal: pass --yes")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && response == "" {
		return false, nil
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes", nil
}

// printResult writes a batch report and returns errPartial when files failed
func printResult(cmd *cobra.Command, res *core.Result) error {
	out := cmd.OutOrStdout()

	verb := "Locked"
	if res.Op == core.OpUnlock {
		verb = "Unlocked"
	}

	for _, t := range res.Transformed {
		switch {
		case t.Identical:
			fmt.Fprintf(out, "  %s: identical to %s, blob removed\n", t.From, t.To)
		default:
			fmt.Fprintf(out, "  %s -> %s\n", t.From, t.To)
		}
	}
	for _, name := range res.Skipped {
		fmt.Fprintf(out, "  %s: skipped\n", name)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  %s: FAILED (%s): %v\n", f.Name, f.Kind, f.Err)
	}

	fmt.Fprintf(out, "%s %d file(s) in %s", verb, res.Count(), res.Dir)
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, ", %d skipped", len(res.Skipped))
	}
	if res.HasFailures() {
		fmt.Fprintf(out, ", %d failed", len(res.Failures))
	}
	fmt.Fprintln(out)

	if res.HasFailures() {
		return errPartial
	}
	return nil
}

// failedCrypto reports whether a failure kind came from the cipher
func failedCrypto(kind core.FailureKind) bool {
	return kind == core.KindAuthFailed || kind == core.KindMalformedBlob
}
