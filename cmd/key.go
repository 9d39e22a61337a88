package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forgetYes bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Inspect or forget the lockersim key",
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a key exists in the configured backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		keys, err := a.provider()
		if err != nil {
			return err
		}
		st, err := keys.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend: %s\n", st.Backend)
		fmt.Fprintf(out, "Alias:   %s\n", st.Alias)
		if st.Exists {
			fmt.Fprintln(out, "Key:     present")
		} else {
			fmt.Fprintln(out, "Key:     none (created on the first lock)")
		}
		return nil
	},
}

var keyForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete the key from the configured backend",
	Long: `Deletes the key. Files still locked with it can never be unlocked
again; unlock every lab directory first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if !forgetYes {
			ok, err := confirm(cmd, "Forget the key? Files still locked with it become unrecoverable.")
			if err != nil {
				return err
			}
			if !ok {
				return errCancelled
			}
		}

		keys, err := a.provider()
		if err != nil {
			return err
		}
		if err := keys.Delete(cmd.Context()); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Key %q forgotten\n", a.cfg.KeyAlias)
		return nil
	},
}

func init() {
	keyForgetCmd.Flags().BoolVarP(&forgetYes, "yes", "y", false, "do not ask for confirmation")
	keyCmd.AddCommand(keyStatusCmd, keyForgetCmd)
	rootCmd.AddCommand(keyCmd)
}
