package cmd

import (
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-lifecycle/credentials"
	"github.com/jrsteele09/go-auth-lifecycle/internal/utils"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Verify, sync, list and reveal mirrored credentials",
}

var keysVerifyCmd = &cobra.Command{
	Use:   "verify [value]",
	Short: "Identify which credential a raw value belongs to",
	Long: `Identify which credential a raw value belongs to, first against the issuer's
listing and then against the local mirror. A match is recorded in the mirror.

Security note: the value will appear in shell history. Pass "-" to read it from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[0]
		if raw == "-" {
			line, err := readLine(cmd)
			if err != nil {
				return err
			}
			raw = line
		}

		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.reconciler()
		if err != nil {
			return err
		}
		lister, err := a.lister()
		if err != nil {
			return err
		}

		var rec *credentials.Record
		if lister != nil {
			rec, err = r.VerifyWith(cmd.Context(), raw, lister)
		} else {
			rec, err = r.Verify(cmd.Context(), raw, nil)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", rec.ExternalID, rec.Name, rec.Hint)
		return nil
	},
}

var keysSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the issuer's credential listing",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		lister, err := a.lister()
		if err != nil {
			return err
		}
		if lister == nil {
			return fmt.Errorf("credentials.base_url and credentials.admin_key are required to sync")
		}
		r, err := a.reconciler()
		if err != nil {
			return err
		}

		outcomes, err := r.SyncFrom(cmd.Context(), lister)
		if err != nil {
			return err
		}
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s: %v\n", o.Action, o.ExternalID, o.Err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", o.Action, o.ExternalID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d credentials failed to sync", failed, len(outcomes))
		}
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the local credential mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.reconciler()
		if err != nil {
			return err
		}
		recs, err := r.Records(cmd.Context())
		if err != nil {
			return err
		}
		for _, rec := range recs {
			stored := "-"
			if rec.HasValue() {
				stored = "sealed"
			}
			lastUsed := "never"
			if rec.LastUsedAt != nil {
				lastUsed = utils.Value(rec.LastUsedAt).Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.ExternalID, rec.Name, rec.Hint, rec.Status, stored, lastUsed)
		}
		return nil
	},
}

var keysRevealCmd = &cobra.Command{
	Use:   "reveal [external-id]",
	Short: "Print the raw value of a mirrored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(nil)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.reconciler()
		if err != nil {
			return err
		}
		value, err := r.Reveal(cmd.Context(), strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysVerifyCmd, keysSyncCmd, keysListCmd, keysRevealCmd)
	rootCmd.AddCommand(keysCmd)
}
