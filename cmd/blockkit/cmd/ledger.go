package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and renew authorization ledgers",
	Long: `Read or renew the authorization ledger of a block instance directly from
the configured ledger store.

Subcommands:
  show     - Print the ledger entry of an instance
  receipts - List the spends recorded for an instance
  renew    - Start a new authorization window and zero the spend

Examples:
  blockkit ledger show btc-dca --config blockkit.yaml
  blockkit ledger renew btc-dca --config blockkit.yaml`,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show <instance>",
	Short: "Print an instance's ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerShow,
}

var ledgerReceiptsCmd = &cobra.Command{
	Use:   "receipts <instance>",
	Short: "List an instance's receipts, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerReceipts,
}

var ledgerRenewCmd = &cobra.Command{
	Use:   "renew <instance>",
	Short: "Reset an instance's authorization window",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerRenew,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerReceiptsCmd)
	ledgerCmd.AddCommand(ledgerRenewCmd)
}

// withLedger opens the configured store without activating any block.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app) error {
		e, err := a.ledger.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), e)
	})
}

func runLedgerReceipts(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app) error {
		receipts, err := a.ledger.Receipts(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), receipts)
	})
}

func runLedgerRenew(cmd *cobra.Command, args []string) error {
	return withLedger(cmd, func(ctx context.Context, a *app) error {
		e, err := a.ledger.ResetWindow(ctx, args[0], a.ledger.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Renewed %s: window starts %s\n", e.InstanceID, e.WindowStart.Format("2006-01-02 15:04:05"))
		return nil
	})
}
