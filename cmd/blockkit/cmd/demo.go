package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/blockkit/block"
	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/config"
	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/policy"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run example blocks against an in-memory gate",
	Long: `Run example blocks against an in-memory ledger to see how the compliance
gate decides.

Available demos:
  action  - A BTC action block spending up to its cumulative limit
  analyst - An analyst block asking for advice without permission

Examples:
  blockkit demo action
  blockkit demo analyst`,
}

var demoActionCmd = &cobra.Command{
	Use:   "action",
	Short: "Run the BTC action block demo",
	Long: `Activates the default BTC action block (1.0 per transaction, 10.0 over
30 days) and proposes transactions until the cumulative limit is reached.

Shows:
  1. Block-side pre-checks on asset and per-transaction limit
  2. Gate acceptance while the cumulative spend stays within the limit
  3. Gate rejection once a proposal would exceed it
  4. Replay of an already applied proposal`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemoAction(cmd.Context(), cmd.OutOrStdout())
	},
}

var demoAnalystCmd = &cobra.Command{
	Use:   "analyst",
	Short: "Run the analyst block demo",
	Long: `Activates an authorized analyst block that may not give investment advice
and sends it an analysis message and an advice message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemoAnalyst(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.AddCommand(demoActionCmd)
	demoCmd.AddCommand(demoAnalystCmd)
}

// demoApp is the default configuration on an in-memory ledger.
func demoApp(ctx context.Context) (*app, error) {
	cfg := config.Default()
	cfg.Ledger = config.LedgerConfig{Type: "memory"}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.activateBlocks(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func printDecision(w io.Writer, label string, dec compliance.Decision) {
	if dec.Status == compliance.Accepted {
		fmt.Fprintf(w, "  ✓ %-22s %s", label, dec.Status)
		if dec.Replayed {
			fmt.Fprint(w, " (replayed)")
		}
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "  ✗ %-22s %s: %s\n", label, dec.Status, dec.Message)
}

func runDemoAction(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(w, "=== Action Block Demo ===")
	fmt.Fprintln(w)

	a, err := demoApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	inst, err := a.registry.Instance("btc-dca")
	if err != nil {
		return err
	}
	b, err := block.New(inst.ID, inst.Manifest, inst.Settings, a.gate, nil)
	if err != nil {
		return err
	}
	actor, ok := b.(block.ProposesTransactions)
	if !ok {
		return fmt.Errorf("block %s cannot propose transactions", inst.ID)
	}

	pol, ok := inst.Settings.(policy.ActionPolicy)
	if !ok {
		return fmt.Errorf("block %s has %T settings", inst.ID, inst.Settings)
	}
	fmt.Fprintf(w, "Block: %s (%s)\n", inst.Manifest.Key(), inst.Manifest.BlockType)
	fmt.Fprintf(w, "Policy: %s, max %s per transaction, %s over %d days\n\n",
		pol.AssetID, pol.MaxAmountPerTransaction, pol.CumulativeMaxAmount, pol.AuthorizedDurationDays)

	propose := func(label, asset, amount, proposalID string) (compliance.Decision, error) {
		dec, err := actor.ProposeTransaction(ctx, compliance.Proposal{
			ID:         proposalID,
			ActionType: "buy",
			AssetID:    asset,
			Amount:     decimal.RequireFromString(amount),
			Currency:   "USD",
		})
		if err != nil {
			return dec, err
		}
		printDecision(w, label, dec)
		return dec, nil
	}

	fmt.Fprintln(w, "Block pre-checks:")
	if _, err := propose("ETH 0.5", "ETH", "0.5", ""); err != nil {
		return err
	}
	if _, err := propose("BTC 1.5", "BTC", "1.5", ""); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nGate decisions:")
	var first compliance.Decision
	for i := 1; i <= 9; i++ {
		dec, err := propose(fmt.Sprintf("BTC 1.0 (#%d)", i), "BTC", "1.0", "")
		if err != nil {
			return err
		}
		if i == 1 {
			first = dec
		}
	}
	if _, err := propose("BTC 0.5", "BTC", "0.5", ""); err != nil {
		return err
	}
	if _, err := propose("BTC 0.6", "BTC", "0.6", ""); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nReplay:")
	if _, err := propose("BTC 1.0 (#1 again)", "BTC", "1.0", first.ProposalID); err != nil {
		return err
	}

	e, err := a.ledger.Get(ctx, inst.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nLedger: spent %s of %s, %d days remaining\n",
		e.CumulativeSpent, pol.CumulativeMaxAmount, e.RemainingDays(a.ledger.Now()))
	return nil
}

func runDemoAnalyst(ctx context.Context, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(w, "=== Analyst Block Demo ===")
	fmt.Fprintln(w)

	a, err := demoApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := manifest.Decode([]byte(`{
		"name": "market-research",
		"version": "1.0.0",
		"block_type": "analyst",
		"publisher": ["Blockkit", "blockkit"],
		"description": "Market commentary without advice"
	}`))
	if err != nil {
		return err
	}
	days := 7
	settings := policy.AnalystPolicy{Authorized: true, PortfolioAccess: true, AuthorizedDurationDays: &days}
	inst, err := a.registry.Activate(ctx, "", m, settings)
	if err != nil {
		return err
	}

	b, err := block.New(inst.ID, m, settings, a.gate, nil)
	if err != nil {
		return err
	}
	analyst, ok := b.(*block.AnalystBlock)
	if !ok {
		return fmt.Errorf("block %s is not an analyst block", inst.ID)
	}

	fmt.Fprintf(w, "Block: %s as %s\n", m.Key(), inst.ID)
	fmt.Fprintf(w, "Policy: authorized, no advice, %d days\n\n", days)

	for _, mt := range []string{compliance.MessageAnalysis, compliance.MessageAdvice, "gossip"} {
		dec, err := analyst.Chat(ctx, mt, "BTC looks strong this week")
		if err != nil {
			return err
		}
		printDecision(w, mt, dec)
	}
	return nil
}
