package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/pkg/amount"
	"github.com/rustyeddy/blockkit/policy"
	"github.com/rustyeddy/blockkit/tracing"
)

var (
	ErrMissingProposalID = errors.New("proposal_id is required")
	ErrWrongPolicyKind   = errors.New("instance policy does not cover this request")
)

// SettingsSource resolves the active policy of an instance.
type SettingsSource interface {
	Settings(ctx context.Context, instanceID string) (policy.Settings, error)
}

// Gate is the only path from a block request to the ledger. Decisions are
// made by EvaluateProposal and EvaluateOperation; the gate supplies them
// with current ledger state and records accepted spend.
type Gate struct {
	settings SettingsSource
	ledger   *ledger.Ledger
	log      *slog.Logger
}

// NewGate builds a gate reading policies from settings and spend from l.
// A nil log uses slog.Default.
func NewGate(settings SettingsSource, l *ledger.Ledger, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{settings: settings, ledger: l, log: log.With("component", "gate")}
}

func (g *Gate) actionPolicy(ctx context.Context, instanceID string) (policy.ActionPolicy, error) {
	s, err := g.settings.Settings(ctx, instanceID)
	if err != nil {
		return policy.ActionPolicy{}, err
	}
	pol, ok := s.(policy.ActionPolicy)
	if !ok {
		return policy.ActionPolicy{}, fmt.Errorf("%w: %s has %s settings, proposal needs action", ErrWrongPolicyKind, instanceID, s.Kind())
	}
	return pol, nil
}

// SubmitProposal evaluates p and, on acceptance, commits its amount to the
// instance's ledger in the same serialized step. Resubmitting an accepted
// proposal id returns the first acceptance without spending again.
//
// A rejection is returned as a Decision with a nil error. An error matching
// ledger.ErrLedgerCommitFailed means the proposal was accepted but could
// not be recorded; retry with the same proposal id.
func (g *Gate) SubmitProposal(ctx context.Context, instanceID string, p Proposal) (dec Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "compliance.SubmitProposal",
		attribute.String("blockkit.instance", instanceID),
		attribute.String("blockkit.proposal", p.ID),
	)
	defer func() {
		span.SetAttributes(attribute.String("blockkit.status", string(dec.Status)))
		tracing.EndSpan(span, err)
	}()

	if p.ID == "" {
		return Decision{}, ErrMissingProposalID
	}

	pol, err := g.actionPolicy(ctx, instanceID)
	if err != nil {
		return Decision{}, err
	}

	decide := func(e ledger.Entry) (decimal.Decimal, bool) {
		dec = EvaluateProposal(p, pol, e.Snapshot(g.ledger.Now()))
		return dec.Amount, dec.Accepted()
	}

	out, err := g.ledger.Settle(ctx, instanceID, p.ID, decide)
	if errors.Is(err, ledger.ErrNotFound) {
		// activated before the ledger existed; open it lazily
		if _, err = g.ledger.Open(ctx, instanceID, pol.AuthorizedDurationDays, g.ledger.Now()); err != nil {
			return Decision{}, err
		}
		out, err = g.ledger.Settle(ctx, instanceID, p.ID, decide)
	}
	if err != nil {
		g.log.Error("proposal not settled", "instance", instanceID, "proposal", p.ID, "error", err)
		return Decision{}, err
	}

	if out.Replayed {
		dec = Decision{Status: Accepted, Amount: out.Receipt.Amount, Replayed: true}
	}
	if out.Receipt != nil {
		dec.ReceiptID = out.Receipt.ID
	}
	dec.ProposalID = p.ID

	g.log.Info("proposal decided",
		"instance", instanceID,
		"proposal", p.ID,
		"status", dec.Status,
		"code", dec.Reason,
		"amount", amount.String(p.Amount),
		"cumulative_spent", out.Entry.CumulativeSpent.String(),
		"replayed", out.Replayed,
	)
	return dec, nil
}

// SubmitOperation evaluates an analyst operation. The authorization window
// is read from the ledger so the policy sees the days remaining rather than
// the days granted. Nothing is written except a missing ledger entry.
func (g *Gate) SubmitOperation(ctx context.Context, instanceID string, op Operation) (dec Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "compliance.SubmitOperation",
		attribute.String("blockkit.instance", instanceID),
		attribute.String("blockkit.operation", op.OperationType),
	)
	defer func() {
		span.SetAttributes(attribute.String("blockkit.status", string(dec.Status)))
		tracing.EndSpan(span, err)
	}()

	s, err := g.settings.Settings(ctx, instanceID)
	if err != nil {
		return Decision{}, err
	}
	pol, ok := s.(policy.AnalystPolicy)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s has %s settings, operation needs analyst", ErrWrongPolicyKind, instanceID, s.Kind())
	}

	if days, ok := pol.DurationDays(); ok {
		e, err := g.ledger.Get(ctx, instanceID)
		if errors.Is(err, ledger.ErrNotFound) {
			e, err = g.ledger.Open(ctx, instanceID, days, g.ledger.Now())
		}
		if err != nil {
			return Decision{}, err
		}
		pol = pol.WithRemainingDays(e.RemainingDays(g.ledger.Now()))
	}

	dec = EvaluateOperation(op, pol)
	g.log.Info("operation decided",
		"instance", instanceID,
		"operation", op.OperationType,
		"status", dec.Status,
		"code", dec.Reason,
	)
	return dec, nil
}
