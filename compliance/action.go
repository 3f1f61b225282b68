package compliance

import (
	"fmt"

	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/pkg/amount"
	"github.com/rustyeddy/blockkit/policy"
)

// EvaluateProposal checks p against pol and the ledger snapshot. Checks run
// in a fixed order and the first failure decides.
func EvaluateProposal(p Proposal, pol policy.ActionPolicy, s ledger.Snapshot) Decision {
	if p.AssetID != pol.AssetID {
		return reject(AssetMismatch,
			fmt.Sprintf("Asset mismatch: Proposal for '%s', control is for '%s'.", p.AssetID, pol.AssetID))
	}

	if !p.Amount.IsPositive() {
		return reject(NonPositiveAmount, "Transaction amount must be positive.")
	}

	// before any arithmetic touches it
	if !amount.Valid(p.Amount) {
		return reject(InvalidAmount, "Transaction amount is out of range.")
	}

	if p.Amount.GreaterThan(pol.MaxAmountPerTransaction) {
		return reject(PerTransactionLimitExceeded,
			fmt.Sprintf("Amount %s exceeds max per transaction (%s).", p.Amount, pol.MaxAmountPerTransaction))
	}

	// spent + amount == cap is allowed
	total := s.CumulativeSpent.Add(p.Amount)
	if total.GreaterThan(pol.CumulativeMaxAmount) {
		return reject(CumulativeLimitExceeded,
			fmt.Sprintf("Cumulative amount %s would exceed limit (%s).", total, pol.CumulativeMaxAmount))
	}

	if s.WindowExpired {
		return reject(AuthorizationExpired, "Authorization has expired")
	}

	if !pol.AllowsAction(p.ActionType) {
		return reject(ActionNotAllowed,
			fmt.Sprintf("Action '%s' is not allowed by policy.", p.ActionType))
	}

	if pol.Rule != nil {
		ok, err := pol.Rule.Eval(policy.RuleInput{
			ActionType:      p.ActionType,
			AssetID:         p.AssetID,
			Currency:        p.Currency,
			Justification:   p.Justification,
			Amount:          p.Amount,
			CumulativeSpent: s.CumulativeSpent,
		})
		if err != nil {
			return reject(RuleViolation, fmt.Sprintf("Policy rule could not be evaluated: %v", err))
		}
		if !ok {
			return reject(RuleViolation, fmt.Sprintf("Proposal violates policy rule: %s", pol.Rule.Expr()))
		}
	}

	return accept(p.Amount)
}
