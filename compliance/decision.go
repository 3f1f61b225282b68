package compliance

import "github.com/shopspring/decimal"

type Status string

const (
	Accepted Status = "accepted"
	Rejected Status = "rejected"

	// RejectedByBlockPreCheck is set by a block that refused its own
	// proposal before submitting it.
	RejectedByBlockPreCheck Status = "rejected_by_block_pre_check"
)

// Reason is the machine-readable cause of a rejection.
type Reason string

const (
	AssetMismatch               Reason = "asset_mismatch"
	NonPositiveAmount           Reason = "non_positive_amount"
	InvalidAmount               Reason = "invalid_amount"
	PerTransactionLimitExceeded Reason = "per_transaction_limit_exceeded"
	CumulativeLimitExceeded     Reason = "cumulative_limit_exceeded"
	AuthorizationExpired        Reason = "authorization_expired"
	ActionNotAllowed            Reason = "action_not_allowed"
	RuleViolation               Reason = "rule_violation"

	NotAuthorized          Reason = "not_authorized"
	UnsupportedOperation   Reason = "unsupported_operation"
	UnsupportedMessageType Reason = "unsupported_message_type"
	AdviceNotPermitted     Reason = "advice_not_permitted"
)

// Decision is the outcome of a compliance check. A rejection is a normal
// result, not an error.
type Decision struct {
	Status  Status `json:"status"`
	Reason  Reason `json:"code,omitempty"`
	Message string `json:"reason,omitempty"`

	// Amount is what an accepted proposal adds to the ledger.
	Amount decimal.Decimal `json:"-"`

	ProposalID string `json:"proposal_id,omitempty"`
	ReceiptID  string `json:"receipt_id,omitempty"`
	Replayed   bool   `json:"replayed,omitempty"`
}

func (d Decision) Accepted() bool { return d.Status == Accepted }

func accept(amount decimal.Decimal) Decision {
	return Decision{Status: Accepted, Amount: amount}
}

func reject(reason Reason, msg string) Decision {
	return Decision{Status: Rejected, Reason: reason, Message: msg}
}
