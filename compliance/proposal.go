// Package compliance decides whether a block's proposed transaction or
// analyst operation may proceed under the instance's policy. Evaluation is
// pure; the Gate couples it to the authorization ledger.
package compliance

import "github.com/shopspring/decimal"

// Proposal is a transaction an action block wants to make.
type Proposal struct {
	ID            string          `json:"proposal_id"`
	BlockID       string          `json:"block_id"`
	ActionType    string          `json:"action_type"`
	AssetID       string          `json:"asset_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Justification string          `json:"justification,omitempty"`
}

const (
	OpChatMessage = "chat_message"

	MessageAdvice   = "advice"
	MessageAnalysis = "analysis"
)

// Operation is something an analyst block wants to do.
type Operation struct {
	OperationType string   `json:"operation_type"`
	Message       *Message `json:"message,omitempty"`
}

type Message struct {
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}
