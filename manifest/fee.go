package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/blockkit/pkg/amount"
)

// FeeType is the discriminant of the Fee union.
type FeeType string

const (
	FeeFixedOneTime   FeeType = "fixed_one_time"
	FeeFixedRecurring FeeType = "fixed_recurring"
)

// Interval is the billing period of a recurring fee.
type Interval string

const (
	Monthly   Interval = "monthly"
	Quarterly Interval = "quarterly"
	Annually  Interval = "annually"
)

func (i Interval) Valid() bool {
	switch i {
	case Monthly, Quarterly, Annually:
		return true
	}
	return false
}

// Currency is a currency a block may charge its fee in.
type Currency string

const (
	DAI  Currency = "DAI"
	USDC Currency = "USDC"
	USDT Currency = "USDT"
	AMPR Currency = "AMPR"
	ETH  Currency = "ETH"
	BTC  Currency = "BTC"
	SOL  Currency = "SOL"
)

// Currencies lists every accepted fee currency.
var Currencies = []Currency{DAI, USDC, USDT, AMPR, ETH, BTC, SOL}

func (c Currency) Valid() bool {
	for _, v := range Currencies {
		if c == v {
			return true
		}
	}
	return false
}

// Fee is the closed set of fee declarations: OneTimeFixedFee or RecurringFixedFee.
type Fee interface {
	Type() FeeType
	Equal(Fee) bool
	fee()
}

// OneTimeFixedFee is charged once at activation.
type OneTimeFixedFee struct {
	Currency    Currency
	Amount      decimal.Decimal
	Description string
}

// RecurringFixedFee is charged every Interval.
type RecurringFixedFee struct {
	Currency    Currency
	Amount      decimal.Decimal
	Interval    Interval
	Description string
}

func (OneTimeFixedFee) fee()   {}
func (RecurringFixedFee) fee() {}

func (OneTimeFixedFee) Type() FeeType   { return FeeFixedOneTime }
func (RecurringFixedFee) Type() FeeType { return FeeFixedRecurring }

func (f OneTimeFixedFee) Equal(o Fee) bool {
	v, ok := o.(OneTimeFixedFee)
	return ok && f.Currency == v.Currency && f.Amount.Equal(v.Amount) && f.Description == v.Description
}

func (f RecurringFixedFee) Equal(o Fee) bool {
	v, ok := o.(RecurringFixedFee)
	return ok && f.Currency == v.Currency && f.Amount.Equal(v.Amount) &&
		f.Interval == v.Interval && f.Description == v.Description
}

// feeWire is the JSON shape shared by both variants.
type feeWire struct {
	FeeType     FeeType         `json:"fee_type"`
	Currency    Currency        `json:"fee_currency"`
	Amount      json.RawMessage `json:"amount,omitempty"`
	Interval    Interval        `json:"interval,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (f OneTimeFixedFee) MarshalJSON() ([]byte, error) {
	return json.Marshal(feeWire{
		FeeType:     FeeFixedOneTime,
		Currency:    f.Currency,
		Amount:      json.RawMessage(f.Amount.String()),
		Description: f.Description,
	})
}

func (f RecurringFixedFee) MarshalJSON() ([]byte, error) {
	return json.Marshal(feeWire{
		FeeType:     FeeFixedRecurring,
		Currency:    f.Currency,
		Amount:      json.RawMessage(f.Amount.String()),
		Interval:    f.Interval,
		Description: f.Description,
	})
}

// DecodeFee decodes a single fee object. The fee_type tag is read first and
// selects the variant; variant fields are only interpreted afterwards.
func DecodeFee(raw []byte) (Fee, error) {
	var tag struct {
		FeeType *FeeType `json:"fee_type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, schemaErr(CodeMalformed, "fee", "fee must be a JSON object: %v", err)
	}
	if tag.FeeType == nil {
		return nil, schemaErr(CodeUnknownFeeType, "fee.fee_type", "fee_type is required")
	}

	switch *tag.FeeType {
	case FeeFixedOneTime:
		w, amt, err := decodeFeeFields(raw)
		if err != nil {
			return nil, err
		}
		return OneTimeFixedFee{Currency: w.Currency, Amount: amt, Description: w.Description}, nil

	case FeeFixedRecurring:
		w, amt, err := decodeFeeFields(raw)
		if err != nil {
			return nil, err
		}
		if !w.Interval.Valid() {
			return nil, schemaErr(CodeInvalidInterval, "fee.interval",
				"interval %q must be one of monthly, quarterly, annually", w.Interval)
		}
		return RecurringFixedFee{Currency: w.Currency, Amount: amt, Interval: w.Interval, Description: w.Description}, nil

	default:
		return nil, schemaErr(CodeUnknownFeeType, "fee.fee_type", "unknown fee type: %q", *tag.FeeType)
	}
}

// decodeFeeFields checks the fields common to every variant.
func decodeFeeFields(raw []byte) (feeWire, decimal.Decimal, error) {
	var w feeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, decimal.Zero, schemaErr(CodeMalformed, "fee", "invalid fee: %v", err)
	}

	amt, err := parseAmount(w.Amount)
	if err != nil {
		return w, decimal.Zero, schemaErr(CodeInvalidAmount, "fee.amount", "%v", err)
	}
	if err := amount.Check(amt); err != nil {
		return w, decimal.Zero, schemaErr(CodeInvalidAmount, "fee.amount", "%v", err)
	}
	if !amt.IsPositive() {
		return w, decimal.Zero, schemaErr(CodeInvalidAmount, "fee.amount", "amount must be positive, got %s", amt)
	}
	if !w.Currency.Valid() {
		return w, decimal.Zero, schemaErr(CodeInvalidCurrency, "fee.fee_currency", "unsupported fee currency: %q", w.Currency)
	}
	return w, amt, nil
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, fmt.Errorf("amount is not a number: %s", raw)
	}
	return d, nil
}

// normalizeFee accepts a scalar fee, null, or a collection of at most one fee.
func normalizeFee(raw json.RawMessage) (Fee, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '[' {
		return DecodeFee(raw)
	}

	var fees []json.RawMessage
	if err := json.Unmarshal(raw, &fees); err != nil {
		return nil, schemaErr(CodeMalformed, "fee", "invalid fee list: %v", err)
	}
	switch len(fees) {
	case 0:
		return nil, nil
	case 1:
		return DecodeFee(fees[0])
	default:
		return nil, schemaErr(CodeMultipleFeesNotAllowed, "fee", "only one type of fee is allowed, got %d", len(fees))
	}
}
