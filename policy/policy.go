// Package policy holds the per-instance limits and permissions an operator
// grants a block when activating it. Settings are values: once built they
// never change for the lifetime of the instance.
package policy

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/pkg/amount"
	"github.com/shopspring/decimal"
)

var ErrInvalidSettings = errors.New("invalid policy settings")

// Settings is either an ActionPolicy or an AnalystPolicy.
type Settings interface {
	// Kind is the block kind the settings apply to.
	Kind() manifest.BlockType
	// DurationDays is the authorization window length, if one is set.
	DurationDays() (int, bool)
	Validate() error
	settings()
}

// ActionPolicy bounds what an action block may spend.
type ActionPolicy struct {
	AssetID                 string
	MaxAmountPerTransaction decimal.Decimal
	CumulativeMaxAmount     decimal.Decimal // over the authorized duration
	AuthorizedDurationDays  int

	AllowedActions []string // empty allows any action_type
	Rule           *Rule    // optional extra condition
}

// AnalystPolicy gates what an analyst block may say.
type AnalystPolicy struct {
	Authorized             bool
	AuthorizedDurationDays *int
	PortfolioAccess        bool
	AdviceAllowed          bool
}

func (ActionPolicy) settings()  {}
func (AnalystPolicy) settings() {}

func (ActionPolicy) Kind() manifest.BlockType  { return manifest.Action }
func (AnalystPolicy) Kind() manifest.BlockType { return manifest.Analyst }

func (p ActionPolicy) DurationDays() (int, bool) {
	return p.AuthorizedDurationDays, true
}

func (p AnalystPolicy) DurationDays() (int, bool) {
	if p.AuthorizedDurationDays == nil {
		return 0, false
	}
	return *p.AuthorizedDurationDays, true
}

// AllowsAction reports whether actionType is on the allow-list.
func (p ActionPolicy) AllowsAction(actionType string) bool {
	if len(p.AllowedActions) == 0 {
		return true
	}
	for _, a := range p.AllowedActions {
		if a == actionType {
			return true
		}
	}
	return false
}

// Validate checks that every monetary and duration field is strictly
// positive, and that the limits are amounts blockkit can compare cheaply.
func (p ActionPolicy) Validate() error {
	if p.AssetID == "" {
		return fmt.Errorf("%w: asset_id is required", ErrInvalidSettings)
	}
	if err := amount.Check(p.MaxAmountPerTransaction); err != nil {
		return fmt.Errorf("%w: max_amount_per_transaction: %v", ErrInvalidSettings, err)
	}
	if err := amount.Check(p.CumulativeMaxAmount); err != nil {
		return fmt.Errorf("%w: cumulative_max_amount: %v", ErrInvalidSettings, err)
	}
	if !p.MaxAmountPerTransaction.IsPositive() {
		return fmt.Errorf("%w: max_amount_per_transaction must be positive", ErrInvalidSettings)
	}
	if !p.CumulativeMaxAmount.IsPositive() {
		return fmt.Errorf("%w: cumulative_max_amount must be positive", ErrInvalidSettings)
	}
	if p.AuthorizedDurationDays <= 0 {
		return fmt.Errorf("%w: authorized_duration_days must be positive", ErrInvalidSettings)
	}
	return nil
}

func (p AnalystPolicy) Validate() error {
	if p.AuthorizedDurationDays != nil && *p.AuthorizedDurationDays <= 0 {
		return fmt.Errorf("%w: authorized_duration_days must be positive", ErrInvalidSettings)
	}
	return nil
}

// WithRemainingDays returns a copy whose duration is the number of days left
// in the current window. A non-positive value means the window has expired.
// Policies without a duration are returned unchanged.
func (p AnalystPolicy) WithRemainingDays(days int) AnalystPolicy {
	if p.AuthorizedDurationDays == nil {
		return p
	}
	p.AuthorizedDurationDays = &days
	return p
}
