package policy

import (
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/blockkit/manifest"
	"github.com/shopspring/decimal"
)

// Document is the serialisable form of Settings, tagged by Kind. It is what
// operators write in config files and what the API returns.
type Document struct {
	Kind string `json:"kind" yaml:"kind"`

	// action
	AssetID                 string           `json:"asset_id,omitempty" yaml:"asset_id,omitempty"`
	MaxAmountPerTransaction *decimal.Decimal `json:"max_amount_per_transaction,omitempty" yaml:"max_amount_per_transaction,omitempty"`
	CumulativeMaxAmount     *decimal.Decimal `json:"cumulative_max_amount,omitempty" yaml:"cumulative_max_amount,omitempty"`
	AllowedActions          []string         `json:"allowed_actions,omitempty" yaml:"allowed_actions,omitempty"`
	Rule                    string           `json:"rule,omitempty" yaml:"rule,omitempty"`

	// both
	AuthorizedDurationDays *int `json:"authorized_duration_days,omitempty" yaml:"authorized_duration_days,omitempty"`

	// analyst
	Authorized      bool `json:"authorized,omitempty" yaml:"authorized,omitempty"`
	PortfolioAccess bool `json:"portfolio_access,omitempty" yaml:"portfolio_access,omitempty"`
	AdviceAllowed   bool `json:"advice_allowed,omitempty" yaml:"advice_allowed,omitempty"`
}

// Settings routes on Kind, builds the matching variant and validates it.
func (d Document) Settings() (Settings, error) {
	switch manifest.BlockType(d.Kind) {
	case manifest.Action:
		p := ActionPolicy{
			AssetID:        d.AssetID,
			AllowedActions: append([]string(nil), d.AllowedActions...),
		}
		if d.MaxAmountPerTransaction != nil {
			p.MaxAmountPerTransaction = *d.MaxAmountPerTransaction
		}
		if d.CumulativeMaxAmount != nil {
			p.CumulativeMaxAmount = *d.CumulativeMaxAmount
		}
		if d.AuthorizedDurationDays != nil {
			p.AuthorizedDurationDays = *d.AuthorizedDurationDays
		}
		if d.Rule != "" {
			rule, err := CompileRule(d.Rule)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
			}
			p.Rule = rule
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return p, nil

	case manifest.Analyst:
		p := AnalystPolicy{
			Authorized:      d.Authorized,
			PortfolioAccess: d.PortfolioAccess,
			AdviceAllowed:   d.AdviceAllowed,
		}
		if d.AuthorizedDurationDays != nil {
			days := *d.AuthorizedDurationDays
			p.AuthorizedDurationDays = &days
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unsupported policy kind %q", ErrInvalidSettings, d.Kind)
	}
}

// ToDocument is the inverse of Document.Settings.
func ToDocument(s Settings) Document {
	switch p := s.(type) {
	case ActionPolicy:
		maxTx, cumMax, days := p.MaxAmountPerTransaction, p.CumulativeMaxAmount, p.AuthorizedDurationDays
		return Document{
			Kind:                    string(manifest.Action),
			AssetID:                 p.AssetID,
			MaxAmountPerTransaction: &maxTx,
			CumulativeMaxAmount:     &cumMax,
			AuthorizedDurationDays:  &days,
			AllowedActions:          append([]string(nil), p.AllowedActions...),
			Rule:                    p.Rule.Expr(),
		}
	case AnalystPolicy:
		d := Document{
			Kind:            string(manifest.Analyst),
			Authorized:      p.Authorized,
			PortfolioAccess: p.PortfolioAccess,
			AdviceAllowed:   p.AdviceAllowed,
		}
		if p.AuthorizedDurationDays != nil {
			days := *p.AuthorizedDurationDays
			d.AuthorizedDurationDays = &days
		}
		return d
	}
	return Document{}
}

// Decode reads a JSON policy document.
func Decode(raw []byte) (Settings, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return d.Settings()
}
