// Package ledger keeps the authorization ledger: per block instance, the
// cumulative amount spent and the current authorization window. It is the
// only mutable state behind the compliance gate.
package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// Entry is the ledger state of one block instance.
type Entry struct {
	InstanceID      string          `json:"instance_id"`
	CumulativeSpent decimal.Decimal `json:"cumulative_spent"`
	WindowStart     time.Time       `json:"window_start"`
	DurationDays    int             `json:"authorized_duration_days,omitempty"` // 0: no window
	Version         int64           `json:"version"`                            // bumped on every write
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WindowEnd is when the authorization window closes. Zero if unbounded.
func (e Entry) WindowEnd() time.Time {
	if e.DurationDays <= 0 {
		return time.Time{}
	}
	return e.WindowStart.Add(time.Duration(e.DurationDays) * day)
}

// Expired reports whether now − window_start exceeds the authorized duration.
func (e Entry) Expired(now time.Time) bool {
	if e.DurationDays <= 0 {
		return false
	}
	return now.Sub(e.WindowStart) > time.Duration(e.DurationDays)*day
}

// RemainingDays is the number of started days left in the window, 0 once
// expired. Unbounded windows report math.MaxInt.
func (e Entry) RemainingDays(now time.Time) int {
	if e.DurationDays <= 0 {
		return math.MaxInt
	}
	if e.Expired(now) {
		return 0
	}
	left := e.WindowEnd().Sub(now)
	n := int(math.Ceil(left.Hours() / 24))
	if n < 1 {
		n = 1
	}
	return n
}

// Snapshot is the read-only view the compliance engine evaluates against.
type Snapshot struct {
	CumulativeSpent decimal.Decimal
	WindowExpired   bool
}

func (e Entry) Snapshot(now time.Time) Snapshot {
	return Snapshot{CumulativeSpent: e.CumulativeSpent, WindowExpired: e.Expired(now)}
}

// Receipt records that a proposal's spend was applied. There is at most one
// receipt per (instance, proposal) pair.
type Receipt struct {
	ID              string          `json:"id"`
	InstanceID      string          `json:"instance_id"`
	ProposalID      string          `json:"proposal_id"`
	Amount          decimal.Decimal `json:"amount"`
	CumulativeAfter decimal.Decimal `json:"cumulative_after"`
	AppliedAt       time.Time       `json:"applied_at"`
}
