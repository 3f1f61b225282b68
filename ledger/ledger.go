package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout     = 2 * time.Second
	DefaultMaxAttempts = 5
)

// DecideFunc is called with the freshest entry while the instance is locked.
// Returning accept=true commits amount to the entry.
type DecideFunc func(e Entry) (amount decimal.Decimal, accept bool)

// Outcome is the result of Settle.
type Outcome struct {
	Accepted bool
	Replayed bool // the proposal had already been applied
	Entry    Entry
	Receipt  *Receipt
}

// Ledger serializes read-evaluate-apply per instance id. Within a process a
// mutex per instance guarantees it; across processes the store's version
// compare-and-swap does, and a lost swap re-runs the decision on fresh state.
type Ledger struct {
	store       Store
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time
	log         *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Ledger)

// WithTimeout bounds every call into the backing store.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithMaxAttempts bounds compare-and-swap retries.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		log:         slog.Default(),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With("component", "ledger")
	return l
}

// Now is the ledger's clock.
func (l *Ledger) Now() time.Time { return l.now().UTC() }

func (l *Ledger) lock(instanceID string) func() {
	l.mu.Lock()
	m, ok := l.locks[instanceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[instanceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *Ledger) load(ctx context.Context, instanceID string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	e, err := l.store.Load(ctx, instanceID)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, fmt.Errorf("instance %s: %w", instanceID, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%w: load %s: %v", ErrLedgerUnavailable, instanceID, err)
	}
	return e, nil
}

// Open creates the entry for an instance whose policy is being activated.
// An existing entry is returned untouched.
func (l *Ledger) Open(ctx context.Context, instanceID string, durationDays int, start time.Time) (Entry, error) {
	unlock := l.lock(instanceID)
	defer unlock()

	e, err := l.load(ctx, instanceID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entry{}, err
	}

	e = Entry{
		InstanceID:      instanceID,
		CumulativeSpent: decimal.Zero,
		WindowStart:     start.UTC(),
		DurationDays:    durationDays,
		Version:         1,
		UpdatedAt:       l.Now(),
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	err = l.store.Create(cctx, e)
	if errors.Is(err, ErrExists) {
		return l.load(ctx, instanceID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("create ledger entry %s: %w", instanceID, err)
	}

	l.log.Info("ledger entry opened", "instance", instanceID, "duration_days", durationDays, "window_start", e.WindowStart)
	return e, nil
}

// Get returns the current entry.
func (l *Ledger) Get(ctx context.Context, instanceID string) (Entry, error) {
	return l.load(ctx, instanceID)
}

// Receipt returns the receipt recorded for a proposal.
func (l *Ledger) Receipt(ctx context.Context, instanceID, proposalID string) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Receipt(ctx, instanceID, proposalID)
}

// Receipts lists the receipts of an instance, oldest first, when the store
// supports it.
func (l *Ledger) Receipts(ctx context.Context, instanceID string) ([]Receipt, error) {
	lister, ok := l.store.(ReceiptLister)
	if !ok {
		return nil, fmt.Errorf("ledger store %T cannot list receipts", l.store)
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return lister.ListReceipts(ctx, instanceID)
}

// ResetWindow starts a new authorization window at start and zeroes the
// cumulative spend. This is the only way spend ever goes down.
func (l *Ledger) ResetWindow(ctx context.Context, instanceID string, start time.Time) (Entry, error) {
	unlock := l.lock(instanceID)
	defer unlock()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		e, err := l.load(ctx, instanceID)
		if err != nil {
			return Entry{}, err
		}

		next := e
		next.CumulativeSpent = decimal.Zero
		next.WindowStart = start.UTC()
		next.Version = e.Version + 1
		next.UpdatedAt = l.Now()

		err = l.update(ctx, e.Version, next, nil)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Entry{}, fmt.Errorf("reset window %s: %w", instanceID, err)
		}

		l.log.Info("authorization window reset", "instance", instanceID, "window_start", next.WindowStart)
		return next, nil
	}
	return Entry{}, fmt.Errorf("reset window %s: %w", instanceID, ErrConflict)
}

func (l *Ledger) update(ctx context.Context, prev int64, next Entry, r *Receipt) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.store.Update(ctx, prev, next, r)
}

// Settle is the single path by which spend reaches the ledger. Under the
// instance lock it replays a known proposal, or loads the entry, asks decide
// and, on accept, commits the spend and its receipt as one step.
//
// A failure to commit an accepted spend returns an error matching
// ErrLedgerCommitFailed; it is never reported as a rejection.
func (l *Ledger) Settle(ctx context.Context, instanceID, proposalID string, decide DecideFunc) (Outcome, error) {
	if proposalID == "" {
		return Outcome{}, errors.New("ledger: proposal id is required")
	}

	unlock := l.lock(instanceID)
	defer unlock()

	if out, ok, err := l.replay(ctx, instanceID, proposalID); err != nil || ok {
		return out, err
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		e, err := l.load(ctx, instanceID)
		if err != nil {
			return Outcome{}, err
		}

		amount, accept := decide(e)
		if !accept {
			return Outcome{Entry: e}, nil
		}

		now := l.Now()
		next := e
		next.CumulativeSpent = e.CumulativeSpent.Add(amount)
		next.Version = e.Version + 1
		next.UpdatedAt = now

		r := &Receipt{
			ID:              uuid.New().String(),
			InstanceID:      instanceID,
			ProposalID:      proposalID,
			Amount:          amount,
			CumulativeAfter: next.CumulativeSpent,
			AppliedAt:       now,
		}

		err = l.update(ctx, e.Version, next, r)
		switch {
		case err == nil:
			l.log.Debug("spend applied", "instance", instanceID, "proposal", proposalID,
				"amount", amount.String(), "cumulative_spent", next.CumulativeSpent.String())
			return Outcome{Accepted: true, Entry: next, Receipt: r}, nil

		case errors.Is(err, ErrConflict):
			l.log.Warn("ledger version conflict, re-evaluating", "instance", instanceID, "proposal", proposalID, "attempt", attempt)
			continue

		case errors.Is(err, ErrDuplicateProposal):
			out, ok, rerr := l.replay(ctx, instanceID, proposalID)
			if rerr != nil {
				return Outcome{}, &CommitError{InstanceID: instanceID, ProposalID: proposalID, Err: rerr}
			}
			if ok {
				return out, nil
			}
			return Outcome{}, &CommitError{InstanceID: instanceID, ProposalID: proposalID, Err: err}

		default:
			l.log.Error("ledger commit failed", "instance", instanceID, "proposal", proposalID, "error", err)
			return Outcome{}, &CommitError{InstanceID: instanceID, ProposalID: proposalID, Err: err}
		}
	}

	return Outcome{}, &CommitError{InstanceID: instanceID, ProposalID: proposalID, Err: ErrConflict}
}

func (l *Ledger) replay(ctx context.Context, instanceID, proposalID string) (Outcome, bool, error) {
	r, err := l.Receipt(ctx, instanceID, proposalID)
	if errors.Is(err, ErrNotFound) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("%w: receipt %s/%s: %v", ErrLedgerUnavailable, instanceID, proposalID, err)
	}

	e, err := l.load(ctx, instanceID)
	if err != nil {
		return Outcome{}, false, err
	}
	l.log.Info("proposal replayed", "instance", instanceID, "proposal", proposalID)
	return Outcome{Accepted: true, Replayed: true, Entry: e, Receipt: &r}, true, nil
}
