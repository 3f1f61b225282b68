package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/policy"
)

var errNoInstance = errors.New("no such instance")

type staticSettings map[string]policy.Settings

func (s staticSettings) Settings(_ context.Context, id string) (policy.Settings, error) {
	pol, ok := s[id]
	if !ok {
		return nil, errNoInstance
	}
	return pol, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type brokenStore struct {
	*ledger.MemoryStore
	fail bool
}

func (s *brokenStore) Update(ctx context.Context, prev int64, next ledger.Entry, r *ledger.Receipt) error {
	if s.fail {
		return errors.New("write timeout")
	}
	return s.MemoryStore.Update(ctx, prev, next, r)
}

type fixture struct {
	gate   *Gate
	ledger *ledger.Ledger
	clock  *clock
	store  *brokenStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := &brokenStore{MemoryStore: ledger.NewMemoryStore()}
	l := ledger.New(store, ledger.WithClock(c.Now))
	src := staticSettings{
		"btc": btcPolicy(),
		"analyst": policy.AnalystPolicy{
			Authorized:             true,
			AuthorizedDurationDays: intp(10),
			AdviceAllowed:          false,
		},
		"analyst-open": policy.AnalystPolicy{Authorized: true, AdviceAllowed: true},
	}
	return &fixture{gate: NewGate(src, l, nil), ledger: l, clock: c, store: store}
}

// preload puts spend on the ledger without going through the caps.
func (f *fixture) preload(t *testing.T, id, amount string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Open(ctx, id, 30, f.clock.Now())
	require.NoError(t, err)
	_, err = f.ledger.Settle(ctx, id, "preload", func(ledger.Entry) (decimal.Decimal, bool) {
		return d(amount), true
	})
	require.NoError(t, err)
}

func TestGateWorkedBTCExample(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.preload(t, "btc", "9.5")

	p := btcProposal("0.4")
	p.ID = "p1"
	dec, err := f.gate.SubmitProposal(ctx, "btc", p)
	require.NoError(t, err)
	assert.Equal(t, Accepted, dec.Status)
	assert.NotEmpty(t, dec.ReceiptID)

	e, err := f.ledger.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "9.9", e.CumulativeSpent.String())

	p.ID = "p2"
	dec, err = f.gate.SubmitProposal(ctx, "btc", p)
	require.NoError(t, err)
	assert.Equal(t, Rejected, dec.Status)
	assert.Equal(t, CumulativeLimitExceeded, dec.Reason)
	assert.Empty(t, dec.ReceiptID)

	e, err = f.ledger.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "9.9", e.CumulativeSpent.String())
}

func TestGateBoundaryAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.preload(t, "btc", "9.5")

	p := btcProposal("0.5")
	dec, err := f.gate.SubmitProposal(context.Background(), "btc", p)
	require.NoError(t, err)
	assert.True(t, dec.Accepted())

	e, err := f.ledger.Get(context.Background(), "btc")
	require.NoError(t, err)
	assert.True(t, d("10").Equal(e.CumulativeSpent))
}

func TestGateOpensLedgerLazily(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.gate.SubmitProposal(ctx, "btc", btcProposal("0.25"))
	require.NoError(t, err)
	assert.True(t, dec.Accepted())

	e, err := f.ledger.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, 30, e.DurationDays)
	assert.Equal(t, "0.25", e.CumulativeSpent.String())
}

func TestGateReplaysProposal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.gate.SubmitProposal(ctx, "btc", btcProposal("1"))
	require.NoError(t, err)
	require.True(t, first.Accepted())

	second, err := f.gate.SubmitProposal(ctx, "btc", btcProposal("1"))
	require.NoError(t, err)
	assert.True(t, second.Accepted())
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ReceiptID, second.ReceiptID)

	e, err := f.ledger.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "1", e.CumulativeSpent.String())
}

func TestGateRejectsBadRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	p := btcProposal("1")
	p.ID = ""
	_, err := f.gate.SubmitProposal(ctx, "btc", p)
	assert.ErrorIs(t, err, ErrMissingProposalID)

	_, err = f.gate.SubmitProposal(ctx, "analyst", btcProposal("1"))
	assert.ErrorIs(t, err, ErrWrongPolicyKind)

	_, err = f.gate.SubmitOperation(ctx, "btc", Operation{OperationType: OpChatMessage})
	assert.ErrorIs(t, err, ErrWrongPolicyKind)

	_, err = f.gate.SubmitProposal(ctx, "nobody", btcProposal("1"))
	assert.ErrorIs(t, err, errNoInstance)
}

func TestGateRejectsOutOfRangeAmountWithoutTouchingLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.preload(t, "btc", "9.5")

	for i, raw := range []string{"1e-20000000", `"1e20000000"`} {
		var p Proposal
		body := fmt.Sprintf(`{"proposal_id":"p%d","action_type":"buy","asset_id":"BTC","amount":%s,"currency":"USDC"}`, i, raw)
		require.NoError(t, json.Unmarshal([]byte(body), &p))

		start := time.Now()
		dec, err := f.gate.SubmitProposal(ctx, "btc", p)
		require.NoError(t, err)
		assert.Equal(t, Rejected, dec.Status)
		assert.Equal(t, InvalidAmount, dec.Reason)
		assert.Less(t, time.Since(start), time.Second)
	}

	e, err := f.ledger.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "9.5", e.CumulativeSpent.String())
	assert.Equal(t, int32(-1), e.CumulativeSpent.Exponent())
}

func TestGateCommitFailureIsNotARejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.preload(t, "btc", "1")

	f.store.fail = true
	dec, err := f.gate.SubmitProposal(ctx, "btc", btcProposal("0.5"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrLedgerCommitFailed)
	assert.NotEqual(t, Rejected, dec.Status)

	e, err := f.ledger.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "1", e.CumulativeSpent.String())

	// retry with the same id once the store is back
	f.store.fail = false
	dec, err = f.gate.SubmitProposal(ctx, "btc", btcProposal("0.5"))
	require.NoError(t, err)
	assert.True(t, dec.Accepted())
	assert.False(t, dec.Replayed)
}

func TestGateConcurrentProposalsExactlyOneAccepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.preload(t, "btc", "9.5")

	results := make([]Decision, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := btcProposal("0.4")
			p.ID = fmt.Sprintf("racer-%d", i)
			dec, err := f.gate.SubmitProposal(context.Background(), "btc", p)
			assert.NoError(t, err)
			results[i] = dec
		}(i)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for _, dec := range results {
		switch {
		case dec.Accepted():
			accepted++
		case dec.Reason == CumulativeLimitExceeded:
			rejected++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, rejected)

	e, err := f.ledger.Get(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "9.9", e.CumulativeSpent.String())
}

func TestGateWindowExpiryAndRenewal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.preload(t, "btc", "2")

	f.clock.Advance(30 * 24 * time.Hour)
	p := btcProposal("0.1")
	p.ID = "on-the-boundary"
	dec, err := f.gate.SubmitProposal(ctx, "btc", p)
	require.NoError(t, err)
	assert.True(t, dec.Accepted())

	f.clock.Advance(time.Second)
	p.ID = "too-late"
	dec, err = f.gate.SubmitProposal(ctx, "btc", p)
	require.NoError(t, err)
	assert.Equal(t, AuthorizationExpired, dec.Reason)

	_, err = f.ledger.ResetWindow(ctx, "btc", f.clock.Now())
	require.NoError(t, err)

	dec, err = f.gate.SubmitProposal(ctx, "btc", p)
	require.NoError(t, err)
	assert.True(t, dec.Accepted())
}

func TestGateOperationUsesRemainingDays(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	analysis := Operation{OperationType: OpChatMessage, Message: &Message{MessageType: MessageAnalysis, Content: "BTC looks range bound"}}

	dec, err := f.gate.SubmitOperation(ctx, "analyst", analysis)
	require.NoError(t, err)
	assert.True(t, dec.Accepted())

	advice := Operation{OperationType: OpChatMessage, Message: &Message{MessageType: MessageAdvice, Content: "buy"}}
	dec, err = f.gate.SubmitOperation(ctx, "analyst", advice)
	require.NoError(t, err)
	assert.Equal(t, AdviceNotPermitted, dec.Reason)

	f.clock.Advance(11 * 24 * time.Hour)
	dec, err = f.gate.SubmitOperation(ctx, "analyst", analysis)
	require.NoError(t, err)
	assert.Equal(t, AuthorizationExpired, dec.Reason)

	// operations never move spend
	e, err := f.ledger.Get(ctx, "analyst")
	require.NoError(t, err)
	assert.True(t, e.CumulativeSpent.IsZero())
}

func TestGateOperationWithoutDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	advice := Operation{OperationType: OpChatMessage, Message: &Message{MessageType: MessageAdvice}}
	dec, err := f.gate.SubmitOperation(ctx, "analyst-open", advice)
	require.NoError(t, err)
	assert.True(t, dec.Accepted())

	_, err = f.ledger.Get(ctx, "analyst-open")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
