package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	testStore(t, newSQLite(t))
}

func TestSQLiteLedgerRoundTrip(t *testing.T) {
	t.Parallel()

	s := newSQLite(t)
	l := newTestLedger(t, s)
	ctx := context.Background()
	seed(t, l, "btc", "9.5")

	out, err := l.Settle(ctx, "btc", "p1", capDecide("0.4", "10"))
	require.NoError(t, err)
	assert.True(t, out.Accepted)

	out, err = l.Settle(ctx, "btc", "p2", capDecide("0.4", "10"))
	require.NoError(t, err)
	assert.False(t, out.Accepted)

	e, err := l.Get(ctx, "btc")
	require.NoError(t, err)
	assert.Equal(t, "9.9", e.CumulativeSpent.String())

	rs, err := l.Receipts(ctx, "btc")
	require.NoError(t, err)
	var ids []string
	for _, r := range rs {
		ids = append(ids, r.ProposalID)
	}
	assert.ElementsMatch(t, []string{"seed", "p1"}, ids)
}

func TestSQLiteSchemaIsReentrant(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	s1, err := NewSQLite(path)
	require.NoError(t, err)
	l := newTestLedger(t, s1)
	seed(t, l, "btc", "1")
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	e, err := s2.Load(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "1", e.CumulativeSpent.String())
}
