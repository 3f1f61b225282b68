package ledger

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func q(query string) string { return regexp.QuoteMeta(dollarNumbers(query)) }

func TestDollarNumbers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", dollarNumbers("SELECT a FROM t WHERE x = ? AND y = ?"))
	assert.Equal(t, "no params", dollarNumbers("no params"))
}

func TestPostgresLoad(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	rows := sqlmock.NewRows([]string{"instance_id", "cumulative_spent", "window_start", "duration_days", "version", "updated_at"}).
		AddRow("btc", "9.9", t0, 30, int64(4), t0)
	mock.ExpectQuery(q(selectEntry)).WithArgs("btc").WillReturnRows(rows)

	e, err := s.Load(context.Background(), "btc")
	require.NoError(t, err)
	assert.Equal(t, "9.9", e.CumulativeSpent.String())
	assert.Equal(t, int64(4), e.Version)
	assert.Equal(t, 30, e.DurationDays)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	mock.ExpectQuery(q(selectEntry)).WithArgs("btc").
		WillReturnRows(sqlmock.NewRows([]string{"instance_id"}))

	_, err := s.Load(context.Background(), "btc")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func pgUpdateArgs() (Entry, *Receipt) {
	next := Entry{InstanceID: "btc", CumulativeSpent: d("1"), WindowStart: t0, DurationDays: 30, Version: 2, UpdatedAt: t0}
	r := &Receipt{ID: "r1", InstanceID: "btc", ProposalID: "p1", Amount: d("1"), CumulativeAfter: d("1"), AppliedAt: t0}
	return next, r
}

func TestPostgresUpdateCommits(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	next, r := pgUpdateArgs()

	mock.ExpectBegin()
	mock.ExpectQuery(q(selectReceiptExists)).WithArgs("btc", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectExec(q(updateEntry)).
		WithArgs("1", t0, 30, int64(2), t0, "btc", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(insertReceipt)).
		WithArgs("r1", "btc", "p1", "1", "1", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Update(context.Background(), 1, next, r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateConflictRollsBack(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	next, r := pgUpdateArgs()

	mock.ExpectBegin()
	mock.ExpectQuery(q(selectReceiptExists)).WithArgs("btc", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectExec(q(updateEntry)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.Update(context.Background(), 1, next, r), ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateDuplicateProposal(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	next, r := pgUpdateArgs()

	mock.ExpectBegin()
	mock.ExpectQuery(q(selectReceiptExists)).WithArgs("btc", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.Update(context.Background(), 1, next, r), ErrDuplicateProposal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
