package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// sqlStore implements Store on database/sql. bind rewrites the `?`
// placeholders for drivers that need numbered ones.
type sqlStore struct {
	db   *sql.DB
	bind func(string) string
}

func questionMarks(q string) string { return q }

func dollarNumbers(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	selectEntry = `SELECT instance_id, cumulative_spent, window_start, duration_days, version, updated_at
		FROM ledger_entries WHERE instance_id = ?`
	insertEntry = `INSERT INTO ledger_entries
		(instance_id, cumulative_spent, window_start, duration_days, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	updateEntry = `UPDATE ledger_entries
		SET cumulative_spent = ?, window_start = ?, duration_days = ?, version = ?, updated_at = ?
		WHERE instance_id = ? AND version = ?`
	selectReceiptExists = `SELECT 1 FROM ledger_receipts WHERE instance_id = ? AND proposal_id = ?`
	insertReceipt       = `INSERT INTO ledger_receipts
		(receipt_id, instance_id, proposal_id, amount, cumulative_after, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	selectReceipt = `SELECT receipt_id, instance_id, proposal_id, amount, cumulative_after, applied_at
		FROM ledger_receipts WHERE instance_id = ? AND proposal_id = ?`
)

func (s *sqlStore) Load(ctx context.Context, instanceID string) (Entry, error) {
	var e Entry
	row := s.db.QueryRowContext(ctx, s.bind(selectEntry), instanceID)
	err := row.Scan(
		&e.InstanceID,
		&e.CumulativeSpent,
		&e.WindowStart,
		&e.DurationDays,
		&e.Version,
		&e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *sqlStore) Create(ctx context.Context, e Entry) error {
	if _, err := s.Load(ctx, e.InstanceID); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.bind(insertEntry),
		e.InstanceID, e.CumulativeSpent.String(), e.WindowStart, e.DurationDays, e.Version, e.UpdatedAt,
	)
	return err
}

func (s *sqlStore) Update(ctx context.Context, prevVersion int64, next Entry, r *Receipt) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if r != nil {
		var one int
		qerr := tx.QueryRowContext(ctx, s.bind(selectReceiptExists), r.InstanceID, r.ProposalID).Scan(&one)
		if qerr == nil {
			return ErrDuplicateProposal
		}
		if !errors.Is(qerr, sql.ErrNoRows) {
			return qerr
		}
	}

	res, err := tx.ExecContext(ctx, s.bind(updateEntry),
		next.CumulativeSpent.String(), next.WindowStart, next.DurationDays, next.Version, next.UpdatedAt,
		next.InstanceID, prevVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}

	if r != nil {
		if _, err = tx.ExecContext(ctx, s.bind(insertReceipt),
			r.ID, r.InstanceID, r.ProposalID, r.Amount.String(), r.CumulativeAfter.String(), r.AppliedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *sqlStore) Receipt(ctx context.Context, instanceID, proposalID string) (Receipt, error) {
	var r Receipt
	row := s.db.QueryRowContext(ctx, s.bind(selectReceipt), instanceID, proposalID)
	err := row.Scan(
		&r.ID,
		&r.InstanceID,
		&r.ProposalID,
		&r.Amount,
		&r.CumulativeAfter,
		&r.AppliedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	return r, nil
}

// ListReceipts returns the receipts of an instance in application order.
func (s *sqlStore) ListReceipts(ctx context.Context, instanceID string) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT receipt_id, instance_id, proposal_id, amount, cumulative_after, applied_at
		FROM ledger_receipts WHERE instance_id = ? ORDER BY applied_at ASC`), instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.ID, &r.InstanceID, &r.ProposalID, &r.Amount, &r.CumulativeAfter, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
