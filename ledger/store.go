package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("ledger entry not found")
	ErrExists            = errors.New("ledger entry already exists")
	ErrConflict          = errors.New("ledger entry changed concurrently")
	ErrDuplicateProposal = errors.New("proposal already applied")

	// ErrLedgerCommitFailed means an accepted spend could not be recorded.
	// The caller must replay with the same proposal id.
	ErrLedgerCommitFailed = errors.New("ledger commit failed")

	// ErrLedgerUnavailable means the backing store could not be read.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// Store persists entries and receipts. Implementations must make Update a
// compare-and-swap on Entry.Version.
type Store interface {
	// Load returns ErrNotFound when the instance has no entry.
	Load(ctx context.Context, instanceID string) (Entry, error)

	// Create inserts a new entry, ErrExists if one is already there.
	Create(ctx context.Context, e Entry) error

	// Update replaces the entry if its stored version is still prevVersion,
	// otherwise ErrConflict. A non-nil receipt is written in the same atomic
	// step; ErrDuplicateProposal if that proposal already has one.
	Update(ctx context.Context, prevVersion int64, next Entry, r *Receipt) error

	// Receipt returns ErrNotFound when the proposal was never applied.
	Receipt(ctx context.Context, instanceID, proposalID string) (Receipt, error)

	Close() error
}

// ReceiptLister is implemented by stores that can enumerate receipts.
type ReceiptLister interface {
	ListReceipts(ctx context.Context, instanceID string) ([]Receipt, error)
}

// CommitError wraps the cause of a failed commit of an accepted spend.
type CommitError struct {
	InstanceID string
	ProposalID string
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("ledger commit failed for instance %s proposal %s: %v", e.InstanceID, e.ProposalID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func (e *CommitError) Is(target error) bool { return target == ErrLedgerCommitFailed }
