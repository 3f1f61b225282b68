package block

import (
	"context"
	"fmt"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/pkg/amount"
	"github.com/rustyeddy/blockkit/pkg/id"
	"github.com/rustyeddy/blockkit/policy"
)

// ActionBlock runs an automated strategy under an action policy.
type ActionBlock struct {
	base
	policy policy.ActionPolicy
	sub    Submitter
}

func NewActionBlock(instanceID string, m manifest.Manifest, pol policy.ActionPolicy, sub Submitter, backend Backend) (*ActionBlock, error) {
	if m.BlockType != manifest.Action {
		return nil, fmt.Errorf("%w: %s is %s, want action", ErrKindMismatch, m.Name, m.BlockType)
	}
	return &ActionBlock{
		base:   base{instanceID: instanceID, manifest: m, backend: backend},
		policy: pol,
		sub:    sub,
	}, nil
}

func (b *ActionBlock) Policy() policy.ActionPolicy { return b.policy }

// ProposeTransaction fills in the proposal and block ids when empty, runs
// the block's own asset and per-transaction checks, and submits whatever
// passes them. The returned decision carries the proposal id to replay with.
func (b *ActionBlock) ProposeTransaction(ctx context.Context, p compliance.Proposal) (compliance.Decision, error) {
	if p.ID == "" {
		p.ID = id.Proposal()
	}
	if p.BlockID == "" {
		p.BlockID = b.manifest.Name
	}

	if dec, ok := b.preCheck(p); !ok {
		dec.ProposalID = p.ID
		return dec, nil
	}
	return b.sub.SubmitProposal(ctx, b.instanceID, p)
}

// preCheck catches obvious violations without a round trip. The gate repeats
// every check, so passing here means nothing on its own.
func (b *ActionBlock) preCheck(p compliance.Proposal) (compliance.Decision, bool) {
	if p.AssetID != b.policy.AssetID {
		return compliance.Decision{
			Status:  compliance.RejectedByBlockPreCheck,
			Reason:  compliance.AssetMismatch,
			Message: "Asset mismatch with block's control settings.",
		}, false
	}
	// out of range amounts are left for the gate to reject
	if amount.Valid(p.Amount) && p.Amount.GreaterThan(b.policy.MaxAmountPerTransaction) {
		return compliance.Decision{
			Status:  compliance.RejectedByBlockPreCheck,
			Reason:  compliance.PerTransactionLimitExceeded,
			Message: "Exceeds maximum amount per transaction defined in block's control settings.",
		}, false
	}
	return compliance.Decision{}, true
}
