// Package block is the scaffolding third-party strategy modules build on.
// A block is constructed from its manifest and the operator's policy, and
// exposes only the capabilities its kind allows.
package block

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/policy"
)

var (
	ErrKindMismatch    = errors.New("manifest block_type does not match block")
	ErrUnsupportedKind = errors.New("block kind cannot be instantiated")
)

// Submitter forwards block requests to the compliance gate.
type Submitter interface {
	SubmitProposal(ctx context.Context, instanceID string, p compliance.Proposal) (compliance.Decision, error)
	SubmitOperation(ctx context.Context, instanceID string, op compliance.Operation) (compliance.Decision, error)
}

// Block is what every block kind provides.
type Block interface {
	InstanceID() string
	Manifest() manifest.Manifest
	Backend() Backend

	// Start initializes and connects the backend, if there is one.
	Start(ctx context.Context) error
	Close() error
}

// ProposesTransactions is implemented by blocks that may move funds.
type ProposesTransactions interface {
	Block
	ProposeTransaction(ctx context.Context, p compliance.Proposal) (compliance.Decision, error)
}

// PerformsAnalystOperations is implemented by blocks that talk to the user.
type PerformsAnalystOperations interface {
	Block
	PerformOperation(ctx context.Context, op compliance.Operation) (compliance.Decision, error)
}

// New builds the block variant for m's kind. backend may be nil.
func New(instanceID string, m manifest.Manifest, s policy.Settings, sub Submitter, backend Backend) (Block, error) {
	switch m.BlockType {
	case manifest.Action:
		pol, ok := s.(policy.ActionPolicy)
		if !ok {
			return nil, fmt.Errorf("action block %s needs action settings, got %T", m.Name, s)
		}
		b, err := NewActionBlock(instanceID, m, pol, sub, backend)
		if err != nil {
			return nil, err
		}
		return b, nil
	case manifest.Analyst:
		b, err := NewAnalystBlock(instanceID, m, sub, backend)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, m.BlockType)
	}
}

type base struct {
	instanceID string
	manifest   manifest.Manifest
	backend    Backend
}

func (b *base) InstanceID() string          { return b.instanceID }
func (b *base) Manifest() manifest.Manifest { return b.manifest }
func (b *base) Backend() Backend            { return b.backend }

func (b *base) Start(ctx context.Context) error {
	if b.backend == nil {
		return nil
	}
	if err := b.backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize backend for %s: %w", b.instanceID, err)
	}
	if err := b.backend.Connect(ctx); err != nil {
		return fmt.Errorf("connect backend for %s: %w", b.instanceID, err)
	}
	return nil
}

func (b *base) Close() error {
	if b.backend == nil {
		return nil
	}
	return b.backend.Close()
}
