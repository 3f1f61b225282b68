package block

import (
	"context"
	"fmt"

	"github.com/rustyeddy/blockkit/compliance"
	"github.com/rustyeddy/blockkit/manifest"
)

// AnalystBlock provides research and, when permitted, advice.
type AnalystBlock struct {
	base
	sub Submitter
}

func NewAnalystBlock(instanceID string, m manifest.Manifest, sub Submitter, backend Backend) (*AnalystBlock, error) {
	if m.BlockType != manifest.Analyst {
		return nil, fmt.Errorf("%w: %s is %s, want analyst", ErrKindMismatch, m.Name, m.BlockType)
	}
	return &AnalystBlock{
		base: base{instanceID: instanceID, manifest: m, backend: backend},
		sub:  sub,
	}, nil
}

func (b *AnalystBlock) PerformOperation(ctx context.Context, op compliance.Operation) (compliance.Decision, error) {
	return b.sub.SubmitOperation(ctx, b.instanceID, op)
}

// Chat submits a chat_message operation.
func (b *AnalystBlock) Chat(ctx context.Context, messageType, content string) (compliance.Decision, error) {
	return b.PerformOperation(ctx, compliance.Operation{
		OperationType: compliance.OpChatMessage,
		Message:       &compliance.Message{MessageType: messageType, Content: content},
	})
}
