package compliance

import (
	"fmt"

	"github.com/rustyeddy/blockkit/policy"
)

// EvaluateOperation checks op against an analyst policy. The policy's
// duration is read as days remaining, so the caller passes a copy from
// AnalystPolicy.WithRemainingDays.
func EvaluateOperation(op Operation, pol policy.AnalystPolicy) Decision {
	if !pol.Authorized {
		return reject(NotAuthorized, "Block is not authorized")
	}

	if days, ok := pol.DurationDays(); ok && days <= 0 {
		return reject(AuthorizationExpired, "Authorization has expired")
	}

	if op.OperationType != OpChatMessage {
		return reject(UnsupportedOperation, fmt.Sprintf("Invalid operation type: %s", op.OperationType))
	}

	if op.Message != nil {
		switch op.Message.MessageType {
		case MessageAdvice:
			if !pol.AdviceAllowed {
				return reject(AdviceNotPermitted, "Block is not authorized to provide investment advice")
			}
		case MessageAnalysis:
		default:
			return reject(UnsupportedMessageType, fmt.Sprintf("Invalid message type: %s", op.Message.MessageType))
		}
	}

	return Decision{Status: Accepted}
}
