package transform

import (
	"github.com/vk/brokerconf/internal/operation"
)

// Action says what a peer should do with a transformed operation.
type Action int

const (
	// Accept sends the (possibly rewritten) operation.
	Accept Action = iota
	// Discard drops the operation; it has no meaning for the peer.
	Discard
	// Reject refuses the operation; the peer cannot express it.
	Reject
)

// String returns the string representation of an Action.
func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Discard:
		return "discard"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Outcome is the result of transforming one operation.
type Outcome struct {
	Action    Action
	Operation *operation.Operation
	Reason    string
}

// Accepted wraps op in an Accept outcome.
func Accepted(op *operation.Operation) Outcome {
	return Outcome{Action: Accept, Operation: op}
}

// Discarded is the outcome of an operation the peer does not need.
func Discarded() Outcome {
	return Outcome{Action: Discard}
}

// Rejected refuses an operation with a reason.
func Rejected(reason string) Outcome {
	return Outcome{Action: Reject, Reason: reason}
}
