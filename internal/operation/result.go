package operation

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/failure"
)

// Outcome is the overall verdict of an operation.
type Outcome string

const (
	Success Outcome = "success"
	Failed  Outcome = "failed"
)

// Result is what a caller gets back for one operation.
type Result struct {
	Outcome            Outcome
	Result             cty.Value
	FailureDescription string
	FailureKind        failure.Kind
	RolledBack         bool
	ReloadRequired     bool
	Compensating       *Operation
	OperationID        string
}

// Succeeded reports whether the outcome is success.
func (r *Result) Succeeded() bool {
	return r.Outcome == Success
}

// Err rebuilds the failure of a failed result.
func (r *Result) Err() error {
	if r.Outcome != Failed {
		return nil
	}
	return failure.New(r.FailureKind, "%s", r.FailureDescription)
}

// FailedResult builds a failed result from an error.
func FailedResult(err error) *Result {
	return &Result{
		Outcome:            Failed,
		Result:             cty.NullVal(cty.DynamicPseudoType),
		FailureDescription: failure.Describe(err),
		FailureKind:        failure.KindOf(err),
	}
}
