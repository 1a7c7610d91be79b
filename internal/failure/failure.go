// Package failure defines the error taxonomy of the management layer. Every
// failure handed back to a caller carries a machine-checkable Kind alongside
// its human-readable description, and each Kind belongs to one Category that
// decides how the pipeline reacts to it.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the machine-checkable failure identifier.
type Kind string

const (
	ValidationFailed             Kind = "ValidationFailed"
	InvalidAttributeValue        Kind = "InvalidAttributeValue"
	RequiredAttributeMissing     Kind = "RequiredAttributeMissing"
	UnknownAttribute             Kind = "UnknownAttribute"
	AlternativeAttributeConflict Kind = "AlternativeAttributeConflict"
	DuplicateResource            Kind = "DuplicateResource"
	NoSuchParent                 Kind = "NoSuchParent"
	NoSuchResource               Kind = "NoSuchResource"
	UnknownOperation             Kind = "UnknownOperation"
	OperationRejected            Kind = "OperationRejected"
	DuplicateService             Kind = "DuplicateService"
	ServiceApplyFailed           Kind = "ServiceApplyFailed"
	ConcurrentModification       Kind = "ConcurrentModification"
	ConfigurationInconsistency   Kind = "ConfigurationInconsistency"
	PersistenceFailed            Kind = "PersistenceFailed"
	RollbackFailed               Kind = "RollbackFailed"
)

// Category groups kinds by how they propagate.
type Category int

const (
	// CategoryValidation is bad input caught in the MODEL stage. Nothing
	// beyond the private overlay has been touched.
	CategoryValidation Category = iota
	// CategoryRuntimeApply is a service container or broker failure that
	// triggers a rollback of model and runtime changes.
	CategoryRuntimeApply
	// CategoryConcurrentModification is a commit-time conflict; the caller
	// should resubmit.
	CategoryConcurrentModification
	// CategoryInconsistency is a non-fatal disagreement between the model and
	// the live service set. It is logged, never surfaced as a failure.
	CategoryInconsistency
	// CategoryFatal means model and runtime state can no longer be trusted to
	// agree; a full restart is required.
	CategoryFatal
)

// String returns the string representation of a Category.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryRuntimeApply:
		return "runtime-apply"
	case CategoryConcurrentModification:
		return "concurrent-modification"
	case CategoryInconsistency:
		return "inconsistency"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CategoryOf maps a Kind to its Category.
func CategoryOf(k Kind) Category {
	switch k {
	case ServiceApplyFailed, DuplicateService, PersistenceFailed:
		return CategoryRuntimeApply
	case ConcurrentModification:
		return CategoryConcurrentModification
	case ConfigurationInconsistency:
		return CategoryInconsistency
	case RollbackFailed:
		return CategoryFatal
	default:
		return CategoryValidation
	}
}

// Error is a classified management failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Kind, or a bare Kind value.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Error:
		return t.Kind == e.Kind && t.Message == "" && t.Err == nil
	case Kind:
		return t == e.Kind
	}
	return false
}

// Error lets a bare Kind be used as an errors.Is sentinel.
func (k Kind) Error() string {
	return string(k)
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind with a formatted context message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the outermost classified error in err's chain.
// Unclassified errors are reported as ServiceApplyFailed, since they come from
// collaborators outside the model.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ServiceApplyFailed
}

// Describe returns the single human-readable failure description shown to a
// caller.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
