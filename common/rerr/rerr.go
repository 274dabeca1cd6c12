// Package rerr defines the error taxonomy shared by every component of the
// stack. Each error carries a Kind and a numeric Code; the Code is the single
// result-code space visible on the wire (CDAP result field and control-channel
// result attribute).
package rerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the stack-wide failure classes.
type Kind int

const (
	KindNone Kind = iota

	// Validation
	KindMalformedMessage
	KindInvalidField
	KindRequiredFieldMissing

	// State
	KindInvalidStateTransition
	KindNotAMemberOfDIF
	KindAlreadyRegistered
	KindNotRegistered

	// Resource
	KindNoFreePortID
	KindNoFreeCEPID
	KindNoFreeInvokeID
	KindKernelBusy
	KindOutOfMemory

	// Timing
	KindTimeout
	KindUnknownSequenceNumber
	KindUnknownInvokeID

	// Transport
	KindChannelClosed
	KindWriteFailed
	KindReadFailed

	// RIB
	KindUnknownObjectClass
	KindUnknownObjectName
	KindOperationNotAllowed
	KindObjectAlreadyExists
	KindChildNotFound
	KindObjectValueNull

	// Flow allocation
	KindUnknownApplication
	KindFlowSpecUnsatisfiable
	KindPeerRejected
)

var kindNames = map[Kind]string{
	KindNone:                   "none",
	KindMalformedMessage:       "malformed message",
	KindInvalidField:           "invalid field",
	KindRequiredFieldMissing:   "required field missing",
	KindInvalidStateTransition: "invalid state transition",
	KindNotAMemberOfDIF:        "not a member of DIF",
	KindAlreadyRegistered:      "already registered",
	KindNotRegistered:          "not registered",
	KindNoFreePortID:           "no free port-id",
	KindNoFreeCEPID:            "no free cep-id",
	KindNoFreeInvokeID:         "no free invoke-id",
	KindKernelBusy:             "kernel busy",
	KindOutOfMemory:            "out of memory",
	KindTimeout:                "timeout",
	KindUnknownSequenceNumber:  "unknown sequence number",
	KindUnknownInvokeID:        "unknown invoke-id",
	KindChannelClosed:          "channel closed",
	KindWriteFailed:            "write failed",
	KindReadFailed:             "read failed",
	KindUnknownObjectClass:     "unknown object class",
	KindUnknownObjectName:      "unknown object name",
	KindOperationNotAllowed:    "operation not allowed",
	KindObjectAlreadyExists:    "object already exists",
	KindChildNotFound:          "child not found",
	KindObjectValueNull:        "object value null",
	KindUnknownApplication:     "unknown application",
	KindFlowSpecUnsatisfiable:  "flow spec unsatisfiable",
	KindPeerRejected:           "peer rejected",
}

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code is the numeric result code carried on the wire. Zero means success.
// The Kind constants double as the code space so that every failure class
// has exactly one wire representation.
func (k Kind) Code() int32 {
	return int32(k)
}

// KindFromCode maps a wire result code back to its Kind. Unknown codes map
// to KindNone so that callers surface the peer's reason string instead.
func KindFromCode(code int32) Kind {
	k := Kind(code)
	if _, ok := kindNames[k]; ok {
		return k
	}
	return KindNone
}

// Error is the error type used across component boundaries.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// New builds an Error of the given kind with a formatted reason.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Code returns the wire result code for the error.
func (e *Error) Code() int32 { return e.Kind.Code() }

// KindOf extracts the Kind from an error chain. Plain errors report KindNone.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindNone
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// CodeOf returns the wire result code for an error chain. Plain non-nil
// errors map to -1 (unclassified failure); nil maps to 0.
func CodeOf(err error) int32 {
	if err == nil {
		return 0
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Code()
	}
	return -1
}

// ReasonOf returns the human-readable reason for an error chain, falling
// back to the error text itself.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) && re.Reason != "" {
		return re.Reason
	}
	return err.Error()
}

// Transient reports whether a failure kind is worth retrying. Used by the
// flow allocator's create-retry budget.
func Transient(kind Kind) bool {
	switch kind {
	case KindTimeout, KindKernelBusy, KindNoFreePortID, KindNoFreeCEPID:
		return true
	}
	return false
}
