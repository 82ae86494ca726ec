package xfer

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error. Callers branch on the kind, never on message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindPermission
	KindState
	KindIntegrity
	KindPathViolation
	KindAllocation
	KindExpired
	KindInvalidOperation
	KindStorageFault
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFound"
	case KindPermission:
		return "Permission"
	case KindState:
		return "StateError"
	case KindIntegrity:
		return "IntegrityError"
	case KindPathViolation:
		return "PathViolation"
	case KindAllocation:
		return "AllocationError"
	case KindExpired:
		return "Expired"
	case KindInvalidOperation:
		return "InvalidOperation"
	case KindStorageFault:
		return "StorageFault"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every Service operation. Msg is safe to show
// to clients; Err, when present, is internal detail that is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the client safe text for err. Storage faults and unknown
// errors never expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindUnknown {
		return "internal error"
	}

	if e.Kind == KindStorageFault {
		return "storage failure"
	}

	return e.Msg
}
