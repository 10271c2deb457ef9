// Package mailerr defines the error taxonomy shared by the mail core.
//
// Every failure surfaced to callers carries one of five kinds. Callers test
// the kind with errors.Is against the exported sentinels and read a
// human-readable reason with Reason.
package mailerr

import (
	"errors"
	"fmt"
)

// Kind classifies a mail core failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthentication means the store or relay rejected the credentials.
	KindAuthentication
	// KindConnection is a transient network or protocol failure.
	KindConnection
	// KindNotFound means the referenced folder or UID does not exist.
	KindNotFound
	// KindDelivery is a permanent relay rejection.
	KindDelivery
	// KindInvalidArgument means the caller's input was malformed. No I/O was attempted.
	KindInvalidArgument
)

var (
	ErrAuthentication  = errors.New("authentication failed")
	ErrConnection      = errors.New("connection failed")
	ErrNotFound        = errors.New("not found")
	ErrDelivery        = errors.New("delivery failed")
	ErrInvalidArgument = errors.New("invalid argument")
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindConnection:
		return "connection"
	case KindNotFound:
		return "not_found"
	case KindDelivery:
		return "delivery"
	case KindInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuthentication:
		return ErrAuthentication
	case KindConnection:
		return ErrConnection
	case KindNotFound:
		return ErrNotFound
	case KindDelivery:
		return ErrDelivery
	case KindInvalidArgument:
		return ErrInvalidArgument
	default:
		return nil
	}
}

// Error is a classified mail core failure.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil && e.Reason != e.Err.Error() {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Authentication wraps a credential rejection.
func Authentication(op string, err error) error {
	return &Error{Kind: KindAuthentication, Op: op, Reason: "invalid credentials", Err: err}
}

// Connection wraps a transient network or protocol failure.
func Connection(op string, err error) error {
	reason := "connection failed"
	if err != nil {
		reason = err.Error()
	}
	return &Error{Kind: KindConnection, Op: op, Reason: reason, Err: err}
}

// NotFound builds a not-found error with a formatted reason.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// Delivery wraps a permanent relay rejection with its reason.
func Delivery(reason string, err error) error {
	return &Error{Kind: KindDelivery, Op: "send", Reason: reason, Err: err}
}

// InvalidArgument builds an invalid-argument error with a formatted reason.
func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Reason returns the reason string of the outermost classified error in
// err's chain, or err's message when it is unclassified.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) && !errors.Is(err, ErrDelivery)
}
