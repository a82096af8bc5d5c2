package gw

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies authorization failures. Every kind is fatal to the
// current invocation.
type ErrorKind string

const (
	// KindConfiguration covers a missing or malformed credentials file, an
	// unreadable token file, or invalid settings.
	KindConfiguration ErrorKind = "configuration"
	// KindNoToken means no stored token exists and `gw auth login` is needed.
	KindNoToken ErrorKind = "no_token"
	// KindCallback covers a provider error, a missing code, or a state mismatch.
	KindCallback ErrorKind = "callback"
	// KindTimeout means the callback never arrived.
	KindTimeout ErrorKind = "timeout"
	// KindRefresh means the relay refresh failed or no refresh token exists.
	KindRefresh ErrorKind = "refresh"
	// KindTransport covers listener bind failures and network errors while
	// exchanging or refreshing tokens.
	KindTransport ErrorKind = "transport"
)

// Error is the error type returned by the authorization subsystem.
type Error struct {
	Kind    ErrorKind
	Message string
	// Details carries paths and modes useful to the user. Never token values.
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error, details map[string]interface{}, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Details: details,
		Err:     err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err did not come from this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailsOf returns the details of the first *Error in err's chain.
func DetailsOf(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}
