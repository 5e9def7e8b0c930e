// Package apperr defines the tagged error kinds surfaced at the API boundary.
package apperr

import "fmt"

// Kind tags an error with the category the HTTP/WS boundary maps to a status code.
type Kind string

const (
	Validation          Kind = "VALIDATION_ERROR"
	Authentication      Kind = "AUTHENTICATION_ERROR"
	Authorization       Kind = "AUTHORIZATION_ERROR"
	NotFound            Kind = "NOT_FOUND"
	Conflict            Kind = "CONFLICT"
	InsufficientFunds   Kind = "INSUFFICIENT_FUNDS"
	MarginInsufficient  Kind = "MARGIN_INSUFFICIENT"
	MarketNotOpen       Kind = "MARKET_NOT_OPEN"
	RateLimited         Kind = "RATE_LIMITED"
	PaymentRequired     Kind = "PAYMENT_REQUIRED"
	Internal            Kind = "INTERNAL_ERROR"
)

// Error is a kind-tagged application error with per-field validation details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error, preserving it for %w-style unwrapping.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails attaches per-field validation details and returns the receiver.
func (e *Error) WithDetails(details map[string]string) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal for untagged errors.
func KindOf(err error) Kind {
	var ae *Error
	if ok := As(err, &ae); ok {
		return ae.Kind
	}
	return Internal
}

// As is a thin wrapper so callers don't need to import errors just for this.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
