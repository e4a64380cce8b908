package gateway

import (
	"errors"
	"fmt"
)

// Error kinds drive retry behavior: rate_limited and transient calls are
// retried with backoff, fatal calls are not.
const (
	KindRateLimited = "rate_limited"
	KindTransient   = "transient"
	KindFatal       = "fatal"
)

// Error is the typed failure returned by every upstream call.
type Error struct {
	Kind    string
	Source  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error from %s: %s (%v)", e.Kind, e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error from %s: %s", e.Kind, e.Source, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewRateLimitError(source, message string) *Error {
	return &Error{Kind: KindRateLimited, Source: source, Message: message}
}

func NewTransientError(source, message string, cause error) *Error {
	return &Error{Kind: KindTransient, Source: source, Message: message, Cause: cause}
}

func NewFatalError(source, message string, cause error) *Error {
	return &Error{Kind: KindFatal, Source: source, Message: message, Cause: cause}
}

func kindOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	// Unclassified errors are treated as transient so one odd failure does
	// not poison the source.
	return KindTransient
}

func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimited }
func IsFatal(err error) bool       { return err != nil && kindOf(err) == KindFatal }
func IsRetryable(err error) bool   { return err != nil && kindOf(err) != KindFatal }
