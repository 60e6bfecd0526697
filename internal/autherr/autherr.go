// Package autherr defines the failure taxonomy of the sign-in handshake.
//
// Every failure that can end an attempt carries a Kind. Kinds decide how a
// failure is logged, whether it may be retried, and which diagnostic code the
// host records. End users only ever see PublicMessage.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies a handshake failure.
type Kind string

const (
	KindConfiguration    Kind = "configuration_error"
	KindProviderDenied   Kind = "provider_denied"
	KindInvalidState     Kind = "invalid_state"
	KindExpiredState     Kind = "expired_state"
	KindMalformedState   Kind = "malformed_state"
	KindMissingState     Kind = "missing_state"
	KindReplayedState    Kind = "replayed_state"
	KindMissingCode      Kind = "missing_code"
	KindExchangeRejected Kind = "exchange_rejected"
	KindProfileRejected  Kind = "profile_fetch_rejected"
	KindNetworkFailure   Kind = "network_failure"
	KindMissingSubjectID Kind = "missing_subject_id"
	KindInternal         Kind = "internal_error"
)

// PublicMessage is the only failure text shown to end users.
const PublicMessage = "authentication failed"

// Sentinels for errors.Is comparisons. Matching is by Kind only.
var (
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrProviderDenied   = &Error{Kind: KindProviderDenied}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrExpiredState     = &Error{Kind: KindExpiredState}
	ErrMalformedState   = &Error{Kind: KindMalformedState}
	ErrMissingState     = &Error{Kind: KindMissingState}
	ErrReplayedState    = &Error{Kind: KindReplayedState}
	ErrMissingCode      = &Error{Kind: KindMissingCode}
	ErrExchangeRejected = &Error{Kind: KindExchangeRejected}
	ErrProfileRejected  = &Error{Kind: KindProfileRejected}
	ErrNetworkFailure   = &Error{Kind: KindNetworkFailure}
	ErrMissingSubjectID = &Error{Kind: KindMissingSubjectID}
)

// Error is a classified handshake failure.
type Error struct {
	Kind    Kind
	Message string

	// Set for KindProviderDenied and provider-side rejections.
	ProviderCode        string
	ProviderDescription string

	// HTTP status returned by the provider, when there was one.
	StatusCode int

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.ProviderCode != "" {
		msg += fmt.Sprintf(" (provider error %q", e.ProviderCode)
		if e.ProviderDescription != "" {
			msg += fmt.Sprintf(": %s", e.ProviderDescription)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Diagnostic returns the internal code recorded alongside the public message.
func (e *Error) Diagnostic() string {
	return string(e.Kind)
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when err is not classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether err may be retried locally.
// Only transport faults qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindNetworkFailure
}

// IsBenign reports whether err is an expected negative outcome, such as a user
// declining consent, rather than a fault.
func IsBenign(err error) bool {
	return KindOf(err) == KindProviderDenied
}

// IsSecurityRejection reports whether err means the callback was forged,
// replayed or malformed.
func IsSecurityRejection(err error) bool {
	switch KindOf(err) {
	case KindInvalidState, KindExpiredState, KindMalformedState,
		KindMissingState, KindMissingCode, KindReplayedState:
		return true
	}
	return false
}
