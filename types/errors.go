package types

import (
	"errors"
	"fmt"
)

// ErrorType discriminates X402Error values. The set is closed: transport and
// orchestration code never invent new strings, so callers can switch on the
// type instead of matching messages.
type ErrorType string

const (
	// Caller-side failures, raised before any network attempt.
	ErrInvalidOption        ErrorType = "invalid_option"
	ErrRequestSetupFailed   ErrorType = "request_setup_failed"
	ErrTransportUnavailable ErrorType = "transport_unavailable"

	// Transport failures.
	ErrTimeout            ErrorType = "timeout"
	ErrTransportError     ErrorType = "transport_error"
	ErrHTTPError          ErrorType = "http_error"
	ErrInvalidJSON        ErrorType = "invalid_json"
	ErrUnexpectedResponse ErrorType = "unexpected_response"

	// Hook contract violations.
	ErrHookHalted         ErrorType = "hook_halted"
	ErrHookInvalidReturn  ErrorType = "hook_invalid_return"
	ErrHookCallbackFailed ErrorType = "hook_callback_failed"
)

// X402Error is the structured failure shape shared by the transport and the
// hook orchestrator. Instances are never mutated after creation; a hook that
// wants a different error must return a replacement.
type X402Error struct {
	// Type tags the failure for programmatic handling.
	Type ErrorType `json:"type"`

	// Status is the HTTP status of the failing response, when one arrived.
	Status int `json:"status,omitempty"`

	// Body holds the parsed error response. Non-JSON bodies are wrapped as
	// {"raw_body": "<text>"}.
	Body map[string]any `json:"body,omitempty"`

	// Reason is a free-form diagnostic.
	Reason string `json:"reason,omitempty"`

	// Retryable reports whether the transport considered the failure
	// transient.
	Retryable bool `json:"retryable"`

	// Attempt is the 1-based count of HTTP attempts actually made. It is 0
	// when the call failed before reaching the network.
	Attempt int `json:"attempt,omitempty"`

	// Callback names the hook that produced the error, for the hook_* types.
	Callback string `json:"callback,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

func (e *X402Error) Error() string {
	msg := "x402: " + string(e.Type)
	if e.Callback != "" {
		msg += " from " + e.Callback
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *X402Error) Unwrap() error {
	return e.Err
}

// AsX402Error extracts an *X402Error from anywhere in err's chain.
func AsX402Error(err error) (*X402Error, bool) {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe, true
	}
	return nil, false
}

// ErrorTypeOf returns the error's type, or "" when err carries no X402Error.
func ErrorTypeOf(err error) ErrorType {
	if xe, ok := AsX402Error(err); ok {
		return xe.Type
	}
	return ""
}

// IsRetryable reports whether err is an X402Error marked transient.
func IsRetryable(err error) bool {
	xe, ok := AsX402Error(err)
	return ok && xe.Retryable
}
