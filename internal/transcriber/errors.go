package transcriber

import (
	"errors"
	"fmt"
	"strings"
)

type Code string

const (
	CodeUnauthorized         Code = "unauthorized"
	CodeFeatureDisabled      Code = "feature_disabled"
	CodeCapabilityMissing    Code = "capability_missing"
	CodeProviderUnavailable  Code = "provider_unavailable"
	CodeProviderInitFailed   Code = "provider_init_failed"
	CodeStreamNotOpen        Code = "stream_not_open"
	CodeNoActiveSession      Code = "no_active_session"
	CodeMalformedChunk       Code = "malformed_chunk"
	CodeSubscriptionRequired Code = "subscription_required"
	CodeAccessDenied         Code = "access_denied"
	CodeInvalidCredentials   Code = "invalid_credentials"
	CodeThrottled            Code = "throttled"
	CodeLimitExceeded        Code = "limit_exceeded"
	CodeNetwork              Code = "network"
	CodeProviderError        Code = "provider_error"
)

var hints = map[Code]string{
	CodeUnauthorized:         "Join the workshop before starting transcription.",
	CodeFeatureDisabled:      "Transcription is disabled for this deployment or provider.",
	CodeCapabilityMissing:    "Create the requested custom vocabulary or filter, or start without it.",
	CodeProviderUnavailable:  "The selected speech provider is not installed or configured.",
	CodeProviderInitFailed:   "The speech provider could not be initialized. Try again shortly.",
	CodeStreamNotOpen:        "The transcription stream is closed. Start a new session.",
	CodeNoActiveSession:      "Start transcription before sending audio.",
	CodeMalformedChunk:       "An audio chunk could not be decoded and was skipped.",
	CodeSubscriptionRequired: "The cloud speech API is not enabled for this project.",
	CodeAccessDenied:         "The service account lacks permission to use the speech API.",
	CodeInvalidCredentials:   "The cloud speech credentials are invalid or expired.",
	CodeThrottled:            "The speech provider is throttling requests. Retry in a moment.",
	CodeLimitExceeded:        "The speech provider stream limit was reached.",
	CodeNetwork:              "The speech provider could not be reached.",
	CodeProviderError:        "The speech provider reported an error.",
}

func (c Code) Hint() string {
	return hints[c]
}

// Error is the single error type surfaced to callers and rooms. Missing is
// only set for CodeCapabilityMissing.
type Error struct {
	Code    Code
	Message string
	Missing []string
	Cause   error
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	var typed *Error
	if errors.As(cause, &typed) {
		return typed
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

func CapabilityMissing(missing []string) *Error {
	return &Error{
		Code:    CodeCapabilityMissing,
		Message: "missing provider resources: " + strings.Join(missing, ", "),
		Missing: missing,
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrStreamNotOpen       = NewError(CodeStreamNotOpen, "stream is not open")
	ErrNoActiveSession     = NewError(CodeNoActiveSession, "no active session")
	ErrProviderUnavailable = NewError(CodeProviderUnavailable, "provider is not available")
	ErrMalformedChunk      = NewError(CodeMalformedChunk, "malformed audio chunk")
)

// CodeOf returns the taxonomy code for err, or CodeProviderError for errors
// outside the taxonomy.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeProviderError
}
