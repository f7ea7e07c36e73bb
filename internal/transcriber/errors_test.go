package transcriber

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("open stream: %w", NewError(CodeStreamNotOpen, "closed by peer"))
	if !errors.Is(err, ErrStreamNotOpen) {
		t.Fatal("expected wrapped error to match sentinel by code")
	}
	if errors.Is(err, ErrNoActiveSession) {
		t.Fatal("different codes must not match")
	}
}

func TestWrap_KeepsTypedErrors(t *testing.T) {
	if Wrap(CodeProviderError, "ignored", nil) != nil {
		t.Fatal("wrapping nil should return nil")
	}

	typed := CapabilityMissing([]string{"vocabulary:terms"})
	if got := Wrap(CodeProviderInitFailed, "open", fmt.Errorf("cloud: %w", typed)); got != typed {
		t.Fatalf("expected existing typed error, got %v", got)
	}

	cause := context.DeadlineExceeded
	wrapped := Wrap(CodeNetwork, "dial", cause)
	if wrapped.Code != CodeNetwork || !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("unexpected wrapped error: %v", wrapped)
	}
}

func TestCodeOf(t *testing.T) {
	cases := map[string]struct {
		err  error
		want Code
	}{
		"typed":   {err: NewError(CodeThrottled, "slow down"), want: CodeThrottled},
		"wrapped": {err: fmt.Errorf("x: %w", ErrMalformedChunk), want: CodeMalformedChunk},
		"foreign": {err: errors.New("boom"), want: CodeProviderError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestEveryCodeHasHint(t *testing.T) {
	codes := []Code{
		CodeUnauthorized, CodeFeatureDisabled, CodeCapabilityMissing, CodeProviderUnavailable,
		CodeProviderInitFailed, CodeStreamNotOpen, CodeNoActiveSession, CodeMalformedChunk,
		CodeSubscriptionRequired, CodeAccessDenied, CodeInvalidCredentials, CodeThrottled,
		CodeLimitExceeded, CodeNetwork, CodeProviderError,
	}
	for _, c := range codes {
		if c.Hint() == "" {
			t.Fatalf("missing hint for %s", c)
		}
	}
}
