package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/webhook"
)

const (
	summaryAttempts  = 3
	summaryBackoff   = 250 * time.Millisecond
	statusBodyLimit  = 512
	idempotencyKey   = "Idempotency-Key"
	summaryUserAgent = "brainstormx-transcribe/webhook"
)

// StatusError reports a summary the receiver refused, naming the session it
// was about.
type StatusError struct {
	Room        string
	Participant string
	SessionID   string
	StatusCode  int
	Body        string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("session summary for %s/%s (session %s) rejected with status %d", e.Room, e.Participant, e.SessionID, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Retryable reports whether the receiver may accept the same summary later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPSender posts session summaries, retrying receiver and transport
// failures. Every attempt carries the session id as its idempotency key.
type HTTPSender struct {
	webhookURL string
	client     *http.Client
	attempts   int
	backoff    time.Duration
}

func NewHTTPSender(webhookURL string) *HTTPSender {
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		attempts:   summaryAttempts,
		backoff:    summaryBackoff,
	}
}

func (s *HTTPSender) SendSessionSummary(ctx context.Context, payload webhook.SessionSummaryPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode session summary: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = s.post(ctx, payload, body)
		if lastErr == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retryable() {
			return lastErr
		}
		if attempt == s.attempts {
			break
		}
		slog.Warn("session summary delivery failed, retrying",
			"error", lastErr,
			"attempt", attempt,
			"room", payload.Room,
			"participant", payload.Participant,
			"session_id", payload.SessionID)
		timer := time.NewTimer(s.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("session summary for %s/%s: %w", payload.Room, payload.Participant, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

func (s *HTTPSender) post(ctx context.Context, payload webhook.SessionSummaryPayload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build session summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", summaryUserAgent)
	if payload.SessionID != "" {
		req.Header.Set(idempotencyKey, payload.SessionID)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post session summary for %s/%s: %w", payload.Room, payload.Participant, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
	return &StatusError{
		Room:        payload.Room,
		Participant: payload.Participant,
		SessionID:   payload.SessionID,
		StatusCode:  resp.StatusCode,
		Body:        strings.TrimSpace(string(snippet)),
	}
}
