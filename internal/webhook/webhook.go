package webhook

import (
	"context"
	"time"
)

type SessionSummaryPayload struct {
	SessionID   string    `json:"session_id"`
	Room        string    `json:"room"`
	Participant string    `json:"participant"`
	Provider    string    `json:"provider"`
	Partials    int64     `json:"partials"`
	Finals      int64     `json:"finals"`
	Forced      bool      `json:"forced"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

type Sender interface {
	SendSessionSummary(ctx context.Context, payload SessionSummaryPayload) error
}
