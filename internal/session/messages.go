package session

import "github.com/broadcomms/brainstormx-transcribe/internal/transcriber"

const (
	stopReasonRequested = "requested"
	stopReasonReplaced  = "replaced"
	stopReasonFault     = "fault"
	stopReasonEnded     = "ended"
	stopReasonShutdown  = "shutdown"

	startOutcomeCreated  = "created"
	startOutcomeReused   = "reused"
	startOutcomeReplaced = "replaced"
	startOutcomeFailed   = "failed"
)

// Ready is the reply to a successful start.
type Ready struct {
	SessionID string           `json:"sessionId"`
	Provider  transcriber.Kind `json:"provider"`
	ModelInfo string           `json:"modelInfo,omitempty"`
	Reused    bool             `json:"reused,omitempty"`
}

type StopAck struct {
	Room        string `json:"room"`
	Participant string `json:"participant"`
}

// Stopped is delivered once per session after teardown completes or the
// stop grace period expires.
type Stopped struct {
	SessionID   string `json:"sessionId"`
	Room        string `json:"room"`
	Participant string `json:"participant"`
	Partials    int64  `json:"partials"`
	Finals      int64  `json:"finals"`
	Forced      bool   `json:"forced,omitempty"`
}

// Notifier routes replies that arrive after the originating call returned
// back to whoever owns the session. A key can be reused by a newer session
// before an older one reports, so receivers match on the session id.
type Notifier interface {
	NotifyStopped(key Key, stopped Stopped)
	NotifyError(key Key, sessionID string, err *transcriber.Error)
}

type noopNotifier struct{}

func (noopNotifier) NotifyStopped(Key, Stopped)                  {}
func (noopNotifier) NotifyError(Key, string, *transcriber.Error) {}
