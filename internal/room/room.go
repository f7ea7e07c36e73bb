package room

import (
	"context"
	"time"
)

const (
	EventPartial = "transcription:partial"
	EventFinal   = "transcription:final"
	EventError   = "transcription:error"
)

// Broadcaster delivers an event to every member of a room. Emit must be safe
// to call from any goroutine and must not block on slow members.
type Broadcaster interface {
	Emit(event string, payload any, room string)
}

// MuteState reports whether narration playback is active in a room, during
// which human speech is not emitted.
type MuteState interface {
	IsActive(ctx context.Context, room string) bool
}

type Authorizer interface {
	IsAuthorized(ctx context.Context, room, participant string) (bool, error)
}

type PartialPayload struct {
	Room        string   `json:"room"`
	Participant string   `json:"participant"`
	Text        string   `json:"text"`
	StartTime   *float64 `json:"startTime,omitempty"`
}

type WordPayload struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

type FinalPayload struct {
	Room         string        `json:"room"`
	Participant  string        `json:"participant"`
	TranscriptID string        `json:"transcriptId"`
	Text         string        `json:"text"`
	StartTime    *float64      `json:"startTime,omitempty"`
	EndTime      *float64      `json:"endTime,omitempty"`
	Words        []WordPayload `json:"words,omitempty"`
}

type ErrorPayload struct {
	Room    string `json:"room"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Fanout emits to every sink in order.
type Fanout []Broadcaster

func (f Fanout) Emit(event string, payload any, room string) {
	for _, b := range f {
		if b != nil {
			b.Emit(event, payload, room)
		}
	}
}

type noMute struct{}

func (noMute) IsActive(context.Context, string) bool { return false }

func NoMute() MuteState { return noMute{} }

type allowAll struct{}

func (allowAll) IsAuthorized(context.Context, string, string) (bool, error) { return true, nil }

func AllowAll() Authorizer { return allowAll{} }

// Controller mutates the room state read by MuteState and Authorizer.
type Controller interface {
	SetNarration(ctx context.Context, room string, active bool, ttl time.Duration) error
	AddParticipant(ctx context.Context, room, participant string) error
	RemoveParticipant(ctx context.Context, room, participant string) error
}
