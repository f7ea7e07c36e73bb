package transcriber

import (
	"context"
	"fmt"
	"time"
)

type Kind string

const (
	KindOffline Kind = "offline"
	KindCloud   Kind = "cloud"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOffline:
		return KindOffline, nil
	case KindCloud:
		return KindCloud, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

type ProviderConfig struct {
	Language             string
	SampleRateHz         int
	VocabularyName       string
	VocabularyFilterName string
}

type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
)

func (k EventKind) String() string {
	if k == EventFinal {
		return "final"
	}
	return "partial"
}

type Word struct {
	Text       string        `json:"text"`
	StartTime  time.Duration `json:"startTime"`
	EndTime    time.Duration `json:"endTime"`
	Confidence float64       `json:"confidence,omitempty"`
}

// Event is either a Partial or a Final hypothesis. EndTime and Words are only
// set on finals.
type Event struct {
	Kind      EventKind
	Text      string
	StartTime *time.Duration
	EndTime   *time.Duration
	Words     []Word
}

func Partial(text string) Event {
	return Event{Kind: EventPartial, Text: text}
}

func Final(text string) Event {
	return Event{Kind: EventFinal, Text: text}
}

// Stream is one open recognition session on a backend.
type Stream interface {
	Write(chunk []byte) error
	// Results is closed once the stream has terminated, either by Close or by a
	// backend fault reported through Err.
	Results() <-chan Event
	Err() error
	Close() error
	ModelInfo() string
}

type Provider interface {
	Kind() Kind
	OpenStream(ctx context.Context, sessionID string, cfg ProviderConfig) (Stream, error)
}

// ProviderSet holds at most one provider per kind. Selection happens once per
// session start.
type ProviderSet struct {
	providers map[Kind]Provider
	fallback  Kind
}

func NewProviderSet(fallback Kind, providers ...Provider) *ProviderSet {
	set := &ProviderSet{providers: make(map[Kind]Provider, len(providers)), fallback: fallback}
	for _, p := range providers {
		if p == nil {
			continue
		}
		set.providers[p.Kind()] = p
	}
	return set
}

func (s *ProviderSet) Select(kind Kind) (Provider, error) {
	if kind == "" {
		kind = s.fallback
	}
	p, ok := s.providers[kind]
	if !ok {
		return nil, NewError(CodeFeatureDisabled, fmt.Sprintf("provider %q is not enabled", kind))
	}
	return p, nil
}

func (s *ProviderSet) Default() Kind {
	return s.fallback
}
