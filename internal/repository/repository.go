package repository

import (
	"context"
	"time"
)

type RecordPartialInput struct {
	RoomID      string
	Participant string
	Provider    string
	Text        string
	// ExistingID updates the in-progress row in place when set.
	ExistingID string
}

type RecordFinalInput struct {
	RoomID      string
	Participant string
	Provider    string
	Text        string
	StartTime   *time.Duration
	EndTime     *time.Duration
	Words       []Word
	// ExistingPartialID finalizes the in-progress row instead of inserting.
	ExistingPartialID string
}

type TranscriptWriter interface {
	RecordPartial(ctx context.Context, input RecordPartialInput) (string, error)
	RecordFinal(ctx context.Context, input RecordFinalInput) (string, error)
}

type TranscriptReader interface {
	ListUtterancesByRoom(ctx context.Context, roomID string) ([]Utterance, error)
}

type Repository interface {
	TranscriptWriter
	TranscriptReader
	Close()
}
