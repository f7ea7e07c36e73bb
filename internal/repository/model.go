package repository

import "time"

type UtteranceStatus string

const (
	UtteranceStatusPartial UtteranceStatus = "partial"
	UtteranceStatusFinal   UtteranceStatus = "final"
)

type Utterance struct {
	ID          string
	RoomID      string
	Participant string
	Provider    string
	Text        string
	Status      UtteranceStatus
	StartTime   *time.Duration
	EndTime     *time.Duration
	Words       []Word
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Word struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}
