package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// utteranceRecord mirrors the Postgres utterances table for local runs.
type utteranceRecord struct {
	ID           string  `gorm:"primaryKey;size:36"`
	RoomID       string  `gorm:"not null;index:idx_utterances_room,priority:1"`
	Participant  string  `gorm:"not null"`
	Provider     string  `gorm:"not null"`
	Text         string  `gorm:"type:text;not null"`
	Status       string  `gorm:"size:16;not null;default:partial"`
	StartSeconds *float64
	EndSeconds   *float64
	Words        datatypes.JSON
	CreatedAt    time.Time `gorm:"index:idx_utterances_room,priority:2"`
	UpdatedAt    time.Time
}

func (utteranceRecord) TableName() string {
	return "utterances"
}

type SQLiteRepository struct {
	db *gorm.DB
}

func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

func NewSQLiteRepository(db *gorm.DB) (repository.Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite repository requires database handle")
	}
	if err := db.AutoMigrate(&utteranceRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) RecordPartial(ctx context.Context, input repository.RecordPartialInput) (string, error) {
	if input.ExistingID != "" {
		res := r.db.WithContext(ctx).Model(&utteranceRecord{}).
			Where("id = ? AND status = ?", input.ExistingID, string(repository.UtteranceStatusPartial)).
			Updates(map[string]any{"text": input.Text})
		if res.Error != nil {
			return "", fmt.Errorf("update partial utterance: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return input.ExistingID, nil
		}
	}
	record := &utteranceRecord{
		ID:          uuid.NewString(),
		RoomID:      input.RoomID,
		Participant: input.Participant,
		Provider:    input.Provider,
		Text:        input.Text,
		Status:      string(repository.UtteranceStatusPartial),
		Words:       datatypes.JSON("[]"),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", fmt.Errorf("insert partial utterance: %w", err)
	}
	return record.ID, nil
}

func (r *SQLiteRepository) RecordFinal(ctx context.Context, input repository.RecordFinalInput) (string, error) {
	words, err := encodeWords(input.Words)
	if err != nil {
		return "", err
	}
	if input.ExistingPartialID != "" {
		res := r.db.WithContext(ctx).Model(&utteranceRecord{}).
			Where("id = ?", input.ExistingPartialID).
			Updates(map[string]any{
				"text":          input.Text,
				"status":        string(repository.UtteranceStatusFinal),
				"start_seconds": seconds(input.StartTime),
				"end_seconds":   seconds(input.EndTime),
				"words":         datatypes.JSON(words),
			})
		if res.Error != nil {
			return "", fmt.Errorf("finalize utterance: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return input.ExistingPartialID, nil
		}
		slog.Warn("in-progress utterance vanished; inserting final", "utterance_id", input.ExistingPartialID)
	}
	record := &utteranceRecord{
		ID:           uuid.NewString(),
		RoomID:       input.RoomID,
		Participant:  input.Participant,
		Provider:     input.Provider,
		Text:         input.Text,
		Status:       string(repository.UtteranceStatusFinal),
		StartSeconds: seconds(input.StartTime),
		EndSeconds:   seconds(input.EndTime),
		Words:        datatypes.JSON(words),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", fmt.Errorf("insert final utterance: %w", err)
	}
	return record.ID, nil
}

func (r *SQLiteRepository) ListUtterancesByRoom(ctx context.Context, roomID string) ([]repository.Utterance, error) {
	var records []utteranceRecord
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Order("rowid ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	list := make([]repository.Utterance, 0, len(records))
	for _, rec := range records {
		words, err := decodeWords(rec.Words)
		if err != nil {
			return nil, err
		}
		list = append(list, repository.Utterance{
			ID:          rec.ID,
			RoomID:      rec.RoomID,
			Participant: rec.Participant,
			Provider:    rec.Provider,
			Text:        rec.Text,
			Status:      repository.UtteranceStatus(rec.Status),
			StartTime:   duration(rec.StartSeconds),
			EndTime:     duration(rec.EndSeconds),
			Words:       words,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	return list, nil
}

func (r *SQLiteRepository) Close() {
	sqlDB, err := r.db.DB()
	if err != nil {
		slog.Warn("failed to get sqlite handle", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		slog.Warn("failed to close sqlite", "error", err)
	}
}
