package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) RecordPartial(ctx context.Context, input repository.RecordPartialInput) (string, error) {
	if input.ExistingID != "" {
		var id string
		err := r.pool.QueryRow(ctx,
			`UPDATE utterances SET text = $2, updated_at = NOW()
			 WHERE id = $1 AND status = 'partial'
			 RETURNING id`,
			input.ExistingID, input.Text).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("update partial utterance: %w", err)
		}
	}
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO utterances (room_id, participant, provider, text, status)
		 VALUES ($1, $2, $3, $4, 'partial')
		 RETURNING id`,
		input.RoomID, input.Participant, input.Provider, input.Text).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert partial utterance: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) RecordFinal(ctx context.Context, input repository.RecordFinalInput) (string, error) {
	words, err := encodeWords(input.Words)
	if err != nil {
		return "", err
	}
	start, end := seconds(input.StartTime), seconds(input.EndTime)

	if input.ExistingPartialID != "" {
		var id string
		err := r.pool.QueryRow(ctx,
			`UPDATE utterances
			 SET text = $2, status = 'final', start_seconds = $3, end_seconds = $4, words = $5, updated_at = NOW()
			 WHERE id = $1
			 RETURNING id`,
			input.ExistingPartialID, input.Text, start, end, words).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("finalize utterance: %w", err)
		}
	}
	var id string
	err = r.pool.QueryRow(ctx,
		`INSERT INTO utterances (room_id, participant, provider, text, status, start_seconds, end_seconds, words)
		 VALUES ($1, $2, $3, $4, 'final', $5, $6, $7)
		 RETURNING id`,
		input.RoomID, input.Participant, input.Provider, input.Text, start, end, words).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert final utterance: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) ListUtterancesByRoom(ctx context.Context, roomID string) ([]repository.Utterance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, participant, provider, text, status, start_seconds, end_seconds, words, created_at, updated_at
		 FROM utterances WHERE room_id = $1 ORDER BY created_at ASC`,
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Utterance
	for rows.Next() {
		var (
			u          repository.Utterance
			status     string
			start, end *float64
			words      []byte
		)
		if err := rows.Scan(&u.ID, &u.RoomID, &u.Participant, &u.Provider, &u.Text, &status, &start, &end, &words, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Status = repository.UtteranceStatus(status)
		u.StartTime, u.EndTime = duration(start), duration(end)
		if u.Words, err = decodeWords(words); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func encodeWords(words []repository.Word) ([]byte, error) {
	if len(words) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(words)
	if err != nil {
		return nil, fmt.Errorf("encode words: %w", err)
	}
	return b, nil
}

func decodeWords(raw []byte) ([]repository.Word, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var words []repository.Word
	if err := json.Unmarshal(raw, &words); err != nil {
		return nil, fmt.Errorf("decode words: %w", err)
	}
	return words, nil
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}

func duration(s *float64) *time.Duration {
	if s == nil {
		return nil
	}
	d := time.Duration(*s * float64(time.Second))
	return &d
}
