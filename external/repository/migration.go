package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE utterance_status AS ENUM ('partial', 'final'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS utterances (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		room_id TEXT NOT NULL,
		participant TEXT NOT NULL,
		provider TEXT NOT NULL,
		text TEXT NOT NULL,
		status utterance_status NOT NULL DEFAULT 'partial',
		start_seconds DOUBLE PRECISION,
		end_seconds DOUBLE PRECISION,
		words JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_utterances_room ON utterances (room_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_utterances_partial ON utterances (room_id, participant) WHERE status = 'partial'`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
