package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/broadcomms/brainstormx-transcribe/internal/config"
	"github.com/broadcomms/brainstormx-transcribe/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (repository.Repository, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DatabaseDriver == config.DatabaseDriverSQLite {
			db, err := OpenSQLite(cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			return NewSQLiteRepository(db)
		}
		return openPostgres(cfg.DatabaseURL)
	})
}

func openPostgres(url string) (repository.Repository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
	defer cancel()

	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigration(ctx, p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to run migration: %w", err)
	}
	return NewPostgresRepository(p), nil
}
