package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/resilience"
	"github.com/sells-group/crm-migrate/internal/source"
)

func retryConfig() resilience.RetryConfig {
	return resilience.FromAttempts(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs)
}

// openSource connects to the legacy CRM database. Callers close it.
func openSource(ctx context.Context) (*source.DB, error) {
	return source.Open(ctx, cfg.Source.Driver, cfg.Source.DSN, source.Options{
		MaxOpenConns: cfg.Source.MaxOpenConns,
		ConnMaxLife:  cfg.Source.ConnMaxLifetime,
		Retry:        retryConfig(),
	})
}

// openDestination connects to the destination Postgres. Callers close it.
func openDestination(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Connect(ctx, cfg.Destination.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Destination.MaxConns,
		Retry:    retryConfig(),
	})
}
