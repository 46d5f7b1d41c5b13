package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var DB *pgxpool.Pool

// PoolSettings sizes the connection pool. Zero fields keep the pgxpool
// defaults.
type PoolSettings struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func ConnectDB(ctx context.Context, dbURL string, settings PoolSettings) error {
	config, err := poolConfig(dbURL, settings)
	if err != nil {
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("unable to ping database: %w", err)
	}
	DB = pool

	log.Info().
		Str("component", "database").
		Int32("max_conns", config.MaxConns).
		Int32("min_conns", config.MinConns).
		Msg("connected to PostgreSQL")
	return nil
}

func poolConfig(dbURL string, settings PoolSettings) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if settings.MaxConns > 0 {
		config.MaxConns = int32(settings.MaxConns)
	}
	if settings.MinConns > 0 {
		config.MinConns = int32(settings.MinConns)
	}
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	if settings.MaxConnLifetime > 0 {
		config.MaxConnLifetime = settings.MaxConnLifetime
	}
	if settings.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = settings.MaxConnIdleTime
	}
	return config, nil
}

func CloseDB() {
	if DB != nil {
		DB.Close()
	}
}
