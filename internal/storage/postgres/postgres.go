package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
)

// Querier is the subset of *pgxpool.Pool the repository needs.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS redeem_keys (
		key            TEXT        NOT NULL,
		owner_kind     TEXT        NOT NULL DEFAULT 'unbound'
		               CHECK (owner_kind IN ('unbound', 'wildcard', 'identity')),
		owner          TEXT        NOT NULL DEFAULT '',
		reward         TEXT        NOT NULL DEFAULT '',
		expire_at      TIMESTAMPTZ NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_unbind_at TIMESTAMPTZ NULL
	)
`

const createKeyIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS redeem_keys_key_unique ON redeem_keys (key)`

type Session struct {
	pool *pgxpool.Pool
}

var _ connector.Session[Querier] = (*Session)(nil)

// Dialer returns a connector.DialFunc that builds a new pool per attempt.
func Dialer(cfg *config.DatabaseConfig) connector.DialFunc[Querier] {
	return func(ctx context.Context) (connector.Session[Querier], error) {
		pgxConfig, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
		}

		if cfg.MaxOpenConns > 0 {
			pgxConfig.MaxConns = int32(cfg.MaxOpenConns)
		}
		pgxConfig.MinConns = int32(cfg.MaxIdleConns)
		pgxConfig.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
		}
		return &Session{pool: pool}, nil
	}
}

func (s *Session) Handle() Querier { return s.pool }

func (s *Session) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureIndexes creates the table and its unique key index if missing.
func (s *Session) EnsureIndexes(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create redeem_keys table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createKeyIndexSQL); err != nil {
		return fmt.Errorf("failed to create redeem_keys key index: %w", err)
	}
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
