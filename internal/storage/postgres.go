// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface.
// This implementation is intended for production use with persistent data storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema creates all tables and indexes if they don't already exist.
// Foreign keys carry the deletion policy: works, episodes, comments and
// favorites cascade; activity keeps its rows and clears account_id.
const postgresSchema = `
	-- Accounts table for users and administrators
	CREATE TABLE IF NOT EXISTS accounts (
	    id BIGSERIAL PRIMARY KEY,
	    username TEXT NOT NULL UNIQUE,
	    email TEXT NOT NULL UNIQUE,
	    password_hash TEXT NOT NULL,
	    role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
	    avatar_url TEXT NOT NULL DEFAULT '',
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	-- Works table: one row per catalog entry
	CREATE TABLE IF NOT EXISTS works (
	    id BIGSERIAL PRIMARY KEY,
	    title TEXT NOT NULL,
	    description TEXT NOT NULL,
	    kind TEXT NOT NULL CHECK (kind IN ('video', 'novel')),
	    video_url TEXT,                          -- Set only for kind = video
	    pdf_url TEXT,                            -- Set only for kind = novel
	    category TEXT NOT NULL,
	    thumbnail_url TEXT NOT NULL DEFAULT '',
	    rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	    views BIGINT NOT NULL DEFAULT 0,
	    created_by BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_works_created_at ON works(created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_works_views ON works(views DESC);
	CREATE INDEX IF NOT EXISTS idx_works_kind_category ON works(kind, category);
	CREATE INDEX IF NOT EXISTS idx_works_created_by ON works(created_by);

	CREATE TABLE IF NOT EXISTS episodes (
	    id BIGSERIAL PRIMARY KEY,
	    work_id BIGINT NOT NULL REFERENCES works(id) ON DELETE CASCADE,
	    title TEXT NOT NULL,
	    number INTEGER NOT NULL DEFAULT 1,
	    kind TEXT NOT NULL CHECK (kind IN ('video', 'novel')),
	    video_url TEXT,
	    pdf_url TEXT,
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_work_number ON episodes(work_id, number, created_at);

	CREATE TABLE IF NOT EXISTS comments (
	    id BIGSERIAL PRIMARY KEY,
	    work_id BIGINT NOT NULL REFERENCES works(id) ON DELETE CASCADE,
	    account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	    text TEXT NOT NULL,
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_work_created ON comments(work_id, created_at DESC);

	-- One favorite per (account, work)
	CREATE TABLE IF NOT EXISTS favorites (
	    account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	    work_id BIGINT NOT NULL REFERENCES works(id) ON DELETE CASCADE,
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
	    PRIMARY KEY (account_id, work_id)
	);
	CREATE INDEX IF NOT EXISTS idx_favorites_account_created ON favorites(account_id, created_at DESC);

	-- Activity log (append-only) for the admin dashboard
	CREATE TABLE IF NOT EXISTS activities (
	    id BIGSERIAL PRIMARY KEY,
	    type TEXT NOT NULL,
	    description TEXT NOT NULL,
	    account_id BIGINT REFERENCES accounts(id) ON DELETE SET NULL,
	    metadata JSONB,
	    created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
`

// NewPostgres creates a new PostgreSQL storage implementation.
// It establishes a connection pool to the database and initializes the schema.
// Parameters:
//   - dsn: Database connection string in PostgreSQL format
//
// Returns:
//   - *SQLStore: Implementation of the storage interface; Close releases the pool
//   - error: Any error that occurred during initialization
func NewPostgres(dsn string) (*SQLStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLStore{sqlStore{db: pgPool{pool: pool}}}, nil
}

// pgConn is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgQuerier struct {
	c pgConn
}

func (q pgQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.c.Exec(ctx, query, args...)
	if err != nil {
		return 0, pgError(err)
	}
	return tag.RowsAffected(), nil
}

func (q pgQuerier) queryRow(ctx context.Context, query string, args ...any) row {
	return pgRow{q.c.QueryRow(ctx, query, args...)}
}

func (q pgQuerier) query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := q.c.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError(err)
	}
	return rs, nil
}

type pgRow struct {
	r pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	return pgError(r.r.Scan(dest...))
}

type pgPool struct {
	pool *pgxpool.Pool
}

func (p pgPool) exec(ctx context.Context, query string, args ...any) (int64, error) {
	return pgQuerier{p.pool}.exec(ctx, query, args...)
}

func (p pgPool) queryRow(ctx context.Context, query string, args ...any) row {
	return pgQuerier{p.pool}.queryRow(ctx, query, args...)
}

func (p pgPool) query(ctx context.Context, query string, args ...any) (rows, error) {
	return pgQuerier{p.pool}.query(ctx, query, args...)
}

func (p pgPool) withTx(ctx context.Context, fn func(q querier) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(pgQuerier{tx})
	})
}

func (p pgPool) ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p pgPool) close() { p.pool.Close() }

// pgError maps pgx errors onto the storage sentinels.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		}
	}
	return err
}
