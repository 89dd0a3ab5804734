// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS accounts (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    username TEXT NOT NULL UNIQUE,
	    email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	    password_hash TEXT NOT NULL,
	    role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
	    avatar_url TEXT NOT NULL DEFAULT '',
	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS works (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    title TEXT NOT NULL,
	    description TEXT NOT NULL,
	    kind TEXT NOT NULL CHECK (kind IN ('video', 'novel')),
	    video_url TEXT,
	    pdf_url TEXT,
	    category TEXT NOT NULL,
	    thumbnail_url TEXT NOT NULL DEFAULT '',
	    rating REAL NOT NULL DEFAULT 0,
	    views INTEGER NOT NULL DEFAULT 0,
	    created_by INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_works_created_at ON works(created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_works_views ON works(views DESC);
	CREATE INDEX IF NOT EXISTS idx_works_created_by ON works(created_by);

	CREATE TABLE IF NOT EXISTS episodes (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    work_id INTEGER NOT NULL REFERENCES works(id) ON DELETE CASCADE,
	    title TEXT NOT NULL,
	    number INTEGER NOT NULL DEFAULT 1,
	    kind TEXT NOT NULL CHECK (kind IN ('video', 'novel')),
	    video_url TEXT,
	    pdf_url TEXT,
	    created_at DATETIME NOT NULL,
	    updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_work_number ON episodes(work_id, number, created_at);

	CREATE TABLE IF NOT EXISTS comments (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    work_id INTEGER NOT NULL REFERENCES works(id) ON DELETE CASCADE,
	    account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	    text TEXT NOT NULL,
	    created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_comments_work_created ON comments(work_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS favorites (
	    account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	    work_id INTEGER NOT NULL REFERENCES works(id) ON DELETE CASCADE,
	    created_at DATETIME NOT NULL,
	    PRIMARY KEY (account_id, work_id)
	);

	CREATE TABLE IF NOT EXISTS activities (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    type TEXT NOT NULL,
	    description TEXT NOT NULL,
	    account_id INTEGER REFERENCES accounts(id) ON DELETE SET NULL,
	    metadata TEXT,
	    created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
`

func init() {
	// Replaces the built-in lower(), which folds ASCII only.
	sqlite.MustRegisterDeterministicScalarFunction("lower", 1, unicodeLower)
}

func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return strings.ToLower(fmt.Sprint(v)), nil
	}
}

// sqlitePragmas are applied to every connection through the DSN.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// NewSQLite opens (creating if needed) a SQLite database at path and
// initializes the schema. It serves single-node deployments and tests.
func NewSQLite(path string) (*SQLStore, error) {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; transactions queue instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return &SQLStore{sqlStore{db: sqliteDB{db: db}}}, nil
}

// placeholder rewrites $n to SQLite's numbered ?n form.
var placeholder = regexp.MustCompile(`\$(\d+)`)

func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?$1")
}

// sqlConn is satisfied by both *sql.DB and *sql.Tx.
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqliteQuerier struct {
	c sqlConn
}

func (q sqliteQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.c.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, sqliteError(err)
	}
	return res.RowsAffected()
}

func (q sqliteQuerier) queryRow(ctx context.Context, query string, args ...any) row {
	return sqliteRow{q.c.QueryRowContext(ctx, rebind(query), args...)}
}

func (q sqliteQuerier) query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := q.c.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, sqliteError(err)
	}
	return sqliteRows{rs}, nil
}

type sqliteRow struct {
	r *sql.Row
}

func (r sqliteRow) Scan(dest ...any) error {
	return sqliteError(r.r.Scan(dest...))
}

type sqliteRows struct {
	*sql.Rows
}

func (r sqliteRows) Close() { _ = r.Rows.Close() }

type sqliteDB struct {
	db *sql.DB
}

func (d sqliteDB) exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqliteQuerier{d.db}.exec(ctx, query, args...)
}

func (d sqliteDB) queryRow(ctx context.Context, query string, args ...any) row {
	return sqliteQuerier{d.db}.queryRow(ctx, query, args...)
}

func (d sqliteDB) query(ctx context.Context, query string, args ...any) (rows, error) {
	return sqliteQuerier{d.db}.query(ctx, query, args...)
}

func (d sqliteDB) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(sqliteQuerier{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d sqliteDB) ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d sqliteDB) close() { _ = d.db.Close() }

// sqliteError maps driver errors onto the storage sentinels.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := se.Error()
		switch {
		case se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(msg, "FOREIGN KEY"):
			return fmt.Errorf("%s: %w", msg, ErrNotFound)
		case se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(msg, "UNIQUE"):
			return fmt.Errorf("%s: %w", msg, ErrConflict)
		}
	}
	return err
}
