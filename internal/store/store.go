// Package store persists games, evaluations and notification history and
// serves the ranking read path. It runs on SQLite for single-node use and on
// PostgreSQL when the DSN is a postgres URL.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by reads that match nothing.
var ErrNotFound = errors.New("not found")

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// evaluatedAtLayout is fixed width so text ordering equals time ordering.
const evaluatedAtLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db      *sqlx.DB
	dialect string
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for evaluated_at and audit
// columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to dsn. A postgres:// or postgresql:// URL selects
// PostgreSQL; anything else is a SQLite path, optionally prefixed with
// sqlite://.
func Open(dsn string, opts ...Option) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
		s.db, s.dialect = db, DialectPostgres
		return s, nil
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db, s.dialect = db, DialectSQLite
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dialect() string { return s.dialect }

// Ping checks connectivity. The pipeline treats a failure here as fatal.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect, err)
	}
	return nil
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS games (
	id             %[1]s,
	identity_key   TEXT NOT NULL UNIQUE,
	provider       TEXT NOT NULL DEFAULT '',
	native_id      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	game_type      TEXT NOT NULL,
	release_date   TEXT NOT NULL DEFAULT '',
	update_date    TEXT NOT NULL DEFAULT '',
	update_title   TEXT NOT NULL DEFAULT '',
	version        TEXT NOT NULL DEFAULT '',
	developer      TEXT NOT NULL DEFAULT '',
	publisher      TEXT NOT NULL DEFAULT '',
	platforms      TEXT NOT NULL DEFAULT '',
	genres         TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	image_url      TEXT NOT NULL DEFAULT '',
	source_url     TEXT NOT NULL DEFAULT '',
	quality_signal DOUBLE PRECISION,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
	id              %[1]s,
	game_id         BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	evaluation_date TEXT NOT NULL,
	evaluation_type TEXT NOT NULL,
	trend_score     DOUBLE PRECISION NOT NULL,
	brand_score     DOUBLE PRECISION NOT NULL,
	series_score    DOUBLE PRECISION NOT NULL,
	sales_score     DOUBLE PRECISION NOT NULL,
	total_score     INTEGER NOT NULL,
	reasoning       TEXT NOT NULL DEFAULT '',
	evaluated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_date ON evaluations (evaluation_date);
CREATE INDEX IF NOT EXISTS idx_evaluations_rank ON evaluations (evaluation_date, total_score, evaluated_at);
CREATE INDEX IF NOT EXISTS idx_games_type ON games (game_type);

CREATE TABLE IF NOT EXISTS notification_history (
	id                %[1]s,
	notification_type TEXT NOT NULL,
	message           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	error_message     TEXT NOT NULL DEFAULT '',
	sent_at           TEXT NOT NULL
);
`

func (s *Store) schema() string {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	return fmt.Sprintf(schemaTemplate, idType)
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(evaluatedAtLayout)
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(evaluatedAtLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}
