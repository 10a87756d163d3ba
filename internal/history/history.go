// Package history keeps a ledger of processing runs and recently used paths
// in SQLite (default) or PostgreSQL.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Recent path kinds.
const (
	KindProject = "project"
	KindCapture = "capture"
)

const maxRecent = 10

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
	now     = func() time.Time { return time.Now().UTC() }
)

// Run is one processing run.
type Run struct {
	ID          int64
	Project     string
	ProcessGUID string
	ProcessType string
	Status      string
	Done        int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store is the run ledger.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the ledger and creates its tables if needed. For SQLite the
// dsn is a file path whose directory is created.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	sqlDriver := ""
	switch driver {
	case "", DriverSQLite:
		driver, sqlDriver = DriverSQLite, "sqlite"
		if dsn == "" {
			return nil, errors.New("history: sqlite path required")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("history: create dirs: %w", err)
		}
	case DriverPostgres:
		sqlDriver = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost/rdsp?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("history: unknown driver %q", driver)
	}
	openMu.Lock()
	db, err := sqlOpen(sqlDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping %s: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		idCol = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id ` + idCol + `,
			project TEXT NOT NULL,
			process_guid TEXT NOT NULL,
			process_type TEXT NOT NULL,
			status TEXT NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS recent (
			kind TEXT NOT NULL,
			path TEXT NOT NULL,
			touched_at BIGINT NOT NULL,
			PRIMARY KEY (kind, path)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun inserts a run and returns its ID.
func (s *Store) RecordRun(ctx context.Context, run Run) (int64, error) {
	started := run.StartedAt
	if started.IsZero() {
		started = now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO runs (project, process_guid, process_type, status, started_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		run.Project, run.ProcessGUID, run.ProcessType, run.Status, started.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("history: record run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final status of a run.
func (s *Store) FinishRun(ctx context.Context, id int64, status string, done int, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, done = $2, error = $3, finished_at = $4 WHERE id = $5`,
		status, done, msg, now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("history: finish run %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: run %d not found", id)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, process_guid, process_type, status, done, error, started_at, finished_at FROM runs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Project, &r.ProcessGUID, &r.ProcessType, &r.Status, &r.Done, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if finished != 0 {
			r.FinishedAt = time.Unix(0, finished).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Touch marks path as recently used and keeps the newest entries per kind.
func (s *Store) Touch(ctx context.Context, kind, path string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO recent (kind, path, touched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (kind, path) DO UPDATE SET touched_at = excluded.touched_at`,
		kind, path, now().UnixNano(),
	); err != nil {
		return fmt.Errorf("history: touch: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM recent WHERE kind = $1 AND path NOT IN (
			SELECT path FROM recent WHERE kind = $2 ORDER BY touched_at DESC LIMIT $3)`,
		kind, kind, maxRecent,
	); err != nil {
		return fmt.Errorf("history: trim recent: %w", err)
	}
	return nil
}

// Recent returns recently used paths of kind, newest first.
func (s *Store) Recent(ctx context.Context, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM recent WHERE kind = $1 ORDER BY touched_at DESC`, kind)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
