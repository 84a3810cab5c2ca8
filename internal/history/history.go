// Package history records every run's samples in SQLite so later runs can
// reseed endpoints that were fast recently.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/snapetech/iptvscout/internal/channel"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timestamps are stored in a fixed-width UTC layout so they compare lexically
const timeLayout = "2006-01-02T15:04:05Z"

// Store is a history database. A nil *Store is a disabled store: writes are
// dropped and queries return nothing.
type Store struct {
	db *sql.DB
}

// Run describes one pipeline execution.
type Run struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Endpoints  int
	Rendered   int
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Open opens (creating if needed) the database at path and applies pending migrations.
// An empty path returns a nil Store.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("history: migrations table: %w", err)
	}
	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	byVersion := map[int]string{}
	versions := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("history: invalid migration name %s", name)
		}
		versions = append(versions, v)
		byVersion[v] = name
	}
	sort.Ints(versions)

	for _, v := range versions {
		if applied[v] {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + byVersion[v])
		if err != nil {
			return err
		}
		up := upSection(string(b))
		if strings.TrimSpace(up) == "" {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("history: migration %s: %w", byVersion[v], err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, v, time.Now().UTC().Format(timeLayout)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func upSection(text string) string {
	var out []string
	inUp := false
	for _, line := range strings.Split(text, "\n") {
		trim := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trim, "-- +migrate Up"):
			inUp = true
			continue
		case strings.HasPrefix(trim, "-- +migrate Down"):
			inUp = false
			continue
		}
		if inUp {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// RecordRun stores run and its sampled channels in one transaction.
func (s *Store) RecordRun(ctx context.Context, run Run, channels []channel.Channel) error {
	if s == nil {
		return nil
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(id, kind, started_at, finished_at, endpoints, channels, rendered) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		run.Endpoints, len(channels), run.Rendered)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples(run_id, name, url, endpoint, speed, width, height, sampled_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: prepare: %w", err)
	}
	defer stmt.Close()
	at := run.FinishedAt.UTC().Format(timeLayout)
	for _, c := range channels {
		if _, err := stmt.ExecContext(ctx, run.ID, c.Name, c.URL, c.Source.Host(), c.SpeedMBps, c.Resolution.Width, c.Resolution.Height, at); err != nil {
			return fmt.Errorf("history: insert sample: %w", err)
		}
	}
	return tx.Commit()
}

// GoodEndpoints returns endpoints (host:port) with at least one sample faster
// than minSpeed recorded at or after since, sorted.
func (s *Store) GoodEndpoints(ctx context.Context, since time.Time, minSpeed float64) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT endpoint FROM samples WHERE endpoint <> '' AND sampled_at >= ? AND speed > ? ORDER BY endpoint`,
		since.UTC().Format(timeLayout), minSpeed)
	if err != nil {
		return nil, fmt.Errorf("history: query endpoints: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ep string
		if err := rows.Scan(&ep); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// RunCount returns the number of recorded runs.
func (s *Store) RunCount(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}
