package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/cmdbase/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// An in-memory database lives per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events []*model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "events", "count", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, run_id, tick, kind, task_id, task_name, interruptor, requirements, mode, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		reqs := ev.Requirements
		if reqs == nil {
			reqs = []string{}
		}
		reqsJSON, err := json.Marshal(reqs)
		if err != nil {
			return fmt.Errorf("marshal requirements: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.RunID, int64(ev.Tick), string(ev.Kind),
			ev.TaskID, ev.TaskName, ev.Interruptor, string(reqsJSON), string(ev.Mode),
			ev.At.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func whereClause(opts model.ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if opts.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) CountEvents(ctx context.Context, opts model.ListOptions) (int, error) {
	whereSQL, args := whereClause(opts)
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+whereSQL, args...).Scan(&total)
	return total, err
}

// ListEvents returns matching events in the order they were appended, plus the
// total number of matches.
func (s *SQLiteStore) ListEvents(ctx context.Context, opts model.ListOptions) ([]*model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	total, err := s.CountEvents(ctx, opts)
	if err != nil {
		return nil, 0, err
	}

	whereSQL, args := whereClause(opts)
	listQuery := `SELECT id, run_id, tick, kind, task_id, task_name, interruptor, requirements, mode, at
		FROM events` + whereSQL + ` ORDER BY rowid LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var ev model.Event
		var tick int64
		var kind, reqsJSON, mode, at string
		if err := rows.Scan(&ev.ID, &ev.RunID, &tick, &kind, &ev.TaskID, &ev.TaskName,
			&ev.Interruptor, &reqsJSON, &mode, &at); err != nil {
			return nil, 0, err
		}
		ev.Tick = uint64(tick)
		ev.Kind = model.EventKind(kind)
		ev.Mode = model.RobotMode(mode)
		if err := json.Unmarshal([]byte(reqsJSON), &ev.Requirements); err != nil {
			return nil, 0, fmt.Errorf("unmarshal requirements of %s: %w", ev.ID, err)
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		events = append(events, &ev)
	}
	return events, total, rows.Err()
}

// ListRuns summarizes every recorded run, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*model.RunSummary, error) {
	s.logger.Debug("sql", "op", "list_runs", "table", "events")

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, COUNT(*), MAX(tick), MIN(at)
		 FROM events GROUP BY run_id ORDER BY MIN(rowid) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.RunSummary
	for rows.Next() {
		var run model.RunSummary
		var lastTick int64
		var startedAt string
		if err := rows.Scan(&run.RunID, &run.Events, &lastTick, &startedAt); err != nil {
			return nil, err
		}
		run.LastTick = uint64(lastTick)
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
