// Package history persists pipeline runs in SQLite, keyed by trace id.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/storyqa/migrations"
	"github.com/aschepis/backscratcher/storyqa/pipeline"
)

// ErrNotFound is returned by Get for an unknown trace id.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 20

const table = "pipeline_runs"

// Run summarizes one stored pipeline run.
type Run struct {
	TraceID    string    `json:"trace_id"`
	UserStory  string    `json:"user_story"`
	AnalysisOK bool      `json:"analysis_ok"`
	TestPlanOK bool      `json:"test_plan_ok"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store handles persistence of pipeline states.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string, logger zerolog.Logger, opts ...StoreOption) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db, opts...), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts st or replaces the stored run with the same trace id.
func (s *Store) Save(ctx context.Context, st *pipeline.State) error {
	if st == nil || st.TraceID == "" {
		return fmt.Errorf("save run: trace id is required")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	now := s.now().UnixMilli()
	query := sq.Insert(table).
		Columns("trace_id", "user_story", "state_json", "analysis_ok", "test_plan_ok", "created_at", "updated_at").
		Values(st.TraceID, st.UserStory, string(data), pipeline.IsOk(st.Analysis), pipeline.IsOk(st.TestPlan), now, now).
		Suffix(`ON CONFLICT(trace_id) DO UPDATE SET
			user_story = excluded.user_story,
			state_json = excluded.state_json,
			analysis_ok = excluded.analysis_ok,
			test_plan_ok = excluded.test_plan_ok,
			updated_at = excluded.updated_at`)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("save run %s: %w", st.TraceID, err)
	}
	return nil
}

// Get loads the state stored under traceID.
func (s *Store) Get(ctx context.Context, traceID string) (*pipeline.State, error) {
	queryStr, args, err := sq.Select("state_json").
		From(table).
		Where(sq.Eq{"trace_id": traceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var data string
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, traceID)
		}
		return nil, fmt.Errorf("get run %s: %w", traceID, err)
	}

	var st pipeline.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", traceID, err)
	}
	return &st, nil
}

// List returns the most recently updated runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	queryStr, args, err := sq.Select("trace_id", "user_story", "analysis_ok", "test_plan_ok", "created_at", "updated_at").
		From(table).
		OrderBy("updated_at DESC", "trace_id").
		Limit(uint64(limit)). //nolint:gosec // limit > 0
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                    Run
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&r.TraceID, &r.UserStory, &r.AnalysisOK, &r.TestPlanOK, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		r.UpdatedAt = time.UnixMilli(updatedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
