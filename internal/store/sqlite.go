package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/metrics"
	"github.com/nvandessel/transitsim/internal/models"
)

// ErrRunNotFound is returned when no run matches an id or id prefix.
var ErrRunNotFound = errors.New("run not found")

// ErrAmbiguousRun is returned when an id prefix matches more than one run.
var ErrAmbiguousRun = errors.New("ambiguous run id prefix")

// createdAtLayout is fixed width so created_at sorts lexically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is the persisted record of one completed simulation.
type Run struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	Regime    models.Regime   `json:"regime"`
	Seed      uint64          `json:"seed"`
	Ticks     int             `json:"ticks"`
	ConfigSHA string          `json:"config_sha"`
	Summary   metrics.Summary `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// SQLiteRunStore keeps run history and gate events in a SQLite database.
type SQLiteRunStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewSQLiteRunStore opens (creating if needed) the run database inside dir.
func NewSQLiteRunStore(dir string) (*SQLiteRunStore, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}
	dbPath := DatabasePath(dir)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRunStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run record or updates the existing one in place. The
// row is never deleted, so its stored gate events survive a re-save.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
			(id, label, regime, seed, ticks, config_sha, summary, transition_rate, transitions, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			regime = excluded.regime,
			seed = excluded.seed,
			ticks = excluded.ticks,
			config_sha = excluded.config_sha,
			summary = excluded.summary,
			transition_rate = excluded.transition_rate,
			transitions = excluded.transitions,
			attempts = excluded.attempts`,
		run.ID, run.Label, string(run.Regime), int64(run.Seed), run.Ticks, run.ConfigSHA,
		string(summary), run.Summary.TransitionRate, run.Summary.Transitions, run.Summary.Attempts,
		run.CreatedAt.UTC().Format(createdAtLayout))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, label, regime, seed, ticks, config_sha, summary, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		label     sql.NullString
		regime    string
		seed      int64
		summary   string
		createdAt string
	)
	if err := row.Scan(&run.ID, &label, &regime, &seed, &run.Ticks, &run.ConfigSHA, &summary, &createdAt); err != nil {
		return Run{}, err
	}
	run.Label = label.String
	run.Regime = models.Regime(regime)
	run.Seed = uint64(seed)
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return Run{}, fmt.Errorf("failed to decode summary for run %s: %w", run.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("failed to parse created_at for run %s: %w", run.ID, err)
	}
	run.CreatedAt = t
	return run, nil
}

// GetRun returns the run with the given id, or the single run whose id
// starts with it.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (Run, error) {
	if id == "" {
		return Run{}, ErrRunNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE substr(id, 1, length(?)) = ? LIMIT 2`, id, id)
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	defer rows.Close()

	var matches []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	switch len(matches) {
	case 0:
		return Run{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	case 1:
		return matches[0], nil
	default:
		return Run{}, fmt.Errorf("%s: %w", id, ErrAmbiguousRun)
	}
}

// ListRuns returns runs newest first. A limit <= 0 returns every run.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run and its events.
func (s *SQLiteRunStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}

// EventFilter narrows an event query. Empty fields match everything.
type EventFilter struct {
	Gate     models.Gate
	Outcome  string
	EntityID string
	Limit    int
}

// Events returns stored gate events for a run in recording order.
func (s *SQLiteRunStore) Events(ctx context.Context, runID string, f EventFilter) ([]gate.Event, error) {
	query := `SELECT tick, entity_id, gate, stage, outcome, probability, draw, factors
		FROM gate_events WHERE run_id = ?`
	args := []any{runID}
	if f.Gate != "" {
		query += ` AND gate = ?`
		args = append(args, string(f.Gate))
	}
	if f.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, f.Outcome)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []gate.Event
	for rows.Next() {
		var (
			ev      gate.Event
			g       string
			factors sql.NullString
		)
		if err := rows.Scan(&ev.Tick, &ev.EntityID, &g, &ev.Stage, &ev.Outcome, &ev.Probability, &ev.Draw, &factors); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Gate = models.Gate(g)
		if factors.Valid && factors.String != "" {
			if err := json.Unmarshal([]byte(factors.String), &ev.Factors); err != nil {
				return nil, fmt.Errorf("failed to decode factors: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// GateCounts returns pass and fail counts per gate for a run. Legal
// reviews count as passed when cleared.
func (s *SQLiteRunStore) GateCounts(ctx context.Context, runID string) (map[string]metrics.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT gate,
			SUM(CASE WHEN outcome IN ('pass', 'favorable', 'favorable_with_caveats') THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome IN ('pass', 'favorable', 'favorable_with_caveats') THEN 0 ELSE 1 END)
		FROM gate_events WHERE run_id = ? GROUP BY gate`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	out := make(map[string]metrics.Tally)
	for rows.Next() {
		var g string
		var t metrics.Tally
		if err := rows.Scan(&g, &t.Pass, &t.Fail); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		out[g] = t
	}
	return out, rows.Err()
}
