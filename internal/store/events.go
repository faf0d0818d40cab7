package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/gate"
)

// EventWriter buffers gate events for one run and writes them to the
// gate_events table in batches. It implements gate.EventSink. The run row
// must exist before the first flush; callers save a placeholder run first.
type EventWriter struct {
	mu      sync.Mutex
	store   *SQLiteRunStore
	runID   string
	batch   int
	buf     []gate.Event
	seq     int
	written int
	err     error
}

// NewEventWriter creates a writer for runID. batch <= 0 uses the default
// batch size.
func (s *SQLiteRunStore) NewEventWriter(runID string, batch int) *EventWriter {
	if batch <= 0 {
		batch = constants.StoreBatchSize
	}
	return &EventWriter{store: s, runID: runID, batch: batch}
}

// Record implements gate.EventSink. A failed flush is kept and returned by
// Flush; later events are dropped.
func (w *EventWriter) Record(ev gate.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, ev)
	if len(w.buf) >= w.batch {
		w.err = w.flushLocked(context.Background())
	}
}

// Flush writes buffered events and returns the first error seen.
func (w *EventWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.err = w.flushLocked(ctx)
	return w.err
}

// Written returns the number of events committed so far.
func (w *EventWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *EventWriter) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gate_events
			(run_id, seq, tick, entity_id, gate, stage, outcome, probability, draw, factors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	seq := w.seq
	for _, ev := range w.buf {
		var factors any
		if len(ev.Factors) > 0 {
			data, err := json.Marshal(ev.Factors)
			if err != nil {
				return fmt.Errorf("failed to encode factors: %w", err)
			}
			factors = string(data)
		}
		if _, err := stmt.ExecContext(ctx, w.runID, seq, ev.Tick, ev.EntityID, string(ev.Gate),
			ev.Stage, ev.Outcome, ev.Probability, ev.Draw, factors); err != nil {
			return fmt.Errorf("failed to insert event %d for run %s: %w", seq, w.runID, err)
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	w.seq = seq
	w.written += len(w.buf)
	w.buf = w.buf[:0]
	return nil
}
