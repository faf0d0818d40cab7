// Package logging provides leveled logging and gate event tracing for
// transitsim. It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An EventLog writing one JSON line per gate evaluation (.transitsim/gate_events.jsonl)
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nvandessel/transitsim/internal/gate"
)

// LevelTrace is a custom slog level below Debug. At this level every gate
// factor is included in event lines.
const LevelTrace = slog.LevelDebug - 4

// EventLogFile is the file name the event log appends to.
const EventLogFile = "gate_events.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "warn", "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// EventLog writes gate events to a JSONL file. It implements gate.EventSink
// and is safe for concurrent use. A nil EventLog is safe to use; all methods
// are no-ops on nil receiver.
//
// Lines carry simulation ticks only, never wall-clock time, so two runs with
// the same seed produce identical files.
type EventLog struct {
	mu      sync.Mutex
	w       io.Writer
	file    *os.File
	factors bool
	runID   string
	err     error
}

// NewEventLog creates an event log writing to dir/gate_events.jsonl.
// At "info" level (the default), returns nil and no file is created.
// At "debug" the log records outcomes; at "trace" it also records factors.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewEventLog(dir, level, runID string) *EventLog {
	lvl := ParseLevel(level)
	if lvl > slog.LevelDebug {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, EventLogFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &EventLog{w: f, file: f, factors: lvl <= LevelTrace, runID: runID}
}

// NewEventLogWriter creates an event log writing to w. includeFactors
// controls whether the per-factor breakdown is written.
func NewEventLogWriter(w io.Writer, runID string, includeFactors bool) *EventLog {
	return &EventLog{w: w, factors: includeFactors, runID: runID}
}

type eventLine struct {
	RunID string `json:"run_id,omitempty"`
	gate.Event
}

// Record writes the event as a single JSONL line. Write failures are kept
// and reported by Err and Close. Safe to call on nil receiver.
func (l *EventLog) Record(ev gate.Event) {
	if l == nil || l.w == nil {
		return
	}
	if !l.factors {
		ev.Factors = nil
	}

	data, err := json.Marshal(eventLine{RunID: l.runID, Event: ev})
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return
	}
	if _, err := l.w.Write(data); err != nil {
		l.err = fmt.Errorf("writing gate event: %w", err)
	}
}

// Err returns the first write error, if any.
func (l *EventLog) Err() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close closes the underlying file, if the log owns one, and returns the
// first write error. Safe to call on nil receiver.
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.err
	if l.file != nil {
		if cerr := l.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing event log: %w", cerr)
		}
		l.file = nil
	}
	l.w = nil
	return err
}
