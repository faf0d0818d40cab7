// Package export writes gate events to Apache Arrow IPC files so a run can be
// loaded into dataframe tools without parsing JSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/transitsim/internal/constants"
	"github.com/nvandessel/transitsim/internal/gate"
	"github.com/nvandessel/transitsim/internal/models"
)

// Column indexes in EventSchema.
const (
	colRunID = iota
	colTick
	colEntity
	colGate
	colStage
	colOutcome
	colProbability
	colDraw
	colFactors
)

// EventSchema is the Arrow layout of one gate event. factors holds the JSON
// encoded factor list and is null when factors were not captured.
var EventSchema = arrow.NewSchema([]arrow.Field{
	{Name: "run_id", Type: arrow.BinaryTypes.String},
	{Name: "tick", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entity_id", Type: arrow.BinaryTypes.String},
	{Name: "gate", Type: arrow.BinaryTypes.String},
	{Name: "stage", Type: arrow.BinaryTypes.String},
	{Name: "outcome", Type: arrow.BinaryTypes.String},
	{Name: "probability", Type: arrow.PrimitiveTypes.Float64},
	{Name: "draw", Type: arrow.PrimitiveTypes.Float64},
	{Name: "factors", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// ArrowWriter streams gate events into an Arrow IPC file, one record batch
// per batch events. It implements gate.EventSink. Errors are kept and
// returned by Close.
type ArrowWriter struct {
	mu      sync.Mutex
	mem     memory.Allocator
	builder *array.RecordBuilder
	writer  *ipc.FileWriter
	file    *os.File
	runID   string
	batch   int
	pending int
	rows    int
	err     error
}

// Create opens path for writing, creating parent directories. batch <= 0
// uses the default batch size.
func Create(path, runID string, batch int) (*ArrowWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file: %w", err)
	}
	w, err := NewArrowWriter(f, runID, batch)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewArrowWriter writes to out. The IPC file format seeks back to patch its
// footer, so out must be seekable. The caller owns out unless the writer
// was made by Create.
func NewArrowWriter(out io.WriteSeeker, runID string, batch int) (*ArrowWriter, error) {
	if batch <= 0 {
		batch = constants.ArrowBatchSize
	}
	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(out, ipc.WithSchema(EventSchema), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("creating arrow writer: %w", err)
	}
	return &ArrowWriter{
		mem:     mem,
		builder: array.NewRecordBuilder(mem, EventSchema),
		writer:  fw,
		runID:   runID,
		batch:   batch,
	}, nil
}

// Record implements gate.EventSink.
func (w *ArrowWriter) Record(ev gate.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.builder == nil {
		return
	}

	b := w.builder
	b.Field(colRunID).(*array.StringBuilder).Append(w.runID)
	b.Field(colTick).(*array.Int64Builder).Append(int64(ev.Tick))
	b.Field(colEntity).(*array.StringBuilder).Append(ev.EntityID)
	b.Field(colGate).(*array.StringBuilder).Append(string(ev.Gate))
	b.Field(colStage).(*array.StringBuilder).Append(ev.Stage)
	b.Field(colOutcome).(*array.StringBuilder).Append(ev.Outcome)
	b.Field(colProbability).(*array.Float64Builder).Append(ev.Probability)
	b.Field(colDraw).(*array.Float64Builder).Append(ev.Draw)
	factors := b.Field(colFactors).(*array.StringBuilder)
	if len(ev.Factors) == 0 {
		factors.AppendNull()
	} else if data, err := json.Marshal(ev.Factors); err != nil {
		factors.AppendNull()
	} else {
		factors.Append(string(data))
	}

	w.pending++
	if w.pending >= w.batch {
		w.err = w.flushLocked()
	}
}

func (w *ArrowWriter) flushLocked() error {
	if w.pending == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	if err := w.writer.Write(rec); err != nil {
		return fmt.Errorf("writing arrow record batch: %w", err)
	}
	w.rows += w.pending
	w.pending = 0
	return nil
}

// Rows returns the number of events written to completed batches.
func (w *ArrowWriter) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes the last batch, writes the file footer and closes the file
// if the writer owns it. It returns the first error seen.
func (w *ArrowWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.builder == nil {
		return w.err
	}

	if w.err == nil {
		w.err = w.flushLocked()
	}
	if err := w.writer.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("closing arrow writer: %w", err)
	}
	w.builder.Release()
	w.builder = nil
	if w.file != nil {
		if err := w.file.Close(); err != nil && w.err == nil {
			w.err = fmt.Errorf("closing arrow file: %w", err)
		}
		w.file = nil
	}
	return w.err
}

// ReadEvents loads every event from an Arrow IPC file written by
// ArrowWriter.
func ReadEvents(path string) ([]gate.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %w", err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("reading arrow file %s: %w", path, err)
	}
	defer r.Close()

	if !r.Schema().Equal(EventSchema) {
		return nil, fmt.Errorf("reading arrow file %s: unexpected schema %s", path, r.Schema())
	}

	var events []gate.Event
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading record batch %d: %w", i, err)
		}
		batch, err := decodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("decoding record batch %d: %w", i, err)
		}
		events = append(events, batch...)
	}
	return events, nil
}

func decodeRecord(rec arrow.Record) ([]gate.Event, error) {
	ticks := rec.Column(colTick).(*array.Int64)
	entities := rec.Column(colEntity).(*array.String)
	gates := rec.Column(colGate).(*array.String)
	stages := rec.Column(colStage).(*array.String)
	outcomes := rec.Column(colOutcome).(*array.String)
	probs := rec.Column(colProbability).(*array.Float64)
	draws := rec.Column(colDraw).(*array.Float64)
	factors := rec.Column(colFactors).(*array.String)

	out := make([]gate.Event, 0, rec.NumRows())
	for j := 0; j < int(rec.NumRows()); j++ {
		ev := gate.Event{
			Tick:        int(ticks.Value(j)),
			EntityID:    entities.Value(j),
			Gate:        models.Gate(gates.Value(j)),
			Stage:       stages.Value(j),
			Outcome:     outcomes.Value(j),
			Probability: probs.Value(j),
			Draw:        draws.Value(j),
		}
		if factors.IsValid(j) {
			if err := json.Unmarshal([]byte(factors.Value(j)), &ev.Factors); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
