package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/3leaps/cloudres/pkg/run"
)

// Writer outputs JSONL records.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteRun emits a run snapshot.
	WriteRun(ctx context.Context, rec *run.Record) error

	// WriteTransition emits an applied transition.
	WriteTransition(ctx context.Context, ev run.Event) error

	// WriteError emits an error record for runID.
	WriteError(ctx context.Context, runID string, err *ErrorRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w      io.Writer
	source string
	mu     sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer. source names the emitting
// component and is copied into every envelope.
func NewJSONLWriter(w io.Writer, source string) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		source: source,
	}
}

// NewRunRecord converts a registry entry to its output payload.
func NewRunRecord(rec *run.Record) *RunRecord {
	out := &RunRecord{
		RunID:     rec.RunID,
		Status:    rec.Status.String(),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Inputs:    rec.Inputs,
	}
	if rec.LaunchInfo != nil {
		out.LaunchProvider = rec.LaunchInfo.Provider
		out.LaunchID = rec.LaunchInfo.ID
	}
	if rec.Summary != nil {
		out.Error = rec.Summary.Error
		out.Detail = rec.Summary.Detail
	}
	return out
}

// WriteRun emits a run snapshot.
func (jw *JSONLWriter) WriteRun(ctx context.Context, rec *run.Record) error {
	return jw.writeRecord(ctx, TypeRun, rec.RunID, NewRunRecord(rec))
}

// WriteTransition emits an applied transition.
func (jw *JSONLWriter) WriteTransition(ctx context.Context, ev run.Event) error {
	tr := &TransitionRecord{
		From: ev.From.String(),
		To:   ev.To.String(),
		At:   ev.At,
	}
	if ev.Summary != nil {
		tr.ObservedBy = ev.Summary.ObservedBy
		tr.Attempts = ev.Summary.Attempts
		tr.Error = ev.Summary.Error
		tr.Detail = ev.Summary.Detail
	}
	return jw.writeRecord(ctx, TypeTransition, ev.RunID, tr)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, runID string, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, runID, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, "", sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire operation to ensure
// atomic line writes.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType, runID string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:   recordType,
		TS:     time.Now().UTC(),
		RunID:  runID,
		Source: jw.source,
		Data:   dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error, which would silently
	// truncate JSONL lines.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
