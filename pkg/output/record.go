// Package output provides JSONL output for run records and lifecycle events.
//
// Output is structured as typed record envelopes. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: cloudres.<type>.v<version>
const (
	// TypeRun identifies run snapshot records.
	TypeRun = "cloudres.run.v1"

	// TypeTransition identifies applied state transitions.
	TypeTransition = "cloudres.transition.v1"

	// TypeError identifies error records.
	TypeError = "cloudres.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "cloudres.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "cloudres.run.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the run the record refers to, empty for summaries.
	RunID string `json:"run_id,omitempty"`

	// Source identifies the emitting component (e.g., "serve", "runs-list").
	Source string `json:"source"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// RunRecord is a snapshot of a registry entry.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Inputs are the staged input locations.
	Inputs []string `json:"inputs,omitempty"`

	// LaunchProvider and LaunchID identify the external worker.
	LaunchProvider string `json:"launch_provider,omitempty"`
	LaunchID       string `json:"launch_id,omitempty"`

	// Error carries failure detail for failed runs.
	Error string `json:"error,omitempty"`

	// Detail carries timeout or observation detail.
	Detail string `json:"detail,omitempty"`
}

// TransitionRecord is the payload for an applied state change.
type TransitionRecord struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
	ObservedBy string    `json:"observed_by,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Error      string    `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound = "NOT_FOUND"
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is emitted after a listing.
type SummaryRecord struct {
	// Runs is the number of run records written.
	Runs int `json:"runs"`

	// ByStatus counts runs per status.
	ByStatus map[string]int `json:"by_status"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
