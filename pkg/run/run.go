// Package run defines the run record and the lifecycle state machine shared by
// the registry backends and the orchestrator.
package run

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a run.
//
// NOTE: These values are persisted by every registry backend and are part of
// the stable on-disk/in-database contract.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined states.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition is defined out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ParseStatus converts a persisted status string back into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", &InvalidStatusError{Value: s}
	}
	return st, nil
}

// LaunchInfo is the opaque handle returned by a compute launcher.
type LaunchInfo struct {
	// Provider identifies the launcher backend (e.g., "ec2", "batch").
	Provider string `json:"provider"`

	// ID is the worker identifier (instance id, job id).
	ID string `json:"id"`

	// LaunchedAt is when the launcher accepted the request.
	LaunchedAt time.Time `json:"launched_at"`

	// Metadata carries backend-specific details (job ARN, region, ...).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Summary is the structured result payload attached to a run.
type Summary struct {
	// Error carries failure detail for Failed runs.
	Error string `json:"error,omitempty"`

	// Detail is a free-form explanation (e.g., timeout budget).
	Detail string `json:"detail,omitempty"`

	// Attempts is the number of completion checks performed, when known.
	Attempts int `json:"attempts,omitempty"`

	// ObservedBy names the component that recorded the transition.
	ObservedBy string `json:"observed_by,omitempty"`
}

// Record is the registry entry for a single run.
type Record struct {
	RunID      string      `json:"run_id"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Inputs     []string    `json:"inputs,omitempty"`
	LaunchInfo *LaunchInfo `json:"launch_info,omitempty"`
	Summary    *Summary    `json:"result_summary,omitempty"`
}

// New returns a record in the initial Submitted state.
func New(runID string, inputs []string, now time.Time) *Record {
	now = now.UTC()
	return &Record{
		RunID:     runID,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		Inputs:    append([]string(nil), inputs...),
	}
}

// Clone returns a deep copy so callers never share mutable state with a
// registry backend.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Inputs = append([]string(nil), r.Inputs...)
	if r.LaunchInfo != nil {
		li := *r.LaunchInfo
		if r.LaunchInfo.Metadata != nil {
			li.Metadata = make(map[string]string, len(r.LaunchInfo.Metadata))
			for k, v := range r.LaunchInfo.Metadata {
				li.Metadata[k] = v
			}
		}
		out.LaunchInfo = &li
	}
	if r.Summary != nil {
		s := *r.Summary
		out.Summary = &s
	}
	return &out
}

// Update describes a requested state change.
type Update struct {
	To         Status
	LaunchInfo *LaunchInfo
	Summary    *Summary
}

// ApplyTo validates the update against the record's current status and, when
// it changes state, mutates rec in place. It returns changed=false for an
// idempotent repeat of the current state.
func (u Update) ApplyTo(rec *Record, now time.Time) (changed bool, err error) {
	changed, err = Transition(rec.RunID, rec.Status, u.To)
	if err != nil || !changed {
		return changed, err
	}
	rec.Status = u.To
	rec.UpdatedAt = now.UTC()
	if u.LaunchInfo != nil {
		li := *u.LaunchInfo
		rec.LaunchInfo = &li
	}
	if u.Summary != nil {
		s := *u.Summary
		rec.Summary = &s
	}
	return true, nil
}

// MarshalSummary encodes optional JSON columns for SQL backends.
func MarshalSummary(rec *Record) (launch []byte, summary []byte, inputs []byte, err error) {
	if rec.LaunchInfo != nil {
		if launch, err = json.Marshal(rec.LaunchInfo); err != nil {
			return nil, nil, nil, err
		}
	}
	if rec.Summary != nil {
		if summary, err = json.Marshal(rec.Summary); err != nil {
			return nil, nil, nil, err
		}
	}
	if inputs, err = json.Marshal(rec.Inputs); err != nil {
		return nil, nil, nil, err
	}
	return launch, summary, inputs, nil
}

// UnmarshalSummary is the inverse of MarshalSummary. Empty columns are left nil.
func UnmarshalSummary(rec *Record, launch, summary, inputs []byte) error {
	if len(launch) > 0 {
		var li LaunchInfo
		if err := json.Unmarshal(launch, &li); err != nil {
			return err
		}
		rec.LaunchInfo = &li
	}
	if len(summary) > 0 {
		var s Summary
		if err := json.Unmarshal(summary, &s); err != nil {
			return err
		}
		rec.Summary = &s
	}
	if len(inputs) > 0 {
		if err := json.Unmarshal(inputs, &rec.Inputs); err != nil {
			return err
		}
	}
	return nil
}

// Event describes one applied transition.
type Event struct {
	RunID   string    `json:"run_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	At      time.Time `json:"at"`
	Summary *Summary  `json:"result_summary,omitempty"`
}
