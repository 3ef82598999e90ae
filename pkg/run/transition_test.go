package run

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_Table(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusSubmitted, StatusRunning}: true,
		{StatusSubmitted, StatusFailed}:  true,
		{StatusRunning, StatusCompleted}: true,
		{StatusRunning, StatusTimedOut}:  true,
		{StatusRunning, StatusFailed}:    true,
	}

	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			name := string(from) + "->" + string(to)
			t.Run(name, func(t *testing.T) {
				changed, err := Transition("r1", from, to)
				switch {
				case from == to:
					require.NoError(t, err)
					assert.False(t, changed)
				case allowed[[2]Status{from, to}]:
					require.NoError(t, err)
					assert.True(t, changed)
				default:
					require.Error(t, err)
					assert.False(t, changed)
					var te *TransitionError
					require.True(t, errors.As(err, &te))
					if from.Terminal() {
						assert.ErrorIs(t, err, ErrTerminalState)
					} else {
						assert.ErrorIs(t, err, ErrInvalidTransition)
					}
				}
			})
		}
	}
}

func TestTransition_NoSequenceLeavesTerminal(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusTimedOut} {
		rec := &Record{RunID: "r", Status: terminal}
		for _, to := range AllStatuses() {
			_, _ = Update{To: to}.ApplyTo(rec, time.Now())
			assert.Equal(t, terminal, rec.Status)
		}
	}
}

func TestTransition_InvalidStatus(t *testing.T) {
	_, err := Transition("r", Status("bogus"), StatusRunning)
	var ise *InvalidStatusError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "bogus", ise.Value)

	_, err = ParseStatus("paused")
	require.Error(t, err)

	st, err := ParseStatus("timed_out")
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, st)
}

func TestUpdate_ApplyTo(t *testing.T) {
	created := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := New("run-1", []string{"s3://in/run-1/a_R1.fastq.gz"}, created)
	require.Equal(t, StatusSubmitted, rec.Status)

	later := created.Add(time.Minute)
	changed, err := Update{
		To:         StatusRunning,
		LaunchInfo: &LaunchInfo{Provider: "ec2", ID: "i-123"},
	}.ApplyTo(rec, later)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, later, rec.UpdatedAt)
	assert.Equal(t, created, rec.CreatedAt)
	require.NotNil(t, rec.LaunchInfo)
	assert.Equal(t, "i-123", rec.LaunchInfo.ID)

	changed, err = Update{To: StatusCompleted}.ApplyTo(rec, later.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	// Identical repeat is a no-op and does not bump UpdatedAt.
	stamp := rec.UpdatedAt
	changed, err = Update{To: StatusCompleted}.ApplyTo(rec, later.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, stamp, rec.UpdatedAt)

	_, err = Update{To: StatusTimedOut}.ApplyTo(rec, later.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := New("run-1", []string{"a"}, time.Now())
	rec.LaunchInfo = &LaunchInfo{Provider: "batch", ID: "job", Metadata: map[string]string{"arn": "x"}}
	rec.Summary = &Summary{Detail: "d"}

	c := rec.Clone()
	c.Inputs[0] = "b"
	c.LaunchInfo.Metadata["arn"] = "y"
	c.Summary.Detail = "changed"

	assert.Equal(t, "a", rec.Inputs[0])
	assert.Equal(t, "x", rec.LaunchInfo.Metadata["arn"])
	assert.Equal(t, "d", rec.Summary.Detail)
}

func TestMarshalSummaryRoundTrip(t *testing.T) {
	rec := New("run-1", []string{"a", "b"}, time.Now())
	rec.LaunchInfo = &LaunchInfo{Provider: "ec2", ID: "i-1"}
	rec.Summary = &Summary{Error: "boom"}

	launch, summary, inputs, err := MarshalSummary(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, UnmarshalSummary(&got, launch, summary, inputs))
	assert.Equal(t, rec.Inputs, got.Inputs)
	assert.Equal(t, "i-1", got.LaunchInfo.ID)
	assert.Equal(t, "boom", got.Summary.Error)
}
