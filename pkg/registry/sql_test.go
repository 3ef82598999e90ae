package registry

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cloudres/pkg/run"
)

var selectColumns = []string{"run_id", "status", "created_at", "updated_at", "inputs", "launch_info", "result_summary"}

func TestSQL_TransitionRetriesLostCAS(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	reg := NewSQL(db).WithClock(func() time.Time { return now })
	ts := formatTime(now.Add(-time.Hour))

	// First read sees Running, but the CAS loses to another writer.
	mock.ExpectQuery(regexp.QuoteMeta(runSelectQuery)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(selectColumns).AddRow("run-1", "running", ts, ts, `["a"]`, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta(runCASUpdateQuery)).
		WithArgs("completed", formatTime(now), nil, nil, "run-1", "running").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Re-read sees Completed already; the repeat is a no-op.
	mock.ExpectQuery(regexp.QuoteMeta(runSelectQuery)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(selectColumns).AddRow("run-1", "completed", ts, ts, `["a"]`, nil, nil))

	rec, changed, err := reg.Transition(context.Background(), "run-1", run.Update{To: run.StatusCompleted})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, run.StatusCompleted, rec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_TransitionCASConflictExhausted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	reg := NewSQL(db)
	ts := formatTime(time.Now())
	for i := 0; i < maxCASAttempts; i++ {
		mock.ExpectQuery(regexp.QuoteMeta(runSelectQuery)).
			WithArgs("run-1").
			WillReturnRows(sqlmock.NewRows(selectColumns).AddRow("run-1", "running", ts, ts, nil, nil, nil))
		mock.ExpectExec(regexp.QuoteMeta(runCASUpdateQuery)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	_, _, err = reg.Transition(context.Background(), "run-1", run.Update{To: run.StatusTimedOut})
	require.ErrorIs(t, err, errCASConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_GetErrorsSurface(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(runSelectQuery)).
		WithArgs("run-1").
		WillReturnError(errors.New("disk I/O error"))

	_, found, err := NewSQL(db).Get(context.Background(), "run-1")
	require.Error(t, err)
	assert.False(t, found)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestSQL_GetRejectsUnknownStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ts := formatTime(time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(runSelectQuery)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(selectColumns).AddRow("run-1", "paused", ts, ts, nil, nil, nil))

	_, _, err = NewSQL(db).Get(context.Background(), "run-1")
	var ise *run.InvalidStatusError
	require.ErrorAs(t, err, &ise)
}

func TestSQL_CreateDuplicateMapsToErrExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(runInsertQuery)).
		WillReturnError(errors.New("UNIQUE constraint failed: pipeline_runs.run_id"))

	err = NewSQL(db).Create(context.Background(), run.New("run-1", nil, time.Now()))
	require.ErrorIs(t, err, ErrExists)
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     SQLConfig
		want    string
		wantErr bool
	}{
		{name: "empty", cfg: SQLConfig{}, wantErr: true},
		{name: "memory", cfg: SQLConfig{Path: ":memory:"}, want: ":memory:"},
		{name: "plain path", cfg: SQLConfig{Path: filepath.Join(dir, "a", "r.db")}, want: "file:" + filepath.Join(dir, "a", "r.db")},
		{name: "url with token", cfg: SQLConfig{URL: "libsql://db.turso.io", AuthToken: "tok"}, want: "libsql://db.turso.io?authToken=tok"},
		{name: "url keeps token", cfg: SQLConfig{URL: "libsql://db.turso.io?authToken=x", AuthToken: "tok"}, want: "libsql://db.turso.io?authToken=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(ctx, SQLConfig{Path: filepath.Join(t.TempDir(), "r.db")})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	var v int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&v))
	assert.Equal(t, SchemaVersion, v)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: x")))
	assert.False(t, isUniqueViolation(errors.New(strings.Repeat("x", 3))))
}
