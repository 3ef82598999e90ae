package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/cloudres/pkg/run"
)

// Query constants
const (
	runInsertQuery = `
		INSERT INTO pipeline_runs (run_id, status, created_at, updated_at, inputs, launch_info, result_summary)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	runSelectQuery = `
		SELECT run_id, status, created_at, updated_at, inputs, launch_info, result_summary
		FROM pipeline_runs WHERE run_id = ?`

	runListQuery = `
		SELECT run_id, status, created_at, updated_at, inputs, launch_info, result_summary
		FROM pipeline_runs ORDER BY created_at DESC, run_id ASC`

	// runCASUpdateQuery only applies when the row still has the status the
	// transition was validated against.
	runCASUpdateQuery = `
		UPDATE pipeline_runs
		SET status = ?, updated_at = ?, launch_info = ?, result_summary = ?
		WHERE run_id = ? AND status = ?`
)

// maxCASAttempts bounds retries when another writer changes a row between
// read and compare-and-set.
const maxCASAttempts = 5

// errCASConflict is returned when every compare-and-set attempt lost a race.
var errCASConflict = errors.New("concurrent update conflict")

// SQL is a Registry over a SQLite/libsql database/sql handle.
type SQL struct {
	db  *sql.DB
	now Clock
}

var _ Registry = (*SQL)(nil)

// NewSQL wraps an open, migrated database.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, now: time.Now}
}

// OpenSQL opens the database, applies migrations, and returns the registry.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQL, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQL(db), nil
}

// WithClock overrides the timestamp source for transitions.
func (s *SQL) WithClock(c Clock) *SQL {
	s.now = c
	return s
}

// DB returns the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Create(ctx context.Context, rec *run.Record) error {
	if err := validateID(rec.RunID); err != nil {
		return err
	}
	launch, summary, inputs, err := run.MarshalSummary(rec)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, runInsertQuery,
		rec.RunID,
		string(rec.Status),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		nullableJSON(inputs),
		nullableJSON(launch),
		nullableJSON(summary),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %s: %w", rec.RunID, ErrExists)
		}
		return fmt.Errorf("insert run %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, runID string) (*run.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, runSelectQuery, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, true, nil
}

func (s *SQL) Transition(ctx context.Context, runID string, u run.Update) (*run.Record, bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, found, err := s.Get(ctx, runID)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("transition %s: %w", runID, ErrNotFound)
		}

		from := rec.Status
		changed, err := u.ApplyTo(rec, s.now())
		if err != nil || !changed {
			return rec, false, err
		}

		launch, summary, _, err := run.MarshalSummary(rec)
		if err != nil {
			return nil, false, fmt.Errorf("marshal run %s: %w", runID, err)
		}
		res, err := s.db.ExecContext(ctx, runCASUpdateQuery,
			string(rec.Status),
			formatTime(rec.UpdatedAt),
			nullableJSON(launch),
			nullableJSON(summary),
			runID,
			string(from),
		)
		if err != nil {
			return nil, false, fmt.Errorf("update run %s: %w", runID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("update run %s: %w", runID, err)
		}
		if n == 1 {
			return rec, true, nil
		}
		// Lost the race; re-read and validate against the new status.
	}
	return nil, false, fmt.Errorf("transition %s: %w", runID, errCASConflict)
}

func (s *SQL) List(ctx context.Context, opts ListOptions) ([]*run.Record, error) {
	rows, err := s.db.QueryContext(ctx, runListQuery)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*run.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if !opts.keep(rec.Status) {
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*run.Record, error) {
	var (
		rec                     run.Record
		status                  string
		created, updated        string
		inputs, launch, summary sql.NullString
	)
	if err := row.Scan(&rec.RunID, &status, &created, &updated, &inputs, &launch, &summary); err != nil {
		return nil, err
	}

	st, err := run.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("updated_at: %w", err)
	}
	if err := run.UnmarshalSummary(&rec, []byte(launch.String), []byte(summary.String), []byte(inputs.String)); err != nil {
		return nil, err
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
