package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/3leaps/cloudres/pkg/run"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	inputs JSONB,
	launch_info JSONB,
	result_summary JSONB
);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_created_at ON pipeline_runs(created_at);
`

const pgSelectColumns = `run_id, status, created_at, updated_at, inputs, launch_info, result_summary`

// Postgres is a Registry backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	now  Clock
}

var _ Registry = (*Postgres)(nil)

// ConnectPostgres establishes a pool, verifies it, and ensures the schema.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

// WithClock overrides the timestamp source for transitions.
func (p *Postgres) WithClock(c Clock) *Postgres {
	p.now = c
	return p
}

func (p *Postgres) Create(ctx context.Context, rec *run.Record) error {
	if err := validateID(rec.RunID); err != nil {
		return err
	}
	launch, summary, inputs, err := run.MarshalSummary(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (run_id, status, created_at, updated_at, inputs, launch_info, result_summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RunID, string(rec.Status), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
		nullableJSON(inputs), nullableJSON(launch), nullableJSON(summary),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create %s: %w", rec.RunID, ErrExists)
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, runID string) (*run.Record, bool, error) {
	rec, err := scanPG(p.pool.QueryRow(ctx,
		`SELECT `+pgSelectColumns+` FROM pipeline_runs WHERE run_id = $1`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return rec, true, nil
}

// Transition locks the row for the duration of the check and update.
func (p *Postgres) Transition(ctx context.Context, runID string, u run.Update) (*run.Record, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanPG(tx.QueryRow(ctx,
		`SELECT `+pgSelectColumns+` FROM pipeline_runs WHERE run_id = $1 FOR UPDATE`, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("transition %s: %w", runID, ErrNotFound)
		}
		return nil, false, fmt.Errorf("failed to lock run %s: %w", runID, err)
	}

	changed, err := u.ApplyTo(rec, p.now())
	if err != nil || !changed {
		return rec, false, err
	}

	launch, summary, _, err := run.MarshalSummary(rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal run: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE pipeline_runs SET status = $2, updated_at = $3, launch_info = $4, result_summary = $5 WHERE run_id = $1`,
		runID, string(rec.Status), rec.UpdatedAt, nullableJSON(launch), nullableJSON(summary),
	); err != nil {
		return nil, false, fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit run %s: %w", runID, err)
	}
	return rec, true, nil
}

func (p *Postgres) List(ctx context.Context, opts ListOptions) ([]*run.Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+pgSelectColumns+` FROM pipeline_runs ORDER BY created_at DESC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*run.Record
	for rows.Next() {
		rec, err := scanPG(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
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
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func scanPG(row pgx.Row) (*run.Record, error) {
	var (
		rec                     run.Record
		status                  string
		inputs, launch, summary []byte
	)
	if err := row.Scan(&rec.RunID, &status, &rec.CreatedAt, &rec.UpdatedAt, &inputs, &launch, &summary); err != nil {
		return nil, err
	}
	st, err := run.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if err := run.UnmarshalSummary(&rec, launch, summary, inputs); err != nil {
		return nil, err
	}
	return &rec, nil
}
