package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

const runColumns = `r.id, r.owner_id, r.status, r.flags, r.total_jobs, r.jobs_ready, r.jobs_skipped,
	r.jobs_expired, r.jobs_failed,
	COALESCE((SELECT jsonb_object_agg(f.source, f.failures) FROM run_source_failures f WHERE f.run_id = r.id), '{}'::jsonb),
	r.source_errors, COALESCE(r.error_message, ''), r.created_at, r.started_at, r.finished_at`

var terminalStatuses = []string{
	string(ingest.RunStatusFinished),
	string(ingest.RunStatusError),
	string(ingest.RunStatusAborted),
}

// CreateRun implements ingest.RunStore.
func (s *Store) CreateRun(ctx context.Context, run ingest.Run) error {
	flags, err := json.Marshal(run.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO ingestion_runs (id, owner_id, status, flags, created_at)
VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.OwnerID, string(run.Status), flags, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun implements ingest.RunStore.
func (s *Store) GetRun(ctx context.Context, runID string) (ingest.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ingestion_runs r WHERE r.id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		return ingest.Run{}, fmt.Errorf("get run %s: %w", runID, notFound(err, "run"))
	}
	return run, nil
}

func scanRun(row pgx.Row) (ingest.Run, error) {
	var (
		run                     ingest.Run
		status                  string
		flags, failures, srcErrs []byte
	)
	err := row.Scan(
		&run.ID,
		&run.OwnerID,
		&status,
		&flags,
		&run.TotalJobs,
		&run.JobsReady,
		&run.JobsSkipped,
		&run.JobsExpired,
		&run.JobsFailed,
		&failures,
		&srcErrs,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return ingest.Run{}, err
	}
	run.Status = ingest.RunStatus(status)
	if err := unmarshalOptional(flags, &run.Flags); err != nil {
		return ingest.Run{}, fmt.Errorf("decode flags: %w", err)
	}
	if err := unmarshalOptional(failures, &run.SourceFailures); err != nil {
		return ingest.Run{}, fmt.Errorf("decode source failures: %w", err)
	}
	if err := unmarshalOptional(srcErrs, &run.SourceErrors); err != nil {
		return ingest.Run{}, fmt.Errorf("decode source errors: %w", err)
	}
	if len(run.SourceFailures) == 0 {
		run.SourceFailures = nil
	}
	if len(run.SourceErrors) == 0 {
		run.SourceErrors = nil
	}
	return run, nil
}

func unmarshalOptional(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// StartRun implements ingest.RunStore.
func (s *Store) StartRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	ok, err := updated(s.pool.Exec(ctx, `
UPDATE ingestion_runs SET status = $2, started_at = COALESCE(started_at, $3)
WHERE id = $1 AND status = ANY($4)`,
		runID,
		string(ingest.RunStatusInitializing),
		at,
		[]string{string(ingest.RunStatusPending), string(ingest.RunStatusInitializing)},
	))
	if err != nil {
		return false, fmt.Errorf("start run: %w", err)
	}
	return ok, nil
}

// RecordDiscovery implements ingest.RunStore.
func (s *Store) RecordDiscovery(ctx context.Context, runID string, d ingest.Discovery) error {
	sourceErrors := d.SourceErrors
	if sourceErrors == nil {
		sourceErrors = map[ingest.Source]string{}
	}
	payload, err := json.Marshal(sourceErrors)
	if err != nil {
		return fmt.Errorf("marshal source errors: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE ingestion_runs SET total_jobs = $2, jobs_expired = $3, source_errors = $4
WHERE id = $1`,
		runID, d.Total, d.Expired, payload,
	)
	if err != nil {
		return fmt.Errorf("record discovery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record discovery for run %s: %w", runID, ingest.ErrNotFound)
	}
	return nil
}

// BeginIngesting implements ingest.RunStore.
func (s *Store) BeginIngesting(ctx context.Context, runID string) (bool, error) {
	ok, err := updated(s.pool.Exec(ctx, `
UPDATE ingestion_runs SET status = $2
WHERE id = $1 AND status = $3`,
		runID, string(ingest.RunStatusIngesting), string(ingest.RunStatusInitializing),
	))
	if err != nil {
		return false, fmt.Errorf("begin ingesting: %w", err)
	}
	return ok, nil
}

// FinishRun implements ingest.RunStore. Only an ingesting run can finish, so
// exactly one concurrent caller wins.
func (s *Store) FinishRun(ctx context.Context, runID string, counts ingest.Counts, at time.Time) (bool, error) {
	ok, err := updated(s.pool.Exec(ctx, `
UPDATE ingestion_runs SET status = $2, jobs_ready = $3, jobs_skipped = $4, jobs_failed = $5, finished_at = $6
WHERE id = $1 AND status = $7`,
		runID,
		string(ingest.RunStatusFinished),
		counts.Ready,
		counts.Skipped,
		counts.Failed,
		at,
		string(ingest.RunStatusIngesting),
	))
	if err != nil {
		return false, fmt.Errorf("finish run: %w", err)
	}
	return ok, nil
}

// FailRun implements ingest.RunStore.
func (s *Store) FailRun(ctx context.Context, runID string, message string, at time.Time) (bool, error) {
	ok, err := updated(s.pool.Exec(ctx, `
UPDATE ingestion_runs SET status = $2, error_message = $3, finished_at = $4
WHERE id = $1 AND NOT (status = ANY($5))`,
		runID,
		string(ingest.RunStatusError),
		ingest.Truncate(message, ingest.MaxErrorLength),
		at,
		terminalStatuses,
	))
	if err != nil {
		return false, fmt.Errorf("fail run: %w", err)
	}
	return ok, nil
}

// AbortRun implements ingest.RunStore.
func (s *Store) AbortRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	ok, err := updated(s.pool.Exec(ctx, `
UPDATE ingestion_runs SET status = $2, finished_at = $3
WHERE id = $1 AND NOT (status = ANY($4))`,
		runID, string(ingest.RunStatusAborted), at, terminalStatuses,
	))
	if err != nil {
		return false, fmt.Errorf("abort run: %w", err)
	}
	return ok, nil
}

// IncrementSourceFailures implements ingest.RunStore with a single atomic
// upsert.
func (s *Store) IncrementSourceFailures(ctx context.Context, runID string, source ingest.Source) (int, error) {
	var failures int
	err := s.pool.QueryRow(ctx, `
INSERT INTO run_source_failures (run_id, source, failures) VALUES ($1, $2, 1)
ON CONFLICT (run_id, source) DO UPDATE SET failures = run_source_failures.failures + 1
RETURNING failures`,
		runID, string(source),
	).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("increment source failures: %w", err)
	}
	return failures, nil
}

// SourceFailures implements ingest.RunStore.
func (s *Store) SourceFailures(ctx context.Context, runID string, source ingest.Source) (int, error) {
	var failures int
	err := s.pool.QueryRow(ctx, `
SELECT failures FROM run_source_failures WHERE run_id = $1 AND source = $2`,
		runID, string(source),
	).Scan(&failures)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read source failures: %w", err)
	}
	return failures, nil
}
