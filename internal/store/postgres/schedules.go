package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

const scheduleColumns = `project_id, enabled, frequency, day, time_of_day, timezone, email, webhook, next_run_at`

// UpsertSchedule writes the project's recurring-crawl configuration.
func (s *Store) UpsertSchedule(ctx context.Context, sched pipeline.CrawlSchedule) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO schedules (`+scheduleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (project_id) DO UPDATE SET
	enabled = EXCLUDED.enabled,
	frequency = EXCLUDED.frequency,
	day = EXCLUDED.day,
	time_of_day = EXCLUDED.time_of_day,
	timezone = EXCLUDED.timezone,
	email = EXCLUDED.email,
	webhook = EXCLUDED.webhook,
	next_run_at = EXCLUDED.next_run_at`,
		sched.ProjectID, sched.Enabled, sched.Frequency, sched.Day, sched.TimeOfDay,
		sched.Timezone, sched.Email, sched.Webhook, sched.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// GetSchedule loads the project's recurring-crawl configuration.
func (s *Store) GetSchedule(ctx context.Context, projectID string) (pipeline.CrawlSchedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE project_id = $1`, projectID)
	sched, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.CrawlSchedule{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.CrawlSchedule{}, fmt.Errorf("select schedule: %w", err)
	}
	return sched, nil
}

// ListEnabledSchedules returns every enabled schedule for timer arming.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]pipeline.CrawlSchedule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE enabled ORDER BY next_run_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	var out []pipeline.CrawlSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

func scanSchedule(row rowScanner) (pipeline.CrawlSchedule, error) {
	var sched pipeline.CrawlSchedule
	err := row.Scan(
		&sched.ProjectID, &sched.Enabled, &sched.Frequency, &sched.Day, &sched.TimeOfDay,
		&sched.Timezone, &sched.Email, &sched.Webhook, &sched.NextRunAt,
	)
	return sched, err
}

const runColumns = `id, project_id, status, started_at, finished_at, pages_crawled, pages_failed, changes, error_text`

// CreateRun inserts the run in in_progress state. Completion is a separate
// transaction so a crash leaves a detectable in_progress row.
func (s *Store) CreateRun(ctx context.Context, run pipeline.CrawlRun) error {
	changesJSON, err := asJSON(run.Changes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_runs (`+runColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		run.ID, run.ProjectID, run.Status, run.StartedAt, run.FinishedAt,
		run.PagesCrawled, run.PagesFailed, changesJSON, run.ErrorText,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %s: %w", run.ID, store.ErrConflict)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun records the terminal state of an in_progress run.
func (s *Store) CompleteRun(ctx context.Context, run pipeline.CrawlRun) error {
	changesJSON, err := asJSON(run.Changes)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_runs
SET status = $2, finished_at = $3, pages_crawled = $4, pages_failed = $5, changes = $6, error_text = $7
WHERE id = $1 AND status = 'in_progress'`,
		run.ID, run.Status, run.FinishedAt, run.PagesCrawled, run.PagesFailed, changesJSON, run.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not in progress: %w", run.ID, store.ErrConflict)
	}
	return nil
}

// ListRuns returns history records for a project, most recent first.
func (s *Store) ListRuns(ctx context.Context, projectID string, limit int) ([]pipeline.CrawlRun, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE project_id = $1 ORDER BY started_at DESC`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []pipeline.CrawlRun
	for rows.Next() {
		var run pipeline.CrawlRun
		var changesJSON []byte
		err := rows.Scan(
			&run.ID, &run.ProjectID, &run.Status, &run.StartedAt, &run.FinishedAt,
			&run.PagesCrawled, &run.PagesFailed, &changesJSON, &run.ErrorText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := fromJSON(changesJSON, &run.Changes); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// FailStaleRuns marks every in_progress run failed. Called once at startup.
func (s *Store) FailStaleRuns(ctx context.Context, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_runs
SET status = 'failed', error_text = $1, finished_at = NOW()
WHERE status = 'in_progress'`,
		reason,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
