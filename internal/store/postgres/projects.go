package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

const projectColumns = `id, name, site_url, crawl_config, priority_links, phases, active, needs_review, created_at, updated_at`

// CreateProject inserts a project row.
func (s *Store) CreateProject(ctx context.Context, p pipeline.Project) error {
	crawlJSON, err := asJSON(p.Crawl)
	if err != nil {
		return err
	}
	priorityJSON, err := asJSON(p.Priority)
	if err != nil {
		return err
	}
	if p.Phases == nil {
		p.Phases = pipeline.NewPhaseStatus()
	}
	phasesJSON, err := asJSON(p.Phases)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO projects (`+projectColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.Name, p.SiteURL, crawlJSON, priorityJSON, phasesJSON, p.Active, p.NeedsReview, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("project %s: %w", p.ID, store.ErrConflict)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject loads one project by id.
func (s *Store) GetProject(ctx context.Context, id string) (pipeline.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Project{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.Project{}, fmt.Errorf("select project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]pipeline.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []pipeline.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// UpdateProject overwrites the mutable project fields.
func (s *Store) UpdateProject(ctx context.Context, p pipeline.Project) error {
	crawlJSON, err := asJSON(p.Crawl)
	if err != nil {
		return err
	}
	priorityJSON, err := asJSON(p.Priority)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE projects
SET name = $2, site_url = $3, crawl_config = $4, priority_links = $5, active = $6, needs_review = $7, updated_at = $8
WHERE id = $1`,
		p.ID, p.Name, p.SiteURL, crawlJSON, priorityJSON, p.Active, p.NeedsReview, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdatePhase applies one phase transition inside a row-locking transaction so
// concurrent updates cannot skip states.
func (s *Store) UpdatePhase(
	ctx context.Context,
	projectID string,
	phase pipeline.Phase,
	progress pipeline.PhaseProgress,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin phase update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var phasesJSON []byte
	err = tx.QueryRow(ctx, `SELECT phases FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&phasesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock project phases: %w", err)
	}
	phases := pipeline.NewPhaseStatus()
	if err := fromJSON(phasesJSON, &phases); err != nil {
		return err
	}
	current := phases.Get(phase)
	if current.State != progress.State && !current.State.CanAdvanceTo(progress.State) {
		return fmt.Errorf("phase %s: %s -> %s: %w", phase, current.State, progress.State, store.ErrConflict)
	}
	phases[phase] = progress
	updated, err := asJSON(phases)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET phases = $2 WHERE id = $1`, projectID, updated); err != nil {
		return fmt.Errorf("write project phases: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit phase update: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (pipeline.Project, error) {
	var p pipeline.Project
	var crawlJSON, priorityJSON, phasesJSON []byte
	err := row.Scan(
		&p.ID, &p.Name, &p.SiteURL, &crawlJSON, &priorityJSON, &phasesJSON,
		&p.Active, &p.NeedsReview, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return pipeline.Project{}, err
	}
	if err := fromJSON(crawlJSON, &p.Crawl); err != nil {
		return pipeline.Project{}, err
	}
	if err := fromJSON(priorityJSON, &p.Priority); err != nil {
		return pipeline.Project{}, err
	}
	p.Phases = pipeline.NewPhaseStatus()
	if err := fromJSON(phasesJSON, &p.Phases); err != nil {
		return pipeline.Project{}, err
	}
	return p, nil
}
