package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

// SaveTaxonomy upserts the project's label vocabulary.
func (s *Store) SaveTaxonomy(ctx context.Context, t pipeline.Taxonomy) error {
	labelsJSON, err := asJSON(t.Labels)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO taxonomies (project_id, labels, generated_at)
VALUES ($1,$2,$3)
ON CONFLICT (project_id) DO UPDATE SET labels = EXCLUDED.labels, generated_at = EXCLUDED.generated_at`,
		t.ProjectID, labelsJSON, t.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert taxonomy: %w", err)
	}
	return nil
}

// GetTaxonomy loads the project's label vocabulary.
func (s *Store) GetTaxonomy(ctx context.Context, projectID string) (pipeline.Taxonomy, error) {
	var t pipeline.Taxonomy
	var labelsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, labels, generated_at FROM taxonomies WHERE project_id = $1`,
		projectID,
	).Scan(&t.ProjectID, &labelsJSON, &t.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Taxonomy{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.Taxonomy{}, fmt.Errorf("select taxonomy: %w", err)
	}
	if err := fromJSON(labelsJSON, &t.Labels); err != nil {
		return pipeline.Taxonomy{}, err
	}
	return t, nil
}

// SavePAA upserts the page's enrichment record.
func (s *Store) SavePAA(ctx context.Context, rec pipeline.PagePAA) error {
	questionsJSON, err := asJSON(rec.Questions)
	if err != nil {
		return err
	}
	rawJSON, err := asJSON(rec.RawResults)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO page_paa (page_id, keyword, locale, questions, raw_results, enriched_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (page_id) DO UPDATE SET
	keyword = EXCLUDED.keyword,
	locale = EXCLUDED.locale,
	questions = EXCLUDED.questions,
	raw_results = EXCLUDED.raw_results,
	enriched_at = EXCLUDED.enriched_at`,
		rec.PageID, rec.Keyword, rec.Locale, questionsJSON, rawJSON, rec.EnrichedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert enrichment: %w", err)
	}
	return nil
}

// GetPAA loads the page's enrichment record.
func (s *Store) GetPAA(ctx context.Context, pageID string) (pipeline.PagePAA, error) {
	var rec pipeline.PagePAA
	var questionsJSON, rawJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT page_id, keyword, locale, questions, raw_results, enriched_at FROM page_paa WHERE page_id = $1`,
		pageID,
	).Scan(&rec.PageID, &rec.Keyword, &rec.Locale, &questionsJSON, &rawJSON, &rec.EnrichedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.PagePAA{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.PagePAA{}, fmt.Errorf("select enrichment: %w", err)
	}
	if err := fromJSON(questionsJSON, &rec.Questions); err != nil {
		return pipeline.PagePAA{}, err
	}
	if err := fromJSON(rawJSON, &rec.RawResults); err != nil {
		return pipeline.PagePAA{}, err
	}
	return rec, nil
}

// SaveBrief upserts the page's research brief.
func (s *Store) SaveBrief(ctx context.Context, brief pipeline.ContentBrief) error {
	questionsJSON, err := asJSON(brief.PriorityQuestions)
	if err != nil {
		return err
	}
	benefitsJSON, err := asJSON(brief.Benefits)
	if err != nil {
		return err
	}
	diffJSON, err := asJSON(brief.Differentiators)
	if err != nil {
		return err
	}
	exclJSON, err := asJSON(brief.Exclusions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO content_briefs (page_id, angle, priority_questions, benefits, differentiators, exclusions, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (page_id) DO UPDATE SET
	angle = EXCLUDED.angle,
	priority_questions = EXCLUDED.priority_questions,
	benefits = EXCLUDED.benefits,
	differentiators = EXCLUDED.differentiators,
	exclusions = EXCLUDED.exclusions,
	created_at = EXCLUDED.created_at`,
		brief.PageID, brief.Angle, questionsJSON, benefitsJSON, diffJSON, exclJSON, brief.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert brief: %w", err)
	}
	return nil
}

// GetBrief loads the page's research brief.
func (s *Store) GetBrief(ctx context.Context, pageID string) (pipeline.ContentBrief, error) {
	var brief pipeline.ContentBrief
	var questionsJSON, benefitsJSON, diffJSON, exclJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT page_id, angle, priority_questions, benefits, differentiators, exclusions, created_at
FROM content_briefs WHERE page_id = $1`,
		pageID,
	).Scan(&brief.PageID, &brief.Angle, &questionsJSON, &benefitsJSON, &diffJSON, &exclJSON, &brief.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.ContentBrief{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.ContentBrief{}, fmt.Errorf("select brief: %w", err)
	}
	if err := fromJSON(questionsJSON, &brief.PriorityQuestions); err != nil {
		return pipeline.ContentBrief{}, err
	}
	if err := fromJSON(benefitsJSON, &brief.Benefits); err != nil {
		return pipeline.ContentBrief{}, err
	}
	if err := fromJSON(diffJSON, &brief.Differentiators); err != nil {
		return pipeline.ContentBrief{}, err
	}
	if err := fromJSON(exclJSON, &brief.Exclusions); err != nil {
		return pipeline.ContentBrief{}, err
	}
	return brief, nil
}

// SaveContent upserts the page's generated content inside a row-locking
// transaction that enforces the content status state machine.
func (s *Store) SaveContent(ctx context.Context, content pipeline.GeneratedContent) error {
	hardJSON, err := asJSON(content.HardBlockers)
	if err != nil {
		return err
	}
	softJSON, err := asJSON(content.SoftIssues)
	if err != nil {
		return err
	}
	fixJSON, err := asJSON(content.FixHistory)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin content save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current pipeline.ContentStatus
	err = tx.QueryRow(ctx, `SELECT status FROM generated_content WHERE page_id = $1 FOR UPDATE`, content.PageID).
		Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// first save for this page
	case err != nil:
		return fmt.Errorf("lock content row: %w", err)
	default:
		if current != content.Status && !current.CanTransition(content.Status) {
			return fmt.Errorf("content %s: %s -> %s: %w", content.PageID, current, content.Status, store.ErrConflict)
		}
	}
	_, err = tx.Exec(ctx, `
INSERT INTO generated_content (
	page_id, h1, title_tag, meta_description, top_description, bottom_description,
	word_count, status, hard_blockers, soft_issues, fix_history, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (page_id) DO UPDATE SET
	h1 = EXCLUDED.h1,
	title_tag = EXCLUDED.title_tag,
	meta_description = EXCLUDED.meta_description,
	top_description = EXCLUDED.top_description,
	bottom_description = EXCLUDED.bottom_description,
	word_count = EXCLUDED.word_count,
	status = EXCLUDED.status,
	hard_blockers = EXCLUDED.hard_blockers,
	soft_issues = EXCLUDED.soft_issues,
	fix_history = EXCLUDED.fix_history,
	updated_at = EXCLUDED.updated_at`,
		content.PageID, content.H1, content.TitleTag, content.MetaDescription,
		content.TopDescription, content.BottomDescription, content.WordCount, content.Status,
		hardJSON, softJSON, fixJSON, content.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit content save: %w", err)
	}
	return nil
}

// GetContent loads the page's generated content.
func (s *Store) GetContent(ctx context.Context, pageID string) (pipeline.GeneratedContent, error) {
	var content pipeline.GeneratedContent
	var hardJSON, softJSON, fixJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT page_id, h1, title_tag, meta_description, top_description, bottom_description,
	word_count, status, hard_blockers, soft_issues, fix_history, updated_at
FROM generated_content WHERE page_id = $1`,
		pageID,
	).Scan(
		&content.PageID, &content.H1, &content.TitleTag, &content.MetaDescription,
		&content.TopDescription, &content.BottomDescription, &content.WordCount, &content.Status,
		&hardJSON, &softJSON, &fixJSON, &content.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.GeneratedContent{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.GeneratedContent{}, fmt.Errorf("select content: %w", err)
	}
	if err := fromJSON(hardJSON, &content.HardBlockers); err != nil {
		return pipeline.GeneratedContent{}, err
	}
	if err := fromJSON(softJSON, &content.SoftIssues); err != nil {
		return pipeline.GeneratedContent{}, err
	}
	if err := fromJSON(fixJSON, &content.FixHistory); err != nil {
		return pipeline.GeneratedContent{}, err
	}
	return content, nil
}
