package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

const pageColumns = `id, project_id, url, normalized_url, status, http_status, title, h1,
meta_description, body_text, word_count, links, signals, category, confidence,
class_source, class_reason, labels, related, content_hash, snapshot_uri, fetch_error, fetched_at`

// SavePage upserts on (project_id, normalized_url), overwriting only the
// crawl-owned fields so labels and classification survive recrawls.
func (s *Store) SavePage(ctx context.Context, page pipeline.CrawledPage) (pipeline.CrawledPage, error) {
	linksJSON, err := asJSON(page.Links)
	if err != nil {
		return pipeline.CrawledPage{}, err
	}
	signalsJSON, err := asJSON(page.Signals)
	if err != nil {
		return pipeline.CrawledPage{}, err
	}
	labelsJSON, err := asJSON(page.Labels)
	if err != nil {
		return pipeline.CrawledPage{}, err
	}
	relatedJSON, err := asJSON(page.Related)
	if err != nil {
		return pipeline.CrawledPage{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO pages (`+pageColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (project_id, normalized_url) DO UPDATE SET
	url = EXCLUDED.url,
	status = EXCLUDED.status,
	http_status = EXCLUDED.http_status,
	title = EXCLUDED.title,
	h1 = EXCLUDED.h1,
	meta_description = EXCLUDED.meta_description,
	body_text = EXCLUDED.body_text,
	word_count = EXCLUDED.word_count,
	links = EXCLUDED.links,
	signals = EXCLUDED.signals,
	content_hash = EXCLUDED.content_hash,
	snapshot_uri = EXCLUDED.snapshot_uri,
	fetch_error = EXCLUDED.fetch_error,
	fetched_at = EXCLUDED.fetched_at
RETURNING id`,
		page.ID, page.ProjectID, page.URL, page.NormalizedURL, page.Status, page.HTTPStatus,
		page.Title, page.H1, page.MetaDescription, page.BodyText, page.WordCount,
		linksJSON, signalsJSON, page.Category, page.Confidence, page.ClassSource, page.ClassReason,
		labelsJSON, relatedJSON, page.ContentHash, page.SnapshotURI, page.FetchError, page.FetchedAt,
	)
	if err := row.Scan(&page.ID); err != nil {
		return pipeline.CrawledPage{}, fmt.Errorf("upsert page: %w", err)
	}
	return page, nil
}

// GetPage loads one page by id.
func (s *Store) GetPage(ctx context.Context, id string) (pipeline.CrawledPage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.CrawledPage{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.CrawledPage{}, fmt.Errorf("select page: %w", err)
	}
	return page, nil
}

// GetPageByURL loads one page by its project-scoped normalized URL.
func (s *Store) GetPageByURL(ctx context.Context, projectID, normalizedURL string) (pipeline.CrawledPage, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE project_id = $1 AND normalized_url = $2`,
		projectID, normalizedURL,
	)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.CrawledPage{}, store.ErrNotFound
	}
	if err != nil {
		return pipeline.CrawledPage{}, fmt.Errorf("select page by url: %w", err)
	}
	return page, nil
}

// ListPages returns every page for a project in normalized URL order.
func (s *Store) ListPages(ctx context.Context, projectID string) ([]pipeline.CrawledPage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE project_id = $1 ORDER BY normalized_url`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var out []pipeline.CrawledPage
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return out, nil
}

// UpdatePage overwrites every mutable field of the page row.
func (s *Store) UpdatePage(ctx context.Context, page pipeline.CrawledPage) error {
	linksJSON, err := asJSON(page.Links)
	if err != nil {
		return err
	}
	signalsJSON, err := asJSON(page.Signals)
	if err != nil {
		return err
	}
	labelsJSON, err := asJSON(page.Labels)
	if err != nil {
		return err
	}
	relatedJSON, err := asJSON(page.Related)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE pages SET
	status = $2, http_status = $3, title = $4, h1 = $5, meta_description = $6,
	body_text = $7, word_count = $8, links = $9, signals = $10, category = $11,
	confidence = $12, class_source = $13, class_reason = $14, labels = $15,
	related = $16, content_hash = $17, snapshot_uri = $18, fetch_error = $19, fetched_at = $20
WHERE id = $1`,
		page.ID, page.Status, page.HTTPStatus, page.Title, page.H1, page.MetaDescription,
		page.BodyText, page.WordCount, linksJSON, signalsJSON, page.Category,
		page.Confidence, page.ClassSource, page.ClassReason, labelsJSON,
		relatedJSON, page.ContentHash, page.SnapshotURI, page.FetchError, page.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeletePage removes the page row and its dependent records via FK cascade.
func (s *Store) DeletePage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanPage(row rowScanner) (pipeline.CrawledPage, error) {
	var page pipeline.CrawledPage
	var linksJSON, signalsJSON, labelsJSON, relatedJSON []byte
	err := row.Scan(
		&page.ID, &page.ProjectID, &page.URL, &page.NormalizedURL, &page.Status, &page.HTTPStatus,
		&page.Title, &page.H1, &page.MetaDescription, &page.BodyText, &page.WordCount,
		&linksJSON, &signalsJSON, &page.Category, &page.Confidence, &page.ClassSource, &page.ClassReason,
		&labelsJSON, &relatedJSON, &page.ContentHash, &page.SnapshotURI, &page.FetchError, &page.FetchedAt,
	)
	if err != nil {
		return pipeline.CrawledPage{}, err
	}
	if err := fromJSON(linksJSON, &page.Links); err != nil {
		return pipeline.CrawledPage{}, err
	}
	if err := fromJSON(signalsJSON, &page.Signals); err != nil {
		return pipeline.CrawledPage{}, err
	}
	if err := fromJSON(labelsJSON, &page.Labels); err != nil {
		return pipeline.CrawledPage{}, err
	}
	if err := fromJSON(relatedJSON, &page.Related); err != nil {
		return pipeline.CrawledPage{}, err
	}
	return page, nil
}
