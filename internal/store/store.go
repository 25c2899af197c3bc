// Package store declares interfaces for persisting pipeline state.
package store

import (
	"context"
	"errors"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals a uniqueness or state-transition violation.
var ErrConflict = errors.New("conflicting record state")

// ProjectStore persists projects and their nested phase status.
type ProjectStore interface {
	CreateProject(ctx context.Context, p pipeline.Project) error
	GetProject(ctx context.Context, id string) (pipeline.Project, error)
	ListProjects(ctx context.Context) ([]pipeline.Project, error)
	UpdateProject(ctx context.Context, p pipeline.Project) error
	// UpdatePhase applies one phase transition. It returns ErrConflict when
	// the transition would violate the pending -> in_progress -> terminal order.
	UpdatePhase(ctx context.Context, projectID string, phase pipeline.Phase, progress pipeline.PhaseProgress) error
}

// PageStore persists crawled pages. (project_id, normalized_url) is unique.
type PageStore interface {
	// SavePage inserts the page or, when the normalized URL already exists
	// for the project, overwrites the crawl-owned fields in place.
	SavePage(ctx context.Context, page pipeline.CrawledPage) (pipeline.CrawledPage, error)
	GetPage(ctx context.Context, id string) (pipeline.CrawledPage, error)
	GetPageByURL(ctx context.Context, projectID, normalizedURL string) (pipeline.CrawledPage, error)
	ListPages(ctx context.Context, projectID string) ([]pipeline.CrawledPage, error)
	UpdatePage(ctx context.Context, page pipeline.CrawledPage) error
	DeletePage(ctx context.Context, id string) error
}

// TaxonomyStore persists the per-project label taxonomy.
type TaxonomyStore interface {
	SaveTaxonomy(ctx context.Context, t pipeline.Taxonomy) error
	GetTaxonomy(ctx context.Context, projectID string) (pipeline.Taxonomy, error)
}

// PAAStore persists question-enrichment records, one per page.
type PAAStore interface {
	SavePAA(ctx context.Context, rec pipeline.PagePAA) error
	GetPAA(ctx context.Context, pageID string) (pipeline.PagePAA, error)
}

// ContentStore persists research briefs and generated content, one per page.
type ContentStore interface {
	SaveBrief(ctx context.Context, brief pipeline.ContentBrief) error
	GetBrief(ctx context.Context, pageID string) (pipeline.ContentBrief, error)
	SaveContent(ctx context.Context, content pipeline.GeneratedContent) error
	GetContent(ctx context.Context, pageID string) (pipeline.GeneratedContent, error)
}

// ScheduleStore persists recurring-crawl configuration, one per project.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, s pipeline.CrawlSchedule) error
	GetSchedule(ctx context.Context, projectID string) (pipeline.CrawlSchedule, error)
	ListEnabledSchedules(ctx context.Context) ([]pipeline.CrawlSchedule, error)
}

// RunStore persists the append-only crawl history.
type RunStore interface {
	// CreateRun inserts the run in in_progress state. The insert and later
	// completion are separate transactions so a crash leaves a detectable
	// in_progress row rather than a duplicate.
	CreateRun(ctx context.Context, run pipeline.CrawlRun) error
	CompleteRun(ctx context.Context, run pipeline.CrawlRun) error
	ListRuns(ctx context.Context, projectID string, limit int) ([]pipeline.CrawlRun, error)
	// FailStaleRuns marks every in_progress run failed with the given reason.
	// Called once at startup; returns the number of runs repaired.
	FailStaleRuns(ctx context.Context, reason string) (int, error)
}

// Store combines every repository the pipeline needs.
type Store interface {
	ProjectStore
	PageStore
	TaxonomyStore
	PAAStore
	ContentStore
	ScheduleStore
	RunStore
}
