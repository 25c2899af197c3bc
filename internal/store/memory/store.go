// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

// Store keeps all pipeline state in maps guarded by one RWMutex.
type Store struct {
	mu         sync.RWMutex
	projects   map[string]pipeline.Project
	pages      map[string]pipeline.CrawledPage
	pagesByURL map[string]string // projectID + "\x00" + normalizedURL -> pageID
	taxonomies map[string]pipeline.Taxonomy
	paa        map[string]pipeline.PagePAA
	briefs     map[string]pipeline.ContentBrief
	content    map[string]pipeline.GeneratedContent
	schedules  map[string]pipeline.CrawlSchedule
	runs       map[string]pipeline.CrawlRun
	runOrder   []string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		projects:   make(map[string]pipeline.Project),
		pages:      make(map[string]pipeline.CrawledPage),
		pagesByURL: make(map[string]string),
		taxonomies: make(map[string]pipeline.Taxonomy),
		paa:        make(map[string]pipeline.PagePAA),
		briefs:     make(map[string]pipeline.ContentBrief),
		content:    make(map[string]pipeline.GeneratedContent),
		schedules:  make(map[string]pipeline.CrawlSchedule),
		runs:       make(map[string]pipeline.CrawlRun),
	}
}

func urlKey(projectID, normalizedURL string) string {
	return projectID + "\x00" + normalizedURL
}

// CreateProject stores a new project.
func (s *Store) CreateProject(_ context.Context, p pipeline.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s: %w", p.ID, store.ErrConflict)
	}
	if p.Phases == nil {
		p.Phases = pipeline.NewPhaseStatus()
	}
	s.projects[p.ID] = p
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, id string) (pipeline.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return pipeline.Project{}, store.ErrNotFound
	}
	return p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(_ context.Context) ([]pipeline.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateProject overwrites a project record.
func (s *Store) UpdateProject(_ context.Context, p pipeline.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return store.ErrNotFound
	}
	s.projects[p.ID] = p
	return nil
}

// UpdatePhase applies one phase transition, enforcing monotonic order.
func (s *Store) UpdatePhase(
	_ context.Context,
	projectID string,
	phase pipeline.Phase,
	progress pipeline.PhaseProgress,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return store.ErrNotFound
	}
	current := p.Phases.Get(phase)
	if current.State != progress.State && !current.State.CanAdvanceTo(progress.State) {
		return fmt.Errorf("phase %s: %s -> %s: %w", phase, current.State, progress.State, store.ErrConflict)
	}
	if p.Phases == nil {
		p.Phases = pipeline.NewPhaseStatus()
	}
	p.Phases[phase] = progress
	s.projects[projectID] = p
	return nil
}

// SavePage inserts the page or, when the (project, normalized URL) key
// already exists, overwrites only the crawl-owned fields. Classification,
// labels, and related links stay on the existing record across recrawls.
func (s *Store) SavePage(_ context.Context, page pipeline.CrawledPage) (pipeline.CrawledPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := urlKey(page.ProjectID, page.NormalizedURL)
	if existingID, ok := s.pagesByURL[key]; ok {
		prev := s.pages[existingID]
		page.ID = existingID
		page.Category = prev.Category
		page.Confidence = prev.Confidence
		page.ClassSource = prev.ClassSource
		page.ClassReason = prev.ClassReason
		page.Labels = prev.Labels
		page.Related = prev.Related
	}
	s.pages[page.ID] = page
	s.pagesByURL[key] = page.ID
	return page, nil
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(_ context.Context, id string) (pipeline.CrawledPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	if !ok {
		return pipeline.CrawledPage{}, store.ErrNotFound
	}
	return p, nil
}

// GetPageByURL fetches a page by its normalized URL within a project.
func (s *Store) GetPageByURL(_ context.Context, projectID, normalizedURL string) (pipeline.CrawledPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pagesByURL[urlKey(projectID, normalizedURL)]
	if !ok {
		return pipeline.CrawledPage{}, store.ErrNotFound
	}
	return s.pages[id], nil
}

// ListPages returns all pages for a project ordered by fetch time then ID.
func (s *Store) ListPages(_ context.Context, projectID string) ([]pipeline.CrawledPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.CrawledPage, 0)
	for _, p := range s.pages {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FetchedAt.Before(out[j].FetchedAt)
	})
	return out, nil
}

// UpdatePage overwrites a page record by ID.
func (s *Store) UpdatePage(_ context.Context, page pipeline.CrawledPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[page.ID]; !ok {
		return store.ErrNotFound
	}
	s.pages[page.ID] = page
	s.pagesByURL[urlKey(page.ProjectID, page.NormalizedURL)] = page.ID
	return nil
}

// DeletePage removes a page and its URL index entry.
func (s *Store) DeletePage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.pages, id)
	delete(s.pagesByURL, urlKey(p.ProjectID, p.NormalizedURL))
	return nil
}

// SaveTaxonomy overwrites the project taxonomy.
func (s *Store) SaveTaxonomy(_ context.Context, t pipeline.Taxonomy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxonomies[t.ProjectID] = t
	return nil
}

// GetTaxonomy fetches the project taxonomy.
func (s *Store) GetTaxonomy(_ context.Context, projectID string) (pipeline.Taxonomy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.taxonomies[projectID]
	if !ok {
		return pipeline.Taxonomy{}, store.ErrNotFound
	}
	return t, nil
}

// SavePAA overwrites the enrichment record for a page.
func (s *Store) SavePAA(_ context.Context, rec pipeline.PagePAA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paa[rec.PageID] = rec
	return nil
}

// GetPAA fetches the enrichment record for a page.
func (s *Store) GetPAA(_ context.Context, pageID string) (pipeline.PagePAA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.paa[pageID]
	if !ok {
		return pipeline.PagePAA{}, store.ErrNotFound
	}
	return rec, nil
}

// SaveBrief overwrites the research brief for a page.
func (s *Store) SaveBrief(_ context.Context, brief pipeline.ContentBrief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.briefs[brief.PageID] = brief
	return nil
}

// GetBrief fetches the research brief for a page.
func (s *Store) GetBrief(_ context.Context, pageID string) (pipeline.ContentBrief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.briefs[pageID]
	if !ok {
		return pipeline.ContentBrief{}, store.ErrNotFound
	}
	return b, nil
}

// SaveContent overwrites the generated content for a page, enforcing the
// content state machine when a record already exists.
func (s *Store) SaveContent(_ context.Context, content pipeline.GeneratedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.content[content.PageID]; ok {
		if existing.Status != content.Status && !existing.Status.CanTransition(content.Status) {
			return fmt.Errorf("content %s: %s -> %s: %w",
				content.PageID, existing.Status, content.Status, store.ErrConflict)
		}
	}
	s.content[content.PageID] = content
	return nil
}

// GetContent fetches the generated content for a page.
func (s *Store) GetContent(_ context.Context, pageID string) (pipeline.GeneratedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.content[pageID]
	if !ok {
		return pipeline.GeneratedContent{}, store.ErrNotFound
	}
	return c, nil
}

// UpsertSchedule inserts or replaces the schedule for a project.
func (s *Store) UpsertSchedule(_ context.Context, sched pipeline.CrawlSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ProjectID] = sched
	return nil
}

// GetSchedule fetches the schedule for a project.
func (s *Store) GetSchedule(_ context.Context, projectID string) (pipeline.CrawlSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[projectID]
	if !ok {
		return pipeline.CrawlSchedule{}, store.ErrNotFound
	}
	return sched, nil
}

// ListEnabledSchedules returns every enabled schedule.
func (s *Store) ListEnabledSchedules(_ context.Context) ([]pipeline.CrawlSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.CrawlSchedule, 0)
	for _, sched := range s.schedules {
		if sched.Enabled {
			out = append(out, sched)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out, nil
}

// CreateRun appends a new in_progress history record.
func (s *Store) CreateRun(_ context.Context, run pipeline.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, store.ErrConflict)
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

// CompleteRun records the terminal state of a run.
func (s *Store) CompleteRun(_ context.Context, run pipeline.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Status != pipeline.RunInProgress {
		return fmt.Errorf("run %s already %s: %w", run.ID, existing.Status, store.ErrConflict)
	}
	s.runs[run.ID] = run
	return nil
}

// ListRuns returns history records for a project, most recent first.
func (s *Store) ListRuns(_ context.Context, projectID string, limit int) ([]pipeline.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.CrawlRun, 0)
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if run.ProjectID != projectID {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FailStaleRuns marks every in_progress run failed. Used at startup.
func (s *Store) FailStaleRuns(_ context.Context, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repaired := 0
	now := time.Now().UTC()
	for id, run := range s.runs {
		if run.Status != pipeline.RunInProgress {
			continue
		}
		run.Status = pipeline.RunFailed
		run.ErrorText = reason
		run.FinishedAt = &now
		s.runs[id] = run
		repaired++
	}
	return repaired, nil
}
