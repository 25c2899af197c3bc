package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

type createProjectRequest struct {
	Name          string                  `json:"name"`
	SiteURL       string                  `json:"site_url"`
	Crawl         crawlConfigRequest      `json:"crawl"`
	PriorityLinks []pipeline.PriorityLink `json:"priority_links"`
}

type crawlConfigRequest struct {
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	MaxPages        int      `json:"max_pages"`
	Concurrency     int      `json:"concurrency"`
	DelayMs         int      `json:"delay_ms"`
	RespectRobots   *bool    `json:"respect_robots"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validateSiteURL(req.SiteURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePriorityLinks(req.PriorityLinks); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate project id")
		return
	}
	now := s.clock.Now()
	project := pipeline.Project{
		ID:        id,
		Name:      req.Name,
		SiteURL:   req.SiteURL,
		Crawl:     s.toCrawlConfig(req.Crawl),
		Priority:  req.PriorityLinks,
		Phases:    pipeline.NewPhaseStatus(),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "project already exists")
			return
		}
		s.logger.Error("create project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project})
}

// runPipeline kicks off the full phase chain in the background and returns
// 202 immediately. Progress is exposed via the phase status endpoints.
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !project.Active {
		writeError(w, http.StatusConflict, "project is not active")
		return
	}
	go func() {
		if err := s.runner.RunAll(context.Background(), project.ID); err != nil {
			s.logger.Warn("pipeline run failed",
				zap.String("project_id", project.ID),
				zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": project.ID,
		"status":     "accepted",
	})
}

func (s *Server) runPhase(w http.ResponseWriter, r *http.Request) {
	phase := pipeline.Phase(chi.URLParam(r, "phase"))
	if !pipeline.ValidPhase(phase) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown phase %q", phase))
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !project.Active {
		writeError(w, http.StatusConflict, "project is not active")
		return
	}
	if project.Phases.Get(phase).State == pipeline.PhaseInProgress {
		writeError(w, http.StatusConflict, fmt.Sprintf("phase %s is already running", phase))
		return
	}
	go func() {
		if err := s.runner.RunPhase(context.Background(), project.ID, phase); err != nil {
			s.logger.Warn("phase run failed",
				zap.String("project_id", project.ID),
				zap.String("phase", string(phase)),
				zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": project.ID,
		"phase":      string(phase),
		"status":     "accepted",
	})
}

func (s *Server) phaseStatus(w http.ResponseWriter, r *http.Request) {
	phase := pipeline.Phase(chi.URLParam(r, "phase"))
	if !pipeline.ValidPhase(phase) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown phase %q", phase))
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPhaseDTO(phase, project.Phases.Get(phase)))
}

func (s *Server) listPhases(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	phases := make([]phaseDTO, 0, len(pipeline.Phases()))
	for _, phase := range pipeline.Phases() {
		phases = append(phases, toPhaseDTO(phase, project.Phases.Get(phase)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"phases": phases})
}

// putPriorityLinks replaces the project's business-selected internal links.
// The writing phase injects these into every draft it produces.
func (s *Server) putPriorityLinks(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	var req struct {
		PriorityLinks []pipeline.PriorityLink `json:"priority_links"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validatePriorityLinks(req.PriorityLinks); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project.Priority = req.PriorityLinks
	project.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateProject(r.Context(), project); err != nil {
		s.logger.Error("update project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":     project.ID,
		"priority_links": project.Priority,
	})
}

// loadProject fetches the project from the path parameter, writing the error
// response itself when the lookup fails.
func (s *Server) loadProject(w http.ResponseWriter, r *http.Request) (pipeline.Project, bool) {
	projectID := chi.URLParam(r, "project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return pipeline.Project{}, false
	}
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return pipeline.Project{}, false
		}
		s.logger.Error("get project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return pipeline.Project{}, false
	}
	return project, true
}

func (s *Server) toCrawlConfig(req crawlConfigRequest) pipeline.CrawlConfig {
	cfg := pipeline.CrawlConfig{
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
		MaxPages:        req.MaxPages,
		Concurrency:     req.Concurrency,
		Delay:           time.Duration(req.DelayMs) * time.Millisecond,
		RespectRobots:   boolOrDefault(req.RespectRobots, s.cfg.Crawler.RespectRobots),
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = s.cfg.Crawler.MaxPagesDefault
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = s.cfg.Crawler.Concurrency
	}
	if cfg.Delay <= 0 {
		cfg.Delay = s.cfg.CrawlDelay()
	}
	return cfg
}

func validateSiteURL(raw string) error {
	if raw == "" {
		return errors.New("site_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("site_url must be an absolute http(s) URL")
	}
	return nil
}

func validatePriorityLinks(links []pipeline.PriorityLink) error {
	for _, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("priority link %q must be an absolute http(s) URL", l.URL)
		}
	}
	return nil
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

type phaseDTO struct {
	Phase      string     `json:"phase"`
	State      string     `json:"state"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Failed     int        `json:"failed"`
	Percent    int        `json:"percent"`
	ErrorText  string     `json:"error_text,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func toPhaseDTO(phase pipeline.Phase, p pipeline.PhaseProgress) phaseDTO {
	return phaseDTO{
		Phase:      string(phase),
		State:      string(p.State),
		Total:      p.Total,
		Done:       p.Done,
		Failed:     p.Failed,
		Percent:    p.Percent(),
		ErrorText:  p.ErrorText,
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
	}
}
