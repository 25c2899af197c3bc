package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
	"github.com/parkerlabs/sitescribe/internal/taxonomy"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

func (s *Server) listProjectPages(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pages, err := s.store.ListPages(r.Context(), project.ID)
	if err != nil {
		s.logger.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	if cat := r.URL.Query().Get("category"); cat != "" {
		filtered := pages[:0]
		for _, p := range pages {
			if string(p.Category) == cat {
				filtered = append(filtered, p)
			}
		}
		pages = filtered
	}
	total := len(pages)
	if offset > len(pages) {
		offset = len(pages)
	}
	pages = pages[offset:]
	if len(pages) > limit {
		pages = pages[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": total,
		"pages": toPageSummaries(pages),
	})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	page, ok := s.loadPage(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page})
}

type patchLabelsRequest struct {
	Labels []string `json:"labels"`
}

// patchLabels replaces a page's labels with operator-chosen ones. Labels must
// come from the project taxonomy; related pages are recomputed afterwards.
func (s *Server) patchLabels(w http.ResponseWriter, r *http.Request) {
	var req patchLabelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	page, ok := s.loadPage(w, r)
	if !ok {
		return
	}
	tax, err := s.store.GetTaxonomy(r.Context(), page.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusConflict, "taxonomy not generated yet")
			return
		}
		s.logger.Error("get taxonomy failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load taxonomy")
		return
	}
	for _, label := range req.Labels {
		if !tax.Contains(label) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("label %q is not in the project taxonomy", label))
			return
		}
	}
	page.Labels = req.Labels

	all, err := s.store.ListPages(r.Context(), page.ProjectID)
	if err != nil {
		s.logger.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	for i := range all {
		if all[i].ID == page.ID {
			all[i] = page
		}
	}
	page.Related = taxonomy.FindRelated(page, all)

	if err := s.store.UpdatePage(r.Context(), page); err != nil {
		s.logger.Error("update page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update page")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page})
}

func (s *Server) getQuestions(w http.ResponseWriter, r *http.Request) {
	page, ok := s.loadPage(w, r)
	if !ok {
		return
	}
	paa, err := s.store.GetPAA(r.Context(), page.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page has not been enriched")
			return
		}
		s.logger.Error("get questions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load questions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": paa})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	page, ok := s.loadPage(w, r)
	if !ok {
		return
	}
	content, err := s.store.GetContent(r.Context(), page.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no content generated for page")
			return
		}
		s.logger.Error("get content failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load content")
		return
	}
	resp := map[string]any{"content": content}
	if brief, err := s.store.GetBrief(r.Context(), page.ID); err == nil {
		resp["brief"] = brief
	}
	writeJSON(w, http.StatusOK, resp)
}

// regenerateContent re-runs writing and QA synchronously for one page. The
// existing research brief is reused; prior QA failures become exclusions.
func (s *Server) regenerateContent(w http.ResponseWriter, r *http.Request) {
	page, ok := s.loadPage(w, r)
	if !ok {
		return
	}
	project, err := s.store.GetProject(r.Context(), page.ProjectID)
	if err != nil {
		s.logger.Error("load project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	all, err := s.store.ListPages(r.Context(), page.ProjectID)
	if err != nil {
		s.logger.Error("list pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	status, err := s.regen.Regenerate(r.Context(), page, all, project.Priority)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusConflict, "no brief for page; run the generate phase first")
			return
		}
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "content is not in a regenerable state")
			return
		}
		s.logger.Error("regenerate content failed", zap.String("page_id", page.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to regenerate content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"page_id": page.ID,
		"status":  string(status),
	})
}

func (s *Server) loadPage(w http.ResponseWriter, r *http.Request) (pipeline.CrawledPage, bool) {
	pageID := chi.URLParam(r, "page_id")
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "page_id is required")
		return pipeline.CrawledPage{}, false
	}
	page, err := s.store.GetPage(r.Context(), pageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return pipeline.CrawledPage{}, false
		}
		s.logger.Error("get page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load page")
		return pipeline.CrawledPage{}, false
	}
	return page, true
}

type pageSummary struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	HTTPStatus  int       `json:"http_status"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Confidence  int       `json:"confidence"`
	ClassSource string    `json:"class_source"`
	Labels      []string  `json:"labels"`
	WordCount   int       `json:"word_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func toPageSummaries(pages []pipeline.CrawledPage) []pageSummary {
	out := make([]pageSummary, 0, len(pages))
	for _, p := range pages {
		out = append(out, pageSummary{
			ID:          p.ID,
			URL:         p.NormalizedURL,
			Status:      string(p.Status),
			HTTPStatus:  p.HTTPStatus,
			Title:       p.Title,
			Category:    string(p.Category),
			Confidence:  p.Confidence,
			ClassSource: string(p.ClassSource),
			Labels:      p.Labels,
			WordCount:   p.WordCount,
			FetchedAt:   p.FetchedAt,
		})
	}
	return out
}
