package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/scheduler"
	"github.com/parkerlabs/sitescribe/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	sched, err := s.store.GetSchedule(r.Context(), project.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no schedule configured")
			return
		}
		s.logger.Error("get schedule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": sched})
}

type putScheduleRequest struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency"`
	Day       int    `json:"day"`
	TimeOfDay string `json:"time_of_day"`
	Timezone  string `json:"timezone"`
	Email     string `json:"email"`
	Webhook   string `json:"webhook"`
}

// putSchedule replaces the project's recurring-crawl schedule. The next fire
// time is computed here so an invalid frequency, time, or timezone is
// rejected before anything is persisted.
func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req putScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	sched := pipeline.CrawlSchedule{
		ProjectID: project.ID,
		Enabled:   req.Enabled,
		Frequency: pipeline.Frequency(req.Frequency),
		Day:       req.Day,
		TimeOfDay: req.TimeOfDay,
		Timezone:  req.Timezone,
		Email:     req.Email,
		Webhook:   req.Webhook,
	}
	if sched.TimeOfDay == "" {
		sched.TimeOfDay = "02:00"
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	next, err := scheduler.NextRun(sched, s.clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sched.Enabled {
		sched.NextRunAt = next
	}
	if err := s.store.UpsertSchedule(r.Context(), sched); err != nil {
		s.logger.Error("upsert schedule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save schedule")
		return
	}
	s.trigger.Refresh()
	writeJSON(w, http.StatusOK, map[string]any{"schedule": sched})
}

// triggerCrawl starts an immediate recrawl in the background. The run lands
// in the crawl history; concurrent duplicates for the same project are
// rejected by the scheduler and only logged here.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	if !project.Active {
		writeError(w, http.StatusConflict, "project is not active")
		return
	}
	go func() {
		run, err := s.trigger.TriggerNow(context.Background(), project.ID)
		if err != nil {
			s.logger.Warn("manual crawl failed",
				zap.String("project_id", project.ID),
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": project.ID,
		"status":     "accepted",
	})
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	project, ok := s.loadProject(w, r)
	if !ok {
		return
	}
	limit, _, err := parseLimitOffset(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), project.ID, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load crawl history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
