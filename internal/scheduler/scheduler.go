// Package scheduler owns recurring crawls: durable schedule rows, a timer
// loop that fires them in each schedule's timezone, and crawl-to-crawl change
// detection with notification dispatch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/crawl"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

// ErrRunInProgress signals that a crawl is already running for the project.
var ErrRunInProgress = errors.New("crawl already in progress for project")

// maxArmWait bounds how long the loop sleeps so externally edited schedules
// are picked up even without an explicit Refresh.
const maxArmWait = 5 * time.Minute

// Crawler runs the crawl engine for one project.
type Crawler interface {
	RunCrawl(ctx context.Context, project pipeline.Project, opts crawl.Options) (crawl.Result, error)
}

// Scheduler arms timers for enabled schedules and records every run in the
// append-only crawl history.
type Scheduler struct {
	store    store.Store
	crawler  Crawler
	notifier pipeline.Notifier
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
	logger   *zap.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New assembles a Scheduler. Start must be called before timers fire.
func New(
	st store.Store,
	crawler Crawler,
	notifier pipeline.Notifier,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    st,
		crawler:  crawler,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		inFlight: make(map[string]bool),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start reconciles state left over from a previous process and launches the
// timer loop. Any run still marked in_progress is forced to failed, and every
// enabled schedule is re-armed from its persisted configuration.
func (s *Scheduler) Start(ctx context.Context) error {
	repaired, err := s.store.FailStaleRuns(ctx, "interrupted")
	if err != nil {
		return fmt.Errorf("fail stale runs: %w", err)
	}
	if repaired > 0 {
		s.logger.Warn("repaired interrupted crawl runs", zap.Int("count", repaired))
	}
	if err := s.rearmAll(ctx); err != nil {
		return err
	}
	go s.loop()
	return nil
}

// Close stops the timer loop and waits for in-flight runs to finish.
func (s *Scheduler) Close(ctx context.Context) error {
	close(s.stop)
	finished := make(chan struct{})
	go func() {
		<-s.done
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler close wait: %w", ctx.Err())
	}
}

// Refresh pokes the loop to recompute its timer, e.g. after a schedule edit.
func (s *Scheduler) Refresh() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TriggerNow runs an immediate out-of-cycle crawl for the project. The
// schedule's next regular run is left untouched.
func (s *Scheduler) TriggerNow(ctx context.Context, projectID string) (pipeline.CrawlRun, error) {
	return s.runOnce(ctx, projectID)
}

// NextRun computes the first fire time strictly after from, evaluated in the
// schedule's timezone.
func NextRun(sched pipeline.CrawlSchedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", sched.Timezone, err)
	}
	tod, err := time.Parse("15:04", sched.TimeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time of day %q: %w", sched.TimeOfDay, err)
	}
	local := from.In(loc)
	at := func(year int, month time.Month, day int) time.Time {
		return time.Date(year, month, day, tod.Hour(), tod.Minute(), 0, 0, loc)
	}
	switch sched.Frequency {
	case pipeline.FreqDaily:
		next := at(local.Year(), local.Month(), local.Day())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	case pipeline.FreqWeekly:
		next := at(local.Year(), local.Month(), local.Day())
		days := (sched.Day - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil
	case pipeline.FreqMonthly:
		next := at(local.Year(), local.Month(), clampDay(local.Year(), local.Month(), sched.Day))
		if !next.After(from) {
			year, month := local.Year(), local.Month()+1
			next = at(year, month, clampDay(year, month, sched.Day))
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", sched.Frequency)
	}
}

// clampDay bounds a day-of-month to the month's actual length.
func clampDay(year int, month time.Month, day int) int {
	if day < 1 {
		return 1
	}
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		wait := s.armWait()
		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.fireDue(context.Background())
		}
	}
}

// armWait returns the sleep until the earliest NextRunAt, capped at maxArmWait.
func (s *Scheduler) armWait() time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		s.logger.Warn("list schedules", zap.Error(err))
		return maxArmWait
	}
	now := s.clock.Now()
	wait := maxArmWait
	for _, sched := range schedules {
		if sched.NextRunAt.IsZero() {
			return time.Second
		}
		if d := sched.NextRunAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// fireDue runs every enabled schedule whose NextRunAt has passed and advances
// its next fire time.
func (s *Scheduler) fireDue(ctx context.Context) {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		s.logger.Warn("list schedules", zap.Error(err))
		return
	}
	now := s.clock.Now()
	for _, sched := range schedules {
		if sched.NextRunAt.IsZero() {
			// Never armed. Give it a fire time instead of launching a crawl.
			if err := s.advance(ctx, sched, now); err != nil {
				s.logger.Warn("arm schedule", zap.String("project_id", sched.ProjectID), zap.Error(err))
			}
			continue
		}
		if sched.NextRunAt.After(now) {
			continue
		}
		if err := s.advance(ctx, sched, now); err != nil {
			s.logger.Warn("advance schedule", zap.String("project_id", sched.ProjectID), zap.Error(err))
			continue
		}
		projectID := sched.ProjectID
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.runOnce(context.Background(), projectID); err != nil {
				s.logger.Warn("scheduled crawl", zap.String("project_id", projectID), zap.Error(err))
			}
		}()
	}
}

func (s *Scheduler) advance(ctx context.Context, sched pipeline.CrawlSchedule, from time.Time) error {
	next, err := NextRun(sched, from)
	if err != nil {
		return err
	}
	sched.NextRunAt = next
	return s.store.UpsertSchedule(ctx, sched)
}

// rearmAll gives every enabled schedule with a missing or stale NextRunAt a
// fresh fire time.
func (s *Scheduler) rearmAll(ctx context.Context) error {
	schedules, err := s.store.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	now := s.clock.Now()
	for _, sched := range schedules {
		if !sched.NextRunAt.IsZero() && sched.NextRunAt.After(now) {
			continue
		}
		if err := s.advance(ctx, sched, now); err != nil {
			s.logger.Warn("rearm schedule", zap.String("project_id", sched.ProjectID), zap.Error(err))
		}
	}
	return nil
}

// runOnce performs a full recrawl with change detection and records the run
// in the crawl history.
func (s *Scheduler) runOnce(ctx context.Context, projectID string) (pipeline.CrawlRun, error) {
	if !s.claim(projectID) {
		return pipeline.CrawlRun{}, ErrRunInProgress
	}
	defer s.unclaim(projectID)

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return pipeline.CrawlRun{}, fmt.Errorf("load project: %w", err)
	}
	if !project.Active {
		return pipeline.CrawlRun{}, fmt.Errorf("project %s is not active", projectID)
	}
	before, err := s.store.ListPages(ctx, projectID)
	if err != nil {
		return pipeline.CrawlRun{}, fmt.Errorf("snapshot pages: %w", err)
	}

	runID, err := s.ids.NewID()
	if err != nil {
		return pipeline.CrawlRun{}, fmt.Errorf("run id: %w", err)
	}
	run := pipeline.CrawlRun{
		ID:        runID,
		ProjectID: projectID,
		Status:    pipeline.RunInProgress,
		StartedAt: s.clock.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return pipeline.CrawlRun{}, fmt.Errorf("create run: %w", err)
	}

	result, crawlErr := s.crawler.RunCrawl(ctx, project, crawl.Options{})
	run.PagesCrawled = result.PagesCrawled
	run.PagesFailed = result.PagesFailed

	if crawlErr != nil {
		run.Status = pipeline.RunFailed
		run.ErrorText = crawlErr.Error()
	} else {
		run.Status = pipeline.RunCompleted
		after, listErr := s.store.ListPages(ctx, projectID)
		if listErr != nil {
			s.logger.Warn("list pages after crawl", zap.String("project_id", projectID), zap.Error(listErr))
		} else {
			run.Changes = DiffCrawls(before, after).Summary()
			if len(before) > 0 && run.Changes.Significant() {
				run.Changes.Notified = s.notify(ctx, project, run.Changes)
			}
		}
	}
	finished := s.clock.Now()
	run.FinishedAt = &finished
	if err := s.store.CompleteRun(ctx, run); err != nil {
		s.logger.Error("complete run", zap.String("run_id", run.ID), zap.Error(err))
	}
	if crawlErr != nil {
		return run, crawlErr
	}
	return run, nil
}

// notify dispatches the significant-change alert and flags the project for
// review. Returns true only when the notifier accepted the message.
func (s *Scheduler) notify(ctx context.Context, project pipeline.Project, changes pipeline.ChangeSummary) bool {
	n := pipeline.Notification{
		ProjectID: project.ID,
		Subject:   fmt.Sprintf("Significant site changes detected for %s", project.Name),
		Body: fmt.Sprintf(
			"Latest crawl of %s found %d new, %d changed, and %d removed pages.",
			project.SiteURL, changes.New, changes.Changed, changes.Removed,
		),
		Changes: changes,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("send notification", zap.String("project_id", project.ID), zap.Error(err))
		return false
	}
	project.NeedsReview = true
	project.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		s.logger.Warn("flag project for review", zap.String("project_id", project.ID), zap.Error(err))
	}
	return true
}

func (s *Scheduler) claim(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[projectID] {
		return false
	}
	s.inFlight[projectID] = true
	return true
}

func (s *Scheduler) unclaim(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, projectID)
}
