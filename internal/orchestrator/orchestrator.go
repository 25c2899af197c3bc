// Package orchestrator drives the per-project pipeline through its phases:
// crawl, classify, taxonomy, enrich, generate. Phase state is persisted
// monotonically so the status API always reflects a legal lifecycle, and
// progress events are emitted to the hub for metrics and logs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parkerlabs/sitescribe/internal/crawl"
	"github.com/parkerlabs/sitescribe/internal/enrich"
	"github.com/parkerlabs/sitescribe/internal/generate"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/progress"
	"github.com/parkerlabs/sitescribe/internal/store"
	"github.com/parkerlabs/sitescribe/internal/taxonomy"
)

// ErrPhaseRunning signals that the phase is already executing for the project.
var ErrPhaseRunning = errors.New("phase already running for project")

// ErrProjectInactive signals that the project is deactivated.
var ErrProjectInactive = errors.New("project is not active")

// Crawler runs the crawl engine for one project.
type Crawler interface {
	RunCrawl(ctx context.Context, project pipeline.Project, opts crawl.Options) (crawl.Result, error)
}

// Classifier categorizes crawled pages, escalating uncertain ones to a model.
type Classifier interface {
	Run(ctx context.Context, pages []pipeline.CrawledPage) ([]pipeline.CrawledPage, error)
}

// TaxonomyBuilder derives the project label vocabulary from crawled pages.
type TaxonomyBuilder interface {
	BuildTaxonomy(ctx context.Context, projectID string, pages []pipeline.CrawledPage) (pipeline.Taxonomy, error)
}

// LabelAssigner tags pages with labels drawn from the taxonomy.
type LabelAssigner interface {
	AssignLabels(ctx context.Context, pages []pipeline.CrawledPage, tax pipeline.Taxonomy) ([]pipeline.CrawledPage, error)
}

// Enricher expands a page keyword into tagged questions.
type Enricher interface {
	Enrich(ctx context.Context, keyword, locale string) (enrich.Result, error)
}

// Generator runs the research/writing/QA pipeline over eligible pages.
type Generator interface {
	Run(ctx context.Context, pages []pipeline.CrawledPage, priority []pipeline.PriorityLink) (generate.Summary, error)
}

// Config tunes orchestration behavior.
type Config struct {
	// Locale is passed to the enrichment provider (default "en").
	Locale string
	// EnrichConcurrency bounds concurrent enrichment calls (default 5).
	EnrichConcurrency int
	// DeactivationPoll is how often a running phase re-checks the project's
	// active flag (default 2s).
	DeactivationPoll time.Duration
}

// Orchestrator coordinates phase execution for projects. At most one instance
// of a given phase runs per project at a time.
type Orchestrator struct {
	store      store.Store
	crawler    Crawler
	classifier Classifier
	builder    TaxonomyBuilder
	assigner   LabelAssigner
	enricher   Enricher
	generator  Generator
	emitter    progress.Emitter
	clock      pipeline.Clock
	cfg        Config
	logger     *zap.Logger

	mu      sync.Mutex
	running map[string]map[pipeline.Phase]bool
}

// New assembles an Orchestrator. The emitter may be nil when no progress
// reporting is wanted.
func New(
	st store.Store,
	crawler Crawler,
	classifier Classifier,
	builder TaxonomyBuilder,
	assigner LabelAssigner,
	enricher Enricher,
	generator Generator,
	emitter progress.Emitter,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	if cfg.EnrichConcurrency <= 0 || cfg.EnrichConcurrency > 5 {
		cfg.EnrichConcurrency = 5
	}
	if cfg.DeactivationPoll <= 0 {
		cfg.DeactivationPoll = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      st,
		crawler:    crawler,
		classifier: classifier,
		builder:    builder,
		assigner:   assigner,
		enricher:   enricher,
		generator:  generator,
		emitter:    emitter,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		running:    make(map[string]map[pipeline.Phase]bool),
	}
}

// phaseOutcome carries the counts a phase reports on completion.
type phaseOutcome struct {
	Total  int
	Done   int
	Failed int
}

// RunAll executes every phase in pipeline order, stopping at the first phase
// that fails outright. Phases that complete with per-item failures do not
// stop the chain.
func (o *Orchestrator) RunAll(ctx context.Context, projectID string) error {
	start := o.clock.Now()
	o.emit(progress.Event{ProjectID: projectID, Stage: progress.StageRunStart})
	for _, phase := range pipeline.Phases() {
		if err := o.RunPhase(ctx, projectID, phase); err != nil {
			o.emit(progress.Event{
				ProjectID: projectID,
				Stage:     progress.StageRunError,
				Dur:       o.clock.Now().Sub(start),
				Note:      fmt.Sprintf("%s: %v", phase, err),
			})
			return fmt.Errorf("phase %s: %w", phase, err)
		}
	}
	o.emit(progress.Event{
		ProjectID: projectID,
		Stage:     progress.StageRunDone,
		Dur:       o.clock.Now().Sub(start),
	})
	return nil
}

// RunPhase executes one phase for the project. The phase's persisted state
// moves pending -> in_progress -> completed|failed; a terminal prior state is
// reset to pending first. Returns ErrPhaseRunning if the phase is already
// executing and ErrProjectInactive if the project is deactivated.
func (o *Orchestrator) RunPhase(ctx context.Context, projectID string, phase pipeline.Phase) error {
	if !pipeline.ValidPhase(phase) {
		return fmt.Errorf("unknown phase %q", phase)
	}
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if !project.Active {
		return ErrProjectInactive
	}
	if !o.acquire(projectID, phase) {
		return ErrPhaseRunning
	}
	defer o.release(projectID, phase)

	if err := o.resetIfTerminal(ctx, project, phase); err != nil {
		return err
	}
	started := o.clock.Now()
	if err := o.store.UpdatePhase(ctx, projectID, phase, pipeline.PhaseProgress{
		State:     pipeline.PhaseInProgress,
		StartedAt: &started,
	}); err != nil {
		return fmt.Errorf("mark phase in progress: %w", err)
	}
	o.emit(progress.Event{ProjectID: projectID, Stage: progress.StagePhaseStart, Phase: phase})

	// Deactivating the project cancels the phase context; in-flight work is
	// allowed to finish but nothing new starts.
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go o.watchDeactivation(phaseCtx, projectID, cancel)

	outcome, runErr := o.dispatch(phaseCtx, project, phase)

	finished := o.clock.Now()
	final := pipeline.PhaseProgress{
		Total:      outcome.Total,
		Done:       outcome.Done,
		Failed:     outcome.Failed,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	if runErr != nil {
		final.State = pipeline.PhaseFailed
		final.ErrorText = runErr.Error()
	} else {
		final.State = pipeline.PhaseCompleted
		if outcome.Failed > 0 {
			final.ErrorText = fmt.Sprintf("completed with %d failures", outcome.Failed)
		}
	}
	if err := o.store.UpdatePhase(ctx, projectID, phase, final); err != nil {
		o.logger.Error("persist phase result",
			zap.String("project_id", projectID),
			zap.String("phase", string(phase)),
			zap.Error(err))
	}

	evt := progress.Event{
		ProjectID: projectID,
		Phase:     phase,
		Done:      outcome.Done,
		Failed:    outcome.Failed,
		Total:     outcome.Total,
		Dur:       finished.Sub(started),
	}
	if runErr != nil {
		evt.Stage = progress.StagePhaseError
		evt.Note = runErr.Error()
		o.emit(evt)
		return runErr
	}
	evt.Stage = progress.StagePhaseDone
	o.emit(evt)
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, project pipeline.Project, phase pipeline.Phase) (phaseOutcome, error) {
	switch phase {
	case pipeline.PhaseCrawl:
		return o.runCrawl(ctx, project)
	case pipeline.PhaseClassify:
		return o.runClassify(ctx, project)
	case pipeline.PhaseTaxonomy:
		return o.runTaxonomy(ctx, project)
	case pipeline.PhaseEnrich:
		return o.runEnrich(ctx, project)
	case pipeline.PhaseGenerate:
		return o.runGenerate(ctx, project)
	default:
		return phaseOutcome{}, fmt.Errorf("unknown phase %q", phase)
	}
}

func (o *Orchestrator) runCrawl(ctx context.Context, project pipeline.Project) (phaseOutcome, error) {
	res, err := o.crawler.RunCrawl(ctx, project, crawl.Options{})
	outcome := phaseOutcome{
		Total:  res.PagesCrawled + res.PagesFailed + res.PagesSkipped,
		Done:   res.PagesCrawled + res.PagesSkipped,
		Failed: res.PagesFailed,
	}
	return outcome, err
}

func (o *Orchestrator) runClassify(ctx context.Context, project pipeline.Project) (phaseOutcome, error) {
	pages, err := o.store.ListPages(ctx, project.ID)
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("list pages: %w", err)
	}
	classified, err := o.classifier.Run(ctx, pages)
	if err != nil {
		return phaseOutcome{Total: len(pages)}, fmt.Errorf("classify pages: %w", err)
	}
	return o.persistPages(ctx, project.ID, pipeline.PhaseClassify, classified)
}

func (o *Orchestrator) runTaxonomy(ctx context.Context, project pipeline.Project) (phaseOutcome, error) {
	pages, err := o.store.ListPages(ctx, project.ID)
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("list pages: %w", err)
	}
	tax, err := o.builder.BuildTaxonomy(ctx, project.ID, pages)
	if err != nil {
		return phaseOutcome{Total: len(pages)}, fmt.Errorf("build taxonomy: %w", err)
	}
	if err := o.store.SaveTaxonomy(ctx, tax); err != nil {
		return phaseOutcome{Total: len(pages)}, fmt.Errorf("save taxonomy: %w", err)
	}
	labeled, err := o.assigner.AssignLabels(ctx, pages, tax)
	if err != nil {
		return phaseOutcome{Total: len(pages)}, fmt.Errorf("assign labels: %w", err)
	}
	return o.persistPages(ctx, project.ID, pipeline.PhaseTaxonomy, taxonomy.ComputeRelated(labeled))
}

func (o *Orchestrator) runEnrich(ctx context.Context, project pipeline.Project) (phaseOutcome, error) {
	pages, err := o.store.ListPages(ctx, project.ID)
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("list pages: %w", err)
	}
	var targets []pipeline.CrawledPage
	for _, page := range pages {
		if enrichable(page) {
			targets = append(targets, page)
		}
	}
	outcome := phaseOutcome{Total: len(targets)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EnrichConcurrency)
	for _, page := range targets {
		page := page
		g.Go(func() error {
			keyword := enrichKeyword(page)
			res, err := o.enricher.Enrich(gctx, keyword, o.cfg.Locale)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Failed++
				o.logger.Warn("enrich page",
					zap.String("page_id", page.ID),
					zap.String("keyword", keyword),
					zap.Error(err))
				return nil
			}
			rec := pipeline.PagePAA{
				PageID:     page.ID,
				Keyword:    keyword,
				Locale:     o.cfg.Locale,
				Questions:  res.Questions,
				RawResults: res.Raw,
				EnrichedAt: o.clock.Now(),
			}
			if err := o.store.SavePAA(ctx, rec); err != nil {
				outcome.Failed++
				o.logger.Warn("save enrichment", zap.String("page_id", page.ID), zap.Error(err))
				return nil
			}
			outcome.Done++
			o.step(project.ID, pipeline.PhaseEnrich, outcome)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcome, err
	}
	if ctx.Err() != nil {
		return outcome, ctx.Err()
	}
	return outcome, nil
}

func (o *Orchestrator) runGenerate(ctx context.Context, project pipeline.Project) (phaseOutcome, error) {
	pages, err := o.store.ListPages(ctx, project.ID)
	if err != nil {
		return phaseOutcome{}, fmt.Errorf("list pages: %w", err)
	}
	summary, err := o.generator.Run(ctx, pages, project.Priority)
	outcome := phaseOutcome{
		Total:  summary.Generated + summary.NeedsReview + summary.Failed,
		Done:   summary.Generated + summary.NeedsReview,
		Failed: summary.Failed,
	}
	return outcome, err
}

// persistPages writes back mutated pages, counting per-page persist failures
// without aborting the batch.
func (o *Orchestrator) persistPages(
	ctx context.Context,
	projectID string,
	phase pipeline.Phase,
	pages []pipeline.CrawledPage,
) (phaseOutcome, error) {
	outcome := phaseOutcome{Total: len(pages)}
	for _, page := range pages {
		if err := o.store.UpdatePage(ctx, page); err != nil {
			outcome.Failed++
			o.logger.Warn("persist page",
				zap.String("page_id", page.ID),
				zap.String("phase", string(phase)),
				zap.Error(err))
			continue
		}
		outcome.Done++
		if outcome.Done%10 == 0 {
			o.step(projectID, phase, outcome)
		}
	}
	return outcome, nil
}

func (o *Orchestrator) resetIfTerminal(ctx context.Context, project pipeline.Project, phase pipeline.Phase) error {
	current := project.Phases.Get(phase)
	if current.State != pipeline.PhaseCompleted && current.State != pipeline.PhaseFailed {
		return nil
	}
	err := o.store.UpdatePhase(ctx, project.ID, phase, pipeline.PhaseProgress{State: pipeline.PhasePending})
	if err != nil {
		return fmt.Errorf("reset phase: %w", err)
	}
	return nil
}

// watchDeactivation cancels the phase when the project is switched inactive.
func (o *Orchestrator) watchDeactivation(ctx context.Context, projectID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(o.cfg.DeactivationPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			project, err := o.store.GetProject(ctx, projectID)
			if err != nil {
				continue
			}
			if !project.Active {
				o.logger.Info("project deactivated, stopping phase", zap.String("project_id", projectID))
				cancel()
				return
			}
		}
	}
}

func (o *Orchestrator) acquire(projectID string, phase pipeline.Phase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	phases, ok := o.running[projectID]
	if !ok {
		phases = make(map[pipeline.Phase]bool)
		o.running[projectID] = phases
	}
	if phases[phase] {
		return false
	}
	phases[phase] = true
	return true
}

func (o *Orchestrator) release(projectID string, phase pipeline.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running[projectID], phase)
}

func (o *Orchestrator) step(projectID string, phase pipeline.Phase, outcome phaseOutcome) {
	o.emit(progress.Event{
		ProjectID: projectID,
		Stage:     progress.StagePhaseStep,
		Phase:     phase,
		Done:      outcome.Done,
		Failed:    outcome.Failed,
		Total:     outcome.Total,
	})
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	evt.TS = o.clock.Now()
	o.emitter.Emit(evt)
}

func enrichable(page pipeline.CrawledPage) bool {
	if page.Status != pipeline.FetchSuccess {
		return false
	}
	if enrichKeyword(page) == "" {
		return false
	}
	switch page.Category {
	case pipeline.CategoryCollection, pipeline.CategoryProduct, pipeline.CategoryBlog:
		return true
	default:
		return false
	}
}

// enrichKeyword picks the seed keyword for a page, preferring the H1.
func enrichKeyword(page pipeline.CrawledPage) string {
	if page.H1 != "" {
		return page.H1
	}
	return page.Title
}
