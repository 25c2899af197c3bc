package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/storage"
	"github.com/parkerlabs/sitescribe/internal/store"
)

// Renderer executes a page with JavaScript enabled.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
}

// EngineConfig carries engine-level knobs independent of per-project config.
type EngineConfig struct {
	MaxRetries  int
	BlobPrefix  string
	ContentType string
}

// Engine turns seed URLs into structured page records. Workers share one
// frontier, one dedup index, and one throttle; pages persist as they
// complete and an interrupted crawl keeps everything already written.
type Engine struct {
	fetcher  Fetcher
	renderer Renderer
	detector JSDetector
	pages    store.PageStore
	blobs    storage.BlobStore
	hasher   pipeline.Hasher
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
	retry    *RetryPolicy
	cfg      EngineConfig
	logger   *zap.Logger
}

// NewEngine constructs an Engine. Renderer and detector may be nil to
// disable headless promotion; blobs may be nil to skip snapshots.
func NewEngine(
	fetcher Fetcher,
	renderer Renderer,
	detector JSDetector,
	pages store.PageStore,
	blobs storage.BlobStore,
	hasher pipeline.Hasher,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher:  fetcher,
		renderer: renderer,
		detector: detector,
		pages:    pages,
		blobs:    blobs,
		hasher:   hasher,
		clock:    clock,
		ids:      ids,
		retry:    NewRetryPolicy(cfg.MaxRetries),
		cfg:      cfg,
		logger:   logger,
	}
}

// Options selects the crawl mode.
type Options struct {
	// FetchOnly lists explicit URLs to fetch without link discovery.
	// Used for targeted recrawls. Empty means a full discovery crawl
	// seeded from the project site URL.
	FetchOnly []string
}

// Result summarizes one crawl run.
type Result struct {
	PagesCrawled int
	PagesFailed  int
	PagesSkipped int
	Retries      int
	Duration     time.Duration
}

// RunCrawl executes a crawl for the project. Cancellation via ctx lets
// in-flight fetches finish but dequeues nothing new.
func (e *Engine) RunCrawl(ctx context.Context, project pipeline.Project, opts Options) (Result, error) {
	start := time.Now()
	root, err := url.Parse(project.SiteURL)
	if err != nil || root.Host == "" {
		return Result{}, fmt.Errorf("parse site url %q: %w", project.SiteURL, ErrInvalidURL)
	}

	cfg := project.Crawl
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	run := &crawlRun{
		engine:    e,
		project:   project,
		cfg:       cfg,
		root:      root,
		frontier:  NewFrontier(),
		dedup:     NewDedupIndex(),
		throttle:  NewThrottle(cfg.Delay),
		fetchOnly: len(opts.FetchOnly) > 0,
	}

	if run.fetchOnly {
		for _, raw := range opts.FetchOnly {
			run.seed(raw)
		}
	} else {
		run.seed(project.SiteURL)
	}

	// Observe cancellation: stop handing out queue items, let workers drain.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			run.frontier.Stop()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			run.work(gctx, ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := run.result()
	res.Duration = time.Since(start)
	if ctx.Err() != nil {
		return res, fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	return res, nil
}

type crawlRun struct {
	engine    *Engine
	project   pipeline.Project
	cfg       pipeline.CrawlConfig
	root      *url.URL
	frontier  *Frontier
	dedup     *DedupIndex
	throttle  *Throttle
	fetchOnly bool

	mu        sync.Mutex
	crawled   int
	failed    int
	skipped   int
	retries   int
	processed int
}

func (r *crawlRun) seed(raw string) {
	normalized, err := NormalizeURL(raw, r.root)
	if err != nil {
		r.engine.logger.Warn("seed url rejected", zap.String("url", raw), zap.Error(err))
		return
	}
	if !r.dedup.MarkIfNew(normalized) {
		return
	}
	r.frontier.Push(normalized, r.priorityFor(normalized))
}

// priorityFor ranks the homepage first, include-pattern matches second,
// and everything else last.
func (r *crawlRun) priorityFor(normalized string) int {
	u, err := url.Parse(normalized)
	if err == nil && (u.Path == "/" || u.Path == "") && u.RawQuery == "" {
		return PrioritySeed
	}
	if matchesAny(r.cfg.IncludePatterns, normalized) {
		return PriorityInclude
	}
	return PriorityOther
}

func (r *crawlRun) work(fetchCtx, crawlCtx context.Context) {
	for {
		item, ok := r.frontier.Pop()
		if !ok {
			return
		}
		r.process(fetchCtx, item)
		r.frontier.Done()
		if r.reachedCap() || crawlCtx.Err() != nil {
			r.frontier.Stop()
			return
		}
	}
}

func (r *crawlRun) reachedCap() bool {
	if r.cfg.MaxPages <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed >= r.cfg.MaxPages
}

func (r *crawlRun) process(ctx context.Context, item Item) {
	e := r.engine
	if matchesAny(r.cfg.ExcludePatterns, item.URL) {
		return
	}
	if err := r.throttle.Wait(ctx); err != nil {
		return
	}

	page, outcome, err := r.fetchWithRetry(ctx, item.URL)
	switch outcome {
	case outcomeSkipped:
		r.record(ctx, item.URL, pipeline.CrawledPage{
			Status:     pipeline.FetchSkipped,
			HTTPStatus: page.StatusCode,
		})
		return
	case outcomeFailed:
		TotalFetchErrors.Inc()
		errText := "fetch failed"
		if err != nil {
			errText = err.Error()
		}
		r.record(ctx, item.URL, pipeline.CrawledPage{
			Status:     pipeline.FetchFailed,
			HTTPStatus: page.StatusCode,
			FetchError: errText,
		})
		return
	}

	page = r.maybeRender(ctx, page)

	finalURL := r.root
	if parsed, perr := url.Parse(page.FinalURL); perr == nil && parsed.Host != "" {
		finalURL = parsed
	}
	extracted, err := Extract(page, finalURL)
	if err != nil {
		e.logger.Warn("extract failed", zap.String("url", item.URL), zap.Error(err))
		r.record(ctx, item.URL, pipeline.CrawledPage{
			Status:     pipeline.FetchFailed,
			HTTPStatus: page.StatusCode,
			FetchError: fmt.Sprintf("extract: %v", err),
		})
		return
	}

	record := pipeline.CrawledPage{
		Status:          pipeline.FetchSuccess,
		HTTPStatus:      page.StatusCode,
		Title:           extracted.Title,
		H1:              extracted.H1,
		MetaDescription: extracted.MetaDescription,
		BodyText:        extracted.BodyText,
		WordCount:       extracted.WordCount,
		Signals:         extracted.Signals,
	}

	if hash, herr := e.hasher.Hash(page.Body); herr == nil {
		record.ContentHash = hash
		record.SnapshotURI = r.snapshot(ctx, hash, page.Body)
	}

	var discovered []string
	if !r.fetchOnly {
		discovered = r.discover(extracted.Links, finalURL)
	}
	record.Links = discovered

	r.record(ctx, item.URL, record)
}

type fetchOutcome int

const (
	outcomeSuccess fetchOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// fetchWithRetry drives the retry state machine for one URL. Transient
// transport errors and 5xx retry with backoff; 404 is a skip; 429 pauses
// the whole crawl before retrying.
func (r *crawlRun) fetchWithRetry(ctx context.Context, rawURL string) (Page, fetchOutcome, error) {
	attempt := r.engine.retry.NewAttempt()
	for {
		TotalFetches.Inc()
		page, err := r.engine.fetcher.Fetch(ctx, rawURL)
		if err == nil {
			switch {
			case page.StatusCode == 404:
				return page, outcomeSkipped, nil
			case page.StatusCode == 429:
				TotalRateLimitHits.Inc()
				newDelay := r.throttle.RateLimited()
				r.engine.logger.Warn("crawl rate limited, pausing",
					zap.String("url", rawURL),
					zap.Duration("new_delay", newDelay),
				)
				err = fmt.Errorf("rate limited (429)")
			case page.StatusCode >= 500:
				err = fmt.Errorf("server error (%d)", page.StatusCode)
			case page.StatusCode >= 400:
				return page, outcomeFailed, fmt.Errorf("client error (%d)", page.StatusCode)
			default:
				return page, outcomeSuccess, nil
			}
		}

		delay, retryable := attempt.Next(err)
		if !retryable {
			return page, outcomeFailed, err
		}
		TotalRetries.Inc()
		r.addRetry()
		if werr := sleepCtx(ctx, delay); werr != nil {
			return page, outcomeFailed, err
		}
		if werr := r.throttle.Wait(ctx); werr != nil {
			return page, outcomeFailed, err
		}
	}
}

func (r *crawlRun) maybeRender(ctx context.Context, page Page) Page {
	e := r.engine
	if e.renderer == nil || e.detector == nil || !e.detector.NeedsJS(page) {
		return page
	}
	rendered, err := e.renderer.Render(ctx, page.URL)
	if err != nil {
		if !errors.Is(err, ErrRendererDisabled) {
			e.logger.Warn("headless promotion failed", zap.String("url", page.URL), zap.Error(err))
		}
		return page
	}
	if len(rendered.Body) == 0 {
		return page
	}
	TotalHeadlessPromotions.Inc()
	if rendered.StatusCode == 0 {
		rendered.StatusCode = page.StatusCode
	}
	return rendered
}

func (r *crawlRun) discover(links []string, base *url.URL) []string {
	kept := make([]string, 0, len(links))
	for _, raw := range links {
		normalized, err := NormalizeURL(raw, base)
		if err != nil {
			continue
		}
		u, perr := url.Parse(normalized)
		if perr != nil || !SameHost(u, r.root) {
			continue
		}
		// Exclude takes precedence over include.
		if matchesAny(r.cfg.ExcludePatterns, normalized) {
			continue
		}
		kept = append(kept, normalized)
		if !r.dedup.MarkIfNew(normalized) {
			continue
		}
		r.frontier.Push(normalized, r.priorityFor(normalized))
	}
	return kept
}

func (r *crawlRun) snapshot(ctx context.Context, hash string, body []byte) string {
	e := r.engine
	if e.blobs == nil {
		return ""
	}
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	path := fmt.Sprintf("%s/%s.html", r.project.ID, hash)
	if prefix != "" {
		path = fmt.Sprintf("%s/%s", prefix, path)
	}
	uri, err := e.blobs.PutObject(ctx, path, e.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("snapshot write failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

func (r *crawlRun) record(ctx context.Context, normalizedURL string, page pipeline.CrawledPage) {
	e := r.engine
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Error("generate page id", zap.Error(err))
		return
	}
	page.ID = id
	page.ProjectID = r.project.ID
	page.URL = normalizedURL
	page.NormalizedURL = normalizedURL
	page.FetchedAt = e.clock.Now()

	if _, err := e.pages.SavePage(ctx, page); err != nil {
		e.logger.Error("persist page failed",
			zap.String("project_id", r.project.ID),
			zap.String("url", normalizedURL),
			zap.Error(err),
		)
		r.mu.Lock()
		r.failed++
		r.processed++
		r.mu.Unlock()
		return
	}
	TotalPagesPersisted.Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	switch page.Status {
	case pipeline.FetchSuccess:
		r.crawled++
	case pipeline.FetchSkipped:
		r.skipped++
	default:
		r.failed++
	}
}

func (r *crawlRun) addRetry() {
	r.mu.Lock()
	r.retries++
	r.mu.Unlock()
}

func (r *crawlRun) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		PagesCrawled: r.crawled,
		PagesFailed:  r.failed,
		PagesSkipped: r.skipped,
		Retries:      r.retries,
	}
}

// matchesAny reports whether the URL contains any of the patterns.
// Patterns are plain substrings matched against the normalized URL.
func matchesAny(patterns []string, normalizedURL string) bool {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(normalizedURL, p) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
