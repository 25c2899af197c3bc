package generate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
	"github.com/parkerlabs/sitescribe/internal/store"
)

// Config bounds the generation worker pools.
type Config struct {
	// Concurrency bounds simultaneous page generations.
	Concurrency int
	// ResearchConcurrency is the stricter cap for the research provider.
	ResearchConcurrency int
}

// Summary counts the outcomes of one generation run.
type Summary struct {
	Generated   int
	NeedsReview int
	Failed      int
}

// Generator drives the research -> writing -> QA pipeline per page. Work is
// partitioned by page id: each page is owned by exactly one worker.
type Generator struct {
	researcher  *Researcher
	writer      *Writer
	qa          *QA
	contents    store.ContentStore
	paas        store.PAAStore
	clock       pipeline.Clock
	cfg         Config
	logger      *zap.Logger
	researchSem chan struct{}
}

// NewGenerator constructs a Generator.
func NewGenerator(
	researcher *Researcher,
	writer *Writer,
	qa *QA,
	contents store.ContentStore,
	paas store.PAAStore,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Generator {
	if cfg.Concurrency <= 0 || cfg.Concurrency > 5 {
		cfg.Concurrency = 5
	}
	if cfg.ResearchConcurrency <= 0 || cfg.ResearchConcurrency > 3 {
		cfg.ResearchConcurrency = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		researcher:  researcher,
		writer:      writer,
		qa:          qa,
		contents:    contents,
		paas:        paas,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
		researchSem: make(chan struct{}, cfg.ResearchConcurrency),
	}
}

// Run generates content for every eligible page. Per-page failures are
// recorded and counted, never fatal to the batch.
func (g *Generator) Run(ctx context.Context, pages []pipeline.CrawledPage, priority []pipeline.PriorityLink) (Summary, error) {
	known := knownURLSet(pages, priority)

	var mu sync.Mutex
	var sum Summary

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for _, page := range pages {
		if !eligible(page) {
			continue
		}
		eg.Go(func() error {
			status, err := g.generatePage(gctx, page, known, priority)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				sum.Failed++
				g.logger.Error("page generation failed",
					zap.String("page_id", page.ID),
					zap.String("url", page.NormalizedURL),
					zap.Error(err),
				)
			case status == pipeline.ContentNeedsReview:
				sum.NeedsReview++
			default:
				sum.Generated++
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}

// generatePage runs the full three-phase pipeline for one page.
func (g *Generator) generatePage(ctx context.Context, page pipeline.CrawledPage, known map[string]bool, priority []pipeline.PriorityLink) (pipeline.ContentStatus, error) {
	paa, err := g.paas.GetPAA(ctx, page.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load enrichment: %w", err)
	}

	brief, err := g.research(ctx, page, paa)
	if err != nil {
		return "", err
	}
	if err := g.contents.SaveBrief(ctx, brief); err != nil {
		return "", fmt.Errorf("save brief: %w", err)
	}

	return g.writeAndQA(ctx, page, brief, known, priority)
}

// research runs under the stricter research semaphore.
func (g *Generator) research(ctx context.Context, page pipeline.CrawledPage, paa pipeline.PagePAA) (pipeline.ContentBrief, error) {
	select {
	case g.researchSem <- struct{}{}:
		defer func() { <-g.researchSem }()
	case <-ctx.Done():
		return pipeline.ContentBrief{}, ctx.Err()
	}
	return g.researcher.BuildBrief(ctx, page, paa)
}

// writeAndQA drafts the page and runs QA. Hard blockers send the draft to
// needs_review untouched; soft issues get one minimal fix pass.
func (g *Generator) writeAndQA(ctx context.Context, page pipeline.CrawledPage, brief pipeline.ContentBrief, known map[string]bool, priority []pipeline.PriorityLink) (pipeline.ContentStatus, error) {
	draft, err := g.writer.WriteDraft(ctx, page, brief, priority)
	if err != nil {
		return "", err
	}
	if err := g.contents.SaveContent(ctx, draft); err != nil {
		return "", fmt.Errorf("save draft: %w", err)
	}

	knownURL := func(href string) bool { return lookupURL(known, href) }
	hard, soft := g.qa.Validate(draft, knownURL)

	if len(hard) == 0 && len(soft) > 0 {
		fixed, ok := g.qa.FixSoft(ctx, draft, soft)
		if ok {
			fixed.FixHistory = append(draft.FixHistory, soft...)
			draft = fixed
			hard, soft = g.qa.Validate(draft, knownURL)
		}
	}

	draft.HardBlockers = hard
	draft.SoftIssues = soft
	draft.UpdatedAt = g.clock.Now()
	if len(hard) > 0 {
		draft.Status = pipeline.ContentNeedsReview
	} else {
		draft.Status = pipeline.ContentValidated
	}

	if err := g.contents.SaveContent(ctx, draft); err != nil {
		return "", fmt.Errorf("save content: %w", err)
	}
	return draft.Status, nil
}

// Regenerate re-runs Writing and QA for one page, reusing the existing
// brief. The previous QA failure reasons are carried forward as exclusions;
// Research is never redone.
func (g *Generator) Regenerate(ctx context.Context, page pipeline.CrawledPage, allPages []pipeline.CrawledPage, priority []pipeline.PriorityLink) (pipeline.ContentStatus, error) {
	brief, err := g.contents.GetBrief(ctx, page.ID)
	if err != nil {
		return "", fmt.Errorf("load brief for regeneration: %w", err)
	}

	prev, err := g.contents.GetContent(ctx, page.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load previous content: %w", err)
	}
	if err == nil {
		brief.Exclusions = appendUnique(brief.Exclusions, prev.HardBlockers)
		brief.Exclusions = appendUnique(brief.Exclusions, prev.SoftIssues)
		if err := g.contents.SaveBrief(ctx, brief); err != nil {
			return "", fmt.Errorf("save brief exclusions: %w", err)
		}
		// Regeneration resets the state machine to draft before redrafting.
		prev.Status = pipeline.ContentDraft
		prev.UpdatedAt = g.clock.Now()
		if err := g.contents.SaveContent(ctx, prev); err != nil {
			return "", fmt.Errorf("reset content to draft: %w", err)
		}
	}

	return g.writeAndQA(ctx, page, brief, knownURLSet(allPages, priority), priority)
}

func eligible(page pipeline.CrawledPage) bool {
	if page.Status != pipeline.FetchSuccess {
		return false
	}
	switch page.Category {
	case pipeline.CategoryCollection, pipeline.CategoryProduct, pipeline.CategoryBlog:
		return true
	default:
		return false
	}
}

// knownURLSet indexes the project's pages by normalized URL and by path, so
// both absolute and relative internal links validate. Configured priority
// links are trusted as internal destinations even when the crawl has not
// reached them yet.
func knownURLSet(pages []pipeline.CrawledPage, priority []pipeline.PriorityLink) map[string]bool {
	known := make(map[string]bool, len(pages)*2+len(priority))
	addKnown := func(raw string) {
		known[raw] = true
		if u, err := url.Parse(raw); err == nil && u.Path != "" {
			known[u.Path] = true
		}
	}
	for _, p := range pages {
		if p.Status != pipeline.FetchSuccess {
			continue
		}
		addKnown(p.NormalizedURL)
	}
	for _, l := range priority {
		addKnown(l.URL)
	}
	return known
}

func lookupURL(known map[string]bool, href string) bool {
	if known[href] {
		return true
	}
	trimmed := strings.TrimRight(href, "/")
	if trimmed != "" && known[trimmed] {
		return true
	}
	if u, err := url.Parse(href); err == nil && u.Path != "" && known[u.Path] {
		return true
	}
	return false
}

func appendUnique(dst []string, add []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range add {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
