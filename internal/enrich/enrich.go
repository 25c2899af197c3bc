package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// MaxQuestions caps the retained question set per enrichment.
const MaxQuestions = 20

// RelevanceThreshold is the minimum score for a related search to be kept
// on the fallback path.
const RelevanceThreshold = 0.70

// Config carries the enrichment knobs.
type Config struct {
	// FanOutTop is how many direct questions are re-queried (3-5 useful).
	FanOutTop int
	// Concurrency bounds simultaneous provider calls.
	Concurrency  int
	MaxQuestions int
}

// Result is the outcome of enriching one keyword.
type Result struct {
	Questions []pipeline.Question
	Raw       []string
	FromCache bool
}

// Enricher expands a seed keyword into tagged questions.
type Enricher struct {
	provider SearchProvider
	cache    Cache
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Enricher.
func New(provider SearchProvider, cache Cache, cfg Config, logger *zap.Logger) *Enricher {
	if cfg.FanOutTop <= 0 {
		cfg.FanOutTop = 4
	}
	if cfg.FanOutTop > 5 {
		cfg.FanOutTop = 5
	}
	if cfg.Concurrency <= 0 || cfg.Concurrency > 5 {
		cfg.Concurrency = 5
	}
	if cfg.MaxQuestions <= 0 || cfg.MaxQuestions > MaxQuestions {
		cfg.MaxQuestions = MaxQuestions
	}
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{provider: provider, cache: cache, cfg: cfg, logger: logger}
}

// Enrich expands the seed keyword: a direct query for its questions, a
// bounded fan-out over the top questions for nested ones, and if the direct
// query yields nothing, a relevance-filtered fall back to related searches.
func (e *Enricher) Enrich(ctx context.Context, keyword, locale string) (Result, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return Result{}, fmt.Errorf("empty keyword")
	}

	if questions, raw, ok := e.cache.Get(ctx, keyword, locale); ok {
		return Result{Questions: questions, Raw: raw, FromCache: true}, nil
	}

	direct, err := e.provider.Search(ctx, keyword, locale)
	if err != nil {
		return Result{}, fmt.Errorf("direct search %q: %w", keyword, err)
	}

	var tagged []pipeline.Question
	raw := append([]string(nil), direct.Questions...)

	if len(direct.Questions) > 0 {
		for _, q := range direct.Questions {
			tagged = append(tagged, pipeline.Question{Text: q, Source: pipeline.SourceDirect})
		}
		nested, nestedRaw := e.fanOut(ctx, direct.Questions, locale)
		tagged = append(tagged, nested...)
		raw = append(raw, nestedRaw...)
	} else {
		// No direct questions at all: treat related searches as candidate
		// questions, gated by relevance to the seed keyword.
		raw = append(raw, direct.RelatedSearches...)
		for _, rs := range direct.RelatedSearches {
			if RelevanceScore(keyword, rs) < RelevanceThreshold {
				continue
			}
			tagged = append(tagged, pipeline.Question{Text: rs, Source: pipeline.SourceFallback})
		}
	}

	questions := dedupeQuestions(tagged, e.cfg.MaxQuestions)
	for i := range questions {
		questions[i].Intent = ClassifyIntent(questions[i].Text)
	}

	e.cache.Set(ctx, keyword, locale, questions, raw)
	return Result{Questions: questions, Raw: raw}, nil
}

// fanOut re-queries the top direct questions to surface nested ones.
// Individual failures are logged and skipped; fan-out is best-effort.
func (e *Enricher) fanOut(ctx context.Context, direct []string, locale string) ([]pipeline.Question, []string) {
	top := direct
	if len(top) > e.cfg.FanOutTop {
		top = top[:e.cfg.FanOutTop]
	}

	var mu sync.Mutex
	found := make([][]string, len(top))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, q := range top {
		g.Go(func() error {
			res, err := e.provider.Search(gctx, q, locale)
			if err != nil {
				e.logger.Warn("fan-out query failed", zap.String("question", q), zap.Error(err))
				return nil
			}
			mu.Lock()
			found[i] = res.Questions
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var tagged []pipeline.Question
	var raw []string
	for _, questions := range found {
		for _, q := range questions {
			tagged = append(tagged, pipeline.Question{Text: q, Source: pipeline.SourceFanOut})
			raw = append(raw, q)
		}
	}
	return tagged, raw
}

// dedupeQuestions drops exact duplicate question texts (case-insensitive),
// keeping the first occurrence, and caps the result.
func dedupeQuestions(questions []pipeline.Question, limit int) []pipeline.Question {
	seen := make(map[string]bool, len(questions))
	out := make([]pipeline.Question, 0, len(questions))
	for _, q := range questions {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		q.Text = text
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// RelevanceScore measures how much of the seed keyword's vocabulary the
// candidate covers, in [0,1].
func RelevanceScore(seed, candidate string) float64 {
	seedTokens := tokenize(seed)
	if len(seedTokens) == 0 {
		return 0
	}
	candTokens := make(map[string]bool)
	for _, t := range tokenize(candidate) {
		candTokens[t] = true
	}
	matched := 0
	for _, t := range seedTokens {
		if candTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(seedTokens))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,!?"'()`)
		if f != "" {
			out = append(out, singular(f))
		}
	}
	return out
}

// singular knocks off a plural s so "containers" matches "container".
func singular(t string) string {
	if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		return strings.TrimSuffix(t, "s")
	}
	return t
}
