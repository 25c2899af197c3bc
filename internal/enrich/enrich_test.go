package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// fakeSearchProvider serves canned results keyed by query.
type fakeSearchProvider struct {
	mu      sync.Mutex
	results map[string]SearchResult
	err     error
	queries []string
}

func (f *fakeSearchProvider) Search(_ context.Context, query, _ string) (SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return SearchResult{}, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearchProvider) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// memCache is a map-backed Cache for tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string]cachedEnrichment
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]cachedEnrichment)}
}

func (c *memCache) Get(_ context.Context, keyword, locale string) ([]pipeline.Question, []string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[cacheKey(keyword, locale)]
	return entry.Questions, entry.Raw, ok
}

func (c *memCache) Set(_ context.Context, keyword, locale string, questions []pipeline.Question, raw []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(keyword, locale)] = cachedEnrichment{Questions: questions, Raw: raw}
}

func TestEnrichDirectWithFanOut(t *testing.T) {
	t.Parallel()

	provider := &fakeSearchProvider{results: map[string]SearchResult{
		"ceramic mugs": {Questions: []string{
			"Are ceramic mugs microwave safe?",
			"How do you clean ceramic mugs?",
		}},
		"Are ceramic mugs microwave safe?": {Questions: []string{
			"Can ceramic mugs go in the oven?",
		}},
		"How do you clean ceramic mugs?": {Questions: []string{
			"How do you remove coffee stains from mugs?",
			"Are ceramic mugs microwave safe?", // duplicate across queries
		}},
	}}

	e := New(provider, newMemCache(), Config{FanOutTop: 4, Concurrency: 5}, nil)
	res, err := e.Enrich(context.Background(), "ceramic mugs", "en")
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	texts := make([]string, 0, len(res.Questions))
	sources := make(map[string]pipeline.QuestionSource)
	for _, q := range res.Questions {
		texts = append(texts, q.Text)
		sources[q.Text] = q.Source
	}

	assert.Len(t, texts, 4, "duplicate dropped")
	assert.Equal(t, pipeline.SourceDirect, sources["Are ceramic mugs microwave safe?"])
	assert.Equal(t, pipeline.SourceFanOut, sources["Can ceramic mugs go in the oven?"])

	// Direct query plus one fan-out call per direct question.
	assert.Equal(t, 3, provider.queryCount())
}

func TestEnrichNoDuplicatesAndCapped(t *testing.T) {
	t.Parallel()

	many := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		many = append(many, fmt.Sprintf("Question number %d about mugs?", i))
	}
	provider := &fakeSearchProvider{results: map[string]SearchResult{
		"mugs": {Questions: many},
	}}

	e := New(provider, NopCache{}, Config{}, nil)
	res, err := e.Enrich(context.Background(), "mugs", "en")
	require.NoError(t, err)

	assert.LessOrEqual(t, len(res.Questions), MaxQuestions)
	seen := make(map[string]bool)
	for _, q := range res.Questions {
		key := strings.ToLower(q.Text)
		assert.False(t, seen[key], "duplicate question %q", q.Text)
		seen[key] = true
	}
}

func TestEnrichFallbackToRelatedSearches(t *testing.T) {
	t.Parallel()

	provider := &fakeSearchProvider{results: map[string]SearchResult{
		"airtight coffee containers": {
			Questions: nil,
			RelatedSearches: []string{
				"best airtight coffee containers",
				"airtight coffee container with scoop",
				"garden hose fittings", // irrelevant
			},
		},
	}}

	e := New(provider, NopCache{}, Config{}, nil)
	res, err := e.Enrich(context.Background(), "airtight coffee containers", "en")
	require.NoError(t, err)

	require.NotEmpty(t, res.Questions)
	for _, q := range res.Questions {
		assert.Equal(t, pipeline.SourceFallback, q.Source,
			"every fallback-path question must be tagged related-fallback")
		assert.NotEqual(t, "garden hose fittings", q.Text)
	}
	// Fallback path never fans out.
	assert.Equal(t, 1, provider.queryCount())
}

func TestEnrichCacheHitSkipsProvider(t *testing.T) {
	t.Parallel()

	cache := newMemCache()
	provider := &fakeSearchProvider{results: map[string]SearchResult{
		"mugs": {Questions: []string{"Are mugs dishwasher safe?"}},
	}}
	e := New(provider, cache, Config{}, nil)

	first, err := e.Enrich(context.Background(), "mugs", "en")
	require.NoError(t, err)
	require.False(t, first.FromCache)
	callsAfterFirst := provider.queryCount()

	second, err := e.Enrich(context.Background(), "mugs", "en")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Questions, second.Questions)
	assert.Equal(t, callsAfterFirst, provider.queryCount(), "cache hit must not call the provider")
}

func TestEnrichTagsIntent(t *testing.T) {
	t.Parallel()

	provider := &fakeSearchProvider{results: map[string]SearchResult{
		"mugs": {Questions: []string{
			"How much do good ceramic mugs cost?",
			"Ceramic vs porcelain mugs: what is the difference?",
			"How do you clean a ceramic mug?",
		}},
	}}
	e := New(provider, NopCache{}, Config{FanOutTop: 3}, nil)
	res, err := e.Enrich(context.Background(), "mugs", "en")
	require.NoError(t, err)

	byText := make(map[string]pipeline.Intent)
	for _, q := range res.Questions {
		byText[q.Text] = q.Intent
	}
	assert.Equal(t, pipeline.IntentBuying, byText["How much do good ceramic mugs cost?"])
	assert.Equal(t, pipeline.IntentComparison, byText["Ceramic vs porcelain mugs: what is the difference?"])
	assert.Equal(t, pipeline.IntentCare, byText["How do you clean a ceramic mug?"])
}

func TestEnrichProviderError(t *testing.T) {
	t.Parallel()

	e := New(&fakeSearchProvider{err: errors.New("provider down")}, NopCache{}, Config{}, nil)
	_, err := e.Enrich(context.Background(), "mugs", "en")
	assert.Error(t, err)

	_, err = e.Enrich(context.Background(), "   ", "en")
	assert.Error(t, err)
}

func TestClassifyIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		question string
		want     pipeline.Intent
	}{
		{"Where can I buy trail running shoes?", pipeline.IntentBuying},
		{"How much does a rain jacket cost?", pipeline.IntentBuying},
		{"Gore-Tex vs eVent: which is better?", pipeline.IntentComparison},
		{"How do you wash a down jacket?", pipeline.IntentCare},
		{"How long does a sleeping bag last?", pipeline.IntentCare},
		{"How to use trekking poles?", pipeline.IntentUsage},
		{"What is the warranty policy?", pipeline.IntentOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyIntent(tt.question), "question %q", tt.question)
	}
}

func TestRelevanceScore(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, RelevanceScore("airtight coffee containers", "best airtight coffee containers"))
	assert.InDelta(t, 0.666, RelevanceScore("airtight coffee containers", "coffee container reviews"), 0.01)
	assert.Equal(t, 0.0, RelevanceScore("airtight coffee containers", "garden hose fittings"))
	assert.GreaterOrEqual(t, RelevanceScore("coffee containers", "airtight coffee container with scoop"), RelevanceThreshold)
}
