package classify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

func page(url string, sig pipeline.ContentSignals) pipeline.CrawledPage {
	return pipeline.CrawledPage{
		NormalizedURL: url,
		URL:           url,
		Signals:       sig,
		Status:        pipeline.FetchSuccess,
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, TierHigh, TierFor(100))
	assert.Equal(t, TierHigh, TierFor(90), "90 is inclusive toward high")
	assert.Equal(t, TierMedium, TierFor(89))
	assert.Equal(t, TierMedium, TierFor(60), "60 is inclusive toward medium")
	assert.Equal(t, TierLow, TierFor(59))
	assert.Equal(t, TierLow, TierFor(0))
}

func TestClassifyByRules(t *testing.T) {
	t.Parallel()

	t.Run("homepage", func(t *testing.T) {
		t.Parallel()
		res := ClassifyByRules(page("https://shop.example.com/", pipeline.ContentSignals{}))
		assert.Equal(t, pipeline.CategoryHomepage, res.Category)
		assert.Equal(t, TierHigh, TierFor(res.Confidence))
	})

	t.Run("pattern and signals agree is high tier", func(t *testing.T) {
		t.Parallel()
		res := ClassifyByRules(page("https://shop.example.com/products/mug",
			pipeline.ContentSignals{HasCartButton: true, HasPrice: true}))
		assert.Equal(t, pipeline.CategoryProduct, res.Category)
		assert.Equal(t, TierHigh, TierFor(res.Confidence))
	})

	t.Run("pattern only is medium tier", func(t *testing.T) {
		t.Parallel()
		res := ClassifyByRules(page("https://shop.example.com/products/mug", pipeline.ContentSignals{}))
		assert.Equal(t, pipeline.CategoryProduct, res.Category)
		assert.Equal(t, TierMedium, TierFor(res.Confidence))
	})

	t.Run("signals only is medium tier", func(t *testing.T) {
		t.Parallel()
		res := ClassifyByRules(page("https://shop.example.com/mystery-page",
			pipeline.ContentSignals{HasCartButton: true, HasPrice: true}))
		assert.Equal(t, pipeline.CategoryProduct, res.Category)
		assert.Equal(t, TierMedium, TierFor(res.Confidence))
	})

	t.Run("neither is low tier other", func(t *testing.T) {
		t.Parallel()
		res := ClassifyByRules(page("https://shop.example.com/mystery-page", pipeline.ContentSignals{}))
		assert.Equal(t, pipeline.CategoryOther, res.Category)
		assert.Equal(t, TierLow, TierFor(res.Confidence))
	})

	t.Run("collection and blog and policy patterns", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, pipeline.CategoryCollection,
			ClassifyByRules(page("https://s.example.com/collections/mugs", pipeline.ContentSignals{})).Category)
		assert.Equal(t, pipeline.CategoryBlog,
			ClassifyByRules(page("https://s.example.com/blogs/care/mugs", pipeline.ContentSignals{})).Category)
		assert.Equal(t, pipeline.CategoryPolicy,
			ClassifyByRules(page("https://s.example.com/pages/privacy", pipeline.ContentSignals{})).Category)
	})
}

// Agreement never scores below pattern-only.
func TestConfidenceMonotonicity(t *testing.T) {
	t.Parallel()

	agree := ClassifyByRules(page("https://s.example.com/products/mug",
		pipeline.ContentSignals{HasCartButton: true}))
	patternOnly := ClassifyByRules(page("https://s.example.com/products/mug", pipeline.ContentSignals{}))
	assert.GreaterOrEqual(t, agree.Confidence, patternOnly.Confidence)
}

func TestClassifyIdempotent(t *testing.T) {
	t.Parallel()

	c := New(nil, 10, nil)
	p := page("https://s.example.com/collections/mugs", pipeline.ContentSignals{HasProductGrid: true})
	first := c.Classify(p)
	second := c.Classify(first)
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.Confidence, second.Confidence)
}

// fakeProvider returns canned responses and records the prompts it saw.
type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (f *fakeProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestRunEscalatesOnlyUncertainPages(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		response: `[{"url":"https://s.example.com/mystery","category":"blog","confidence":80,"reasoning":"reads like an article"}]`,
	}
	c := New(provider, 10, nil)

	pages := []pipeline.CrawledPage{
		page("https://s.example.com/products/mug", pipeline.ContentSignals{HasCartButton: true}),
		page("https://s.example.com/mystery", pipeline.ContentSignals{}),
	}
	out, err := c.Run(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, pipeline.SourceRule, out[0].ClassSource, "high tier never reaches the model")
	assert.Equal(t, pipeline.CategoryProduct, out[0].Category)

	assert.Equal(t, pipeline.SourceModel, out[1].ClassSource)
	assert.Equal(t, pipeline.CategoryBlog, out[1].Category)
	assert.Equal(t, 80, out[1].Confidence)
	assert.Equal(t, "reads like an article", out[1].ClassReason)

	require.Len(t, provider.prompts, 1)
	assert.NotContains(t, provider.prompts[0], "/products/mug")
	assert.Contains(t, provider.prompts[0], "/mystery")
}

func TestRunBatchesEscalations(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{response: `[]`}
	c := New(provider, 10, nil)

	pages := make([]pipeline.CrawledPage, 25)
	for i := range pages {
		pages[i] = page("https://s.example.com/x/"+strings.Repeat("a", i+1), pipeline.ContentSignals{})
	}
	_, err := c.Run(context.Background(), pages)
	require.NoError(t, err)
	assert.Len(t, provider.prompts, 3, "25 uncertain pages in batches of 10")
}

func TestRunDegradesToRuleResultOnModelFailure(t *testing.T) {
	t.Parallel()

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		c := New(&fakeProvider{err: errors.New("model down")}, 10, nil)
		out, err := c.Run(context.Background(), []pipeline.CrawledPage{
			page("https://s.example.com/mystery", pipeline.ContentSignals{}),
		})
		require.NoError(t, err)
		assert.Equal(t, pipeline.SourceRule, out[0].ClassSource)
		assert.Equal(t, pipeline.CategoryOther, out[0].Category)
	})

	t.Run("unparseable output", func(t *testing.T) {
		t.Parallel()
		c := New(&fakeProvider{response: "sorry, I cannot"}, 10, nil)
		out, err := c.Run(context.Background(), []pipeline.CrawledPage{
			page("https://s.example.com/mystery", pipeline.ContentSignals{}),
		})
		require.NoError(t, err)
		assert.Equal(t, pipeline.SourceRule, out[0].ClassSource)
	})

	t.Run("unknown category", func(t *testing.T) {
		t.Parallel()
		c := New(&fakeProvider{
			response: `[{"url":"https://s.example.com/mystery","category":"landing","confidence":99}]`,
		}, 10, nil)
		out, err := c.Run(context.Background(), []pipeline.CrawledPage{
			page("https://s.example.com/mystery", pipeline.ContentSignals{}),
		})
		require.NoError(t, err)
		assert.Equal(t, pipeline.SourceRule, out[0].ClassSource)
		assert.Equal(t, pipeline.CategoryOther, out[0].Category)
	})

	t.Run("fenced json still parses", func(t *testing.T) {
		t.Parallel()
		c := New(&fakeProvider{
			response: "```json\n[{\"url\":\"https://s.example.com/mystery\",\"category\":\"policy\",\"confidence\":70,\"reasoning\":\"terms text\"}]\n```",
		}, 10, nil)
		out, err := c.Run(context.Background(), []pipeline.CrawledPage{
			page("https://s.example.com/mystery", pipeline.ContentSignals{}),
		})
		require.NoError(t, err)
		assert.Equal(t, pipeline.CategoryPolicy, out[0].Category)
		assert.Equal(t, pipeline.SourceModel, out[0].ClassSource)
	})
}
