package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

func page(url, hash string) pipeline.CrawledPage {
	return pipeline.CrawledPage{NormalizedURL: url, ContentHash: hash}
}

func TestDiffCrawls(t *testing.T) {
	t.Parallel()

	t.Run("ClassifiesEveryBucket", func(t *testing.T) {
		t.Parallel()
		before := []pipeline.CrawledPage{
			page("https://shop.example/a", "h1"),
			page("https://shop.example/b", "h2"),
			page("https://shop.example/gone", "h3"),
		}
		after := []pipeline.CrawledPage{
			page("https://shop.example/a", "h1"),
			page("https://shop.example/b", "h2-edited"),
			page("https://shop.example/new", "h4"),
		}

		delta := DiffCrawls(before, after)
		assert.Equal(t, []string{"https://shop.example/new"}, delta.New)
		assert.Equal(t, []string{"https://shop.example/gone"}, delta.Removed)
		assert.Equal(t, []string{"https://shop.example/b"}, delta.Changed)
		assert.Equal(t, []string{"https://shop.example/a"}, delta.Unchanged)

		summary := delta.Summary()
		assert.Equal(t, pipeline.ChangeSummary{New: 1, Removed: 1, Changed: 1, Unchanged: 1}, summary)
	})

	t.Run("FirstCrawlIsAllNew", func(t *testing.T) {
		t.Parallel()
		after := []pipeline.CrawledPage{page("https://shop.example/a", "h1")}
		delta := DiffCrawls(nil, after)
		assert.Len(t, delta.New, 1)
		assert.Empty(t, delta.Removed)
	})

	t.Run("IdenticalCrawlsAreUnchanged", func(t *testing.T) {
		t.Parallel()
		pages := []pipeline.CrawledPage{
			page("https://shop.example/a", "h1"),
			page("https://shop.example/b", "h2"),
		}
		delta := DiffCrawls(pages, pages)
		assert.Len(t, delta.Unchanged, 2)
		assert.False(t, delta.Summary().Significant())
	})
}

func TestChangeSignificance(t *testing.T) {
	t.Parallel()

	t.Run("SixNewOfFortyIsSignificant", func(t *testing.T) {
		t.Parallel()
		var before, after []pipeline.CrawledPage
		for i := 0; i < 40; i++ {
			p := page(fmt.Sprintf("https://shop.example/p%d", i), fmt.Sprintf("h%d", i))
			before = append(before, p)
			after = append(after, p)
		}
		for i := 0; i < 6; i++ {
			after = append(after, page(fmt.Sprintf("https://shop.example/new%d", i), "hn"))
		}

		summary := DiffCrawls(before, after).Summary()
		assert.Equal(t, 6, summary.New)
		assert.Equal(t, 40, summary.Unchanged)
		assert.True(t, summary.Significant())
	})

	t.Run("TenPercentChangedIsSignificant", func(t *testing.T) {
		t.Parallel()
		summary := pipeline.ChangeSummary{Changed: 4, Unchanged: 36}
		assert.True(t, summary.Significant())
	})

	t.Run("SmallDeltaIsNotSignificant", func(t *testing.T) {
		t.Parallel()
		summary := pipeline.ChangeSummary{New: 2, Changed: 1, Unchanged: 50}
		assert.False(t, summary.Significant())
	})
}
