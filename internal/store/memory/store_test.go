package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

func TestSavePageDeduplicatesByNormalizedURL(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()

	first, err := st.SavePage(ctx, pipeline.CrawledPage{
		ID:            "page-1",
		ProjectID:     "proj-1",
		URL:           "https://shop.example/collections/mugs?utm_source=x",
		NormalizedURL: "https://shop.example/collections/mugs",
		Status:        pipeline.FetchSuccess,
	})
	require.NoError(t, err)

	second, err := st.SavePage(ctx, pipeline.CrawledPage{
		ID:            "page-2",
		ProjectID:     "proj-1",
		URL:           "https://shop.example/collections/mugs",
		NormalizedURL: "https://shop.example/collections/mugs",
		Status:        pipeline.FetchSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	pages, err := st.ListPages(ctx, "proj-1")
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestSavePagePreservesClassificationOnRecrawl(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()

	saved, err := st.SavePage(ctx, pipeline.CrawledPage{
		ID:            "page-1",
		ProjectID:     "proj-1",
		URL:           "https://shop.example/collections/mugs",
		NormalizedURL: "https://shop.example/collections/mugs",
		Status:        pipeline.FetchSuccess,
		Title:         "Mugs",
		ContentHash:   "hash-v1",
	})
	require.NoError(t, err)

	saved.Category = pipeline.CategoryCollection
	saved.Confidence = 85
	saved.ClassSource = pipeline.SourceRule
	saved.Labels = []string{"ceramic-mugs"}
	saved.Related = []pipeline.RelatedPage{{PageID: "page-2", URL: "https://shop.example/collections/cups"}}
	require.NoError(t, st.UpdatePage(ctx, saved))

	recrawled, err := st.SavePage(ctx, pipeline.CrawledPage{
		ID:            "page-ignored",
		ProjectID:     "proj-1",
		URL:           "https://shop.example/collections/mugs",
		NormalizedURL: "https://shop.example/collections/mugs",
		Status:        pipeline.FetchSuccess,
		Title:         "Mugs (updated)",
		ContentHash:   "hash-v2",
		FetchedAt:     time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, recrawled.ID)

	got, err := st.GetPage(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mugs (updated)", got.Title)
	assert.Equal(t, "hash-v2", got.ContentHash)
	assert.Equal(t, pipeline.CategoryCollection, got.Category)
	assert.Equal(t, 85, got.Confidence)
	assert.Equal(t, pipeline.SourceRule, got.ClassSource)
	assert.Equal(t, []string{"ceramic-mugs"}, got.Labels)
	require.Len(t, got.Related, 1)
	assert.Equal(t, "page-2", got.Related[0].PageID)
}
