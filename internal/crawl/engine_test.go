package crawl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/clock/system"
	"github.com/parkerlabs/sitescribe/internal/hash/sha256"
	"github.com/parkerlabs/sitescribe/internal/id/uuid"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
	storagemem "github.com/parkerlabs/sitescribe/internal/storage/memory"
	storemem "github.com/parkerlabs/sitescribe/internal/store/memory"
)

// fakeFetcher serves canned responses keyed by normalized URL and counts
// how many times each URL was requested.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     map[string]int
}

type fakeResponse struct {
	status int
	body   string
	err    error
	// failFirst makes the first N calls return this response, after which
	// the fetch succeeds with okBody.
	failFirst int
	okBody    string
}

func newFakeFetcher(responses map[string]fakeResponse) *fakeFetcher {
	return &fakeFetcher{responses: responses, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	f.calls[rawURL]++
	n := f.calls[rawURL]
	res, ok := f.responses[rawURL]
	f.mu.Unlock()

	if !ok {
		return Page{URL: rawURL, FinalURL: rawURL, StatusCode: 404}, nil
	}
	if res.failFirst > 0 && n > res.failFirst {
		return Page{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte(res.okBody)}, nil
	}
	if res.err != nil {
		return Page{}, res.err
	}
	status := res.status
	if status == 0 {
		status = 200
	}
	return Page{URL: rawURL, FinalURL: rawURL, StatusCode: status, Body: []byte(res.body)}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func newTestEngine(t *testing.T, fetcher Fetcher, pages *storemem.Store, blobs *storagemem.BlobStore) *Engine {
	t.Helper()
	return NewEngine(
		fetcher, nil, nil,
		pages, blobs,
		sha256.New(), system.New(), uuid.New(),
		EngineConfig{MaxRetries: 3},
		zap.NewNop(),
	)
}

func testProject(cfg pipeline.CrawlConfig) pipeline.Project {
	return pipeline.Project{
		ID:      "proj-1",
		Name:    "Example Shop",
		SiteURL: "https://shop.example.com",
		Crawl:   cfg,
		Active:  true,
	}
}

func TestRunCrawlDiscovery(t *testing.T) {
	t.Parallel()

	home := `<html><head><title>Home</title></head><body><h1>Example Shop</h1>
<a href="/collections/mugs">Mugs</a>
<a href="/pages/about">About</a>
<a href="/cart">Cart</a>
<a href="https://other.example.org/partner">Partner</a>
<p>Welcome to the shop, browse our handmade goods today.</p></body></html>`
	mugs := `<html><head><title>Mugs</title></head><body><h1>Mugs</h1>
<a href="/collections/mugs">Self</a>
<p>All of our ceramic mugs in one place for easy browsing.</p></body></html>`
	about := `<html><head><title>About</title></head><body><h1>About</h1>
<p>We are a small studio making ceramics by hand since 2012.</p></body></html>`

	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/":                 {body: home},
		"https://shop.example.com/collections/mugs": {body: mugs},
		"https://shop.example.com/pages/about":      {body: about},
	})
	pages := storemem.New()
	blobs := storagemem.NewBlobStore()
	engine := newTestEngine(t, fetcher, pages, blobs)

	project := testProject(pipeline.CrawlConfig{
		IncludePatterns: []string{"/collections/"},
		ExcludePatterns: []string{"/cart"},
		Concurrency:     2,
	})

	res, err := engine.RunCrawl(context.Background(), project, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.PagesCrawled)
	assert.Equal(t, 0, res.PagesFailed)
	assert.Equal(t, 0, res.PagesSkipped)

	assert.Equal(t, 0, fetcher.callCount("https://shop.example.com/cart"), "excluded URLs are never fetched")
	assert.Equal(t, 0, fetcher.callCount("https://other.example.org/partner"), "offsite URLs are never fetched")
	assert.Equal(t, 1, fetcher.callCount("https://shop.example.com/collections/mugs"), "dedup prevents refetch")

	stored, err := pages.ListPages(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	byURL := make(map[string]pipeline.CrawledPage, len(stored))
	for _, p := range stored {
		byURL[p.NormalizedURL] = p
	}

	homePage, ok := byURL["https://shop.example.com/"]
	require.True(t, ok)
	assert.Equal(t, pipeline.FetchSuccess, homePage.Status)
	assert.Equal(t, "Home", homePage.Title)
	assert.Equal(t, "Example Shop", homePage.H1)
	assert.NotEmpty(t, homePage.ContentHash)
	assert.NotEmpty(t, homePage.SnapshotURI)
	assert.Contains(t, homePage.Links, "https://shop.example.com/collections/mugs")
	assert.NotContains(t, homePage.Links, "https://shop.example.com/cart")

	assert.Greater(t, blobs.Len(), 0, "snapshots written to the blob store")
}

func TestRunCrawl404IsSkipped(t *testing.T) {
	t.Parallel()

	home := `<html><head><title>Home</title></head><body><h1>Home</h1>
<a href="/gone">Gone</a><p>Minimal homepage body text for the test fixture.</p></body></html>`
	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/":     {body: home},
		"https://shop.example.com/gone": {status: 404},
	})
	pages := storemem.New()
	engine := newTestEngine(t, fetcher, pages, storagemem.NewBlobStore())

	res, err := engine.RunCrawl(context.Background(), testProject(pipeline.CrawlConfig{Concurrency: 1}), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesCrawled)
	assert.Equal(t, 1, res.PagesSkipped)
	assert.Equal(t, 0, res.PagesFailed)
	assert.Equal(t, 1, fetcher.callCount("https://shop.example.com/gone"), "404 is not retried")

	got, err := pages.GetPageByURL(context.Background(), "proj-1", "https://shop.example.com/gone")
	require.NoError(t, err)
	assert.Equal(t, pipeline.FetchSkipped, got.Status)
	assert.Equal(t, 404, got.HTTPStatus)
}

func TestRunCrawlServerErrorRetriesThenFails(t *testing.T) {
	t.Parallel()

	home := `<html><head><title>Home</title></head><body><h1>Home</h1>
<a href="/flaky">Flaky</a><p>Minimal homepage body text for the test fixture.</p></body></html>`
	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/":      {body: home},
		"https://shop.example.com/flaky": {status: 503},
	})
	pages := storemem.New()
	engine := newTestEngine(t, fetcher, pages, storagemem.NewBlobStore())

	res, err := engine.RunCrawl(context.Background(), testProject(pipeline.CrawlConfig{Concurrency: 1}), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesFailed)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 3, fetcher.callCount("https://shop.example.com/flaky"), "initial try plus two retries")

	got, err := pages.GetPageByURL(context.Background(), "proj-1", "https://shop.example.com/flaky")
	require.NoError(t, err)
	assert.Equal(t, pipeline.FetchFailed, got.Status)
	assert.NotEmpty(t, got.FetchError)
}

func TestRunCrawlTransientErrorRecovers(t *testing.T) {
	t.Parallel()

	okBody := `<html><head><title>Recovered</title></head><body><h1>Recovered</h1>
<p>This page came back on the second attempt just fine.</p></body></html>`
	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/": {status: 503, failFirst: 1, okBody: okBody},
	})
	pages := storemem.New()
	engine := newTestEngine(t, fetcher, pages, storagemem.NewBlobStore())

	res, err := engine.RunCrawl(context.Background(), testProject(pipeline.CrawlConfig{Concurrency: 1}), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesCrawled)
	assert.Equal(t, 0, res.PagesFailed)
	assert.Equal(t, 1, res.Retries)
}

func TestRunCrawlRateLimitPausesAndRecovers(t *testing.T) {
	t.Parallel()

	okBody := `<html><head><title>Home</title></head><body><h1>Home</h1>
<p>Served after the rate limiter cooled down for a moment.</p></body></html>`
	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/": {status: 429, failFirst: 1, okBody: okBody},
	})
	pages := storemem.New()
	engine := newTestEngine(t, fetcher, pages, storagemem.NewBlobStore())

	project := testProject(pipeline.CrawlConfig{Concurrency: 1, Delay: time.Millisecond})
	res, err := engine.RunCrawl(context.Background(), project, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PagesCrawled)
	assert.Equal(t, 0, res.PagesFailed)
	assert.GreaterOrEqual(t, res.Retries, 1)
	assert.Equal(t, 2, fetcher.callCount("https://shop.example.com/"))
}

func TestRunCrawlMaxPages(t *testing.T) {
	t.Parallel()

	home := `<html><head><title>Home</title></head><body><h1>Home</h1>
<a href="/p/1">1</a><a href="/p/2">2</a><a href="/p/3">3</a><a href="/p/4">4</a>
<p>Homepage linking to many pages for the cap test.</p></body></html>`
	leaf := `<html><head><title>Leaf</title></head><body><h1>Leaf</h1><p>leaf page body</p></body></html>`
	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/":    {body: home},
		"https://shop.example.com/p/1": {body: leaf},
		"https://shop.example.com/p/2": {body: leaf},
		"https://shop.example.com/p/3": {body: leaf},
		"https://shop.example.com/p/4": {body: leaf},
	})
	pages := storemem.New()
	engine := newTestEngine(t, fetcher, pages, storagemem.NewBlobStore())

	project := testProject(pipeline.CrawlConfig{Concurrency: 1, MaxPages: 2})
	res, err := engine.RunCrawl(context.Background(), project, Options{})
	require.NoError(t, err)

	total := res.PagesCrawled + res.PagesFailed + res.PagesSkipped
	assert.Equal(t, 2, total)
}

func TestRunCrawlFetchOnlySkipsDiscovery(t *testing.T) {
	t.Parallel()

	withLinks := `<html><head><title>Mugs</title></head><body><h1>Mugs</h1>
<a href="/products/new-mug">New</a><p>Collection body text.</p></body></html>`
	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/collections/mugs": {body: withLinks},
		"https://shop.example.com/pages/about":      {body: withLinks},
	})
	pages := storemem.New()
	engine := newTestEngine(t, fetcher, pages, storagemem.NewBlobStore())

	res, err := engine.RunCrawl(context.Background(), testProject(pipeline.CrawlConfig{Concurrency: 2}), Options{
		FetchOnly: []string{
			"https://shop.example.com/collections/mugs",
			"https://shop.example.com/pages/about",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.PagesCrawled)
	assert.Equal(t, 0, fetcher.callCount("https://shop.example.com/products/new-mug"),
		"fetch-only mode must not follow discovered links")
}

func TestRunCrawlInvalidSiteURL(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeFetcher(nil), storemem.New(), storagemem.NewBlobStore())
	project := testProject(pipeline.CrawlConfig{})
	project.SiteURL = "not a url"

	_, err := engine.RunCrawl(context.Background(), project, Options{})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestRunCrawlCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newFakeFetcher(map[string]fakeResponse{
		"https://shop.example.com/": {err: errors.New("should not matter")},
	})
	engine := newTestEngine(t, fetcher, storemem.New(), storagemem.NewBlobStore())

	_, err := engine.RunCrawl(ctx, testProject(pipeline.CrawlConfig{Concurrency: 1}), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
