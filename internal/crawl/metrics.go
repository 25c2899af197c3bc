package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalFetches tracks the number of HTTP requests dispatched by the crawl engine.
	TotalFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitescribe_crawl_fetches_total",
		Help: "The total number of HTTP requests sent by the crawl engine.",
	})
	// TotalFetchErrors tracks the number of fetches that ended in an error after retries.
	TotalFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitescribe_crawl_fetch_errors_total",
		Help: "The total number of failed fetches after retry exhaustion.",
	})
	// TotalRetries tracks individual retry attempts.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitescribe_crawl_retries_total",
		Help: "The total number of fetch retries.",
	})
	// TotalRateLimitHits tracks 429 responses that paused the crawl.
	TotalRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitescribe_crawl_rate_limit_hits_total",
		Help: "The total number of times a crawl was rate limited.",
	})
	// TotalPagesPersisted tracks page records written by the crawl engine.
	TotalPagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitescribe_crawl_pages_persisted_total",
		Help: "The total number of page records persisted.",
	})
	// TotalHeadlessPromotions tracks fetches escalated to the JS renderer.
	TotalHeadlessPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitescribe_crawl_headless_promotions_total",
		Help: "The total number of fetches promoted to headless rendering.",
	})
)
