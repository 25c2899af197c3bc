// Package enrich expands a seed keyword into a filtered, intent-tagged set
// of real user questions via search-result fan-out.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
)

// SearchResult is one provider response for a query.
type SearchResult struct {
	Questions       []string
	RelatedSearches []string
}

// SearchProvider returns "people also ask"-style questions and related
// searches for a query.
type SearchProvider interface {
	Search(ctx context.Context, query, locale string) (SearchResult, error)
}

// ProviderConfig configures the HTTP search provider.
type ProviderConfig struct {
	BaseURL   string
	APIKeyEnv string
	Timeout   time.Duration
	// MaxAttempts bounds retries on rate-limit responses.
	MaxAttempts int
}

// HTTPSearchProvider talks to a SERP data API over HTTP. Rate-limit
// responses are retried with exponential backoff before surfacing.
type HTTPSearchProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPSearchProvider constructs the provider.
func NewHTTPSearchProvider(cfg ProviderConfig, logger *zap.Logger) *HTTPSearchProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSearchProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type serpResponse struct {
	RelatedQuestions []struct {
		Question string `json:"question"`
	} `json:"related_questions"`
	RelatedSearches []struct {
		Query string `json:"query"`
	} `json:"related_searches"`
}

// Search queries the provider for one keyword.
func (p *HTTPSearchProvider) Search(ctx context.Context, query, locale string) (SearchResult, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			p.logger.Debug("search provider backoff",
				zap.String("query", query),
				zap.Duration("delay", backoff),
			)
			select {
			case <-ctx.Done():
				return SearchResult{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		res, retryable, err := p.doSearch(ctx, query, locale)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable {
			return SearchResult{}, err
		}
	}
	return SearchResult{}, fmt.Errorf("search provider exhausted retries: %w", lastErr)
}

func (p *HTTPSearchProvider) doSearch(ctx context.Context, query, locale string) (SearchResult, bool, error) {
	q := url.Values{}
	q.Set("q", query)
	if locale != "" {
		q.Set("hl", locale)
	}
	if key := os.Getenv(p.cfg.APIKeyEnv); key != "" {
		q.Set("api_key", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return SearchResult{}, false, fmt.Errorf("build search request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return SearchResult{}, true, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return SearchResult{}, true, fmt.Errorf("read search response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return SearchResult{}, true, fmt.Errorf("search provider rate limited")
	case resp.StatusCode >= 500:
		return SearchResult{}, true, fmt.Errorf("search provider error (%d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return SearchResult{}, false, fmt.Errorf("search provider status %d", resp.StatusCode)
	}

	var parsed serpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SearchResult{}, false, fmt.Errorf("decode search response: %w", err)
	}

	out := SearchResult{}
	for _, rq := range parsed.RelatedQuestions {
		if rq.Question != "" {
			out.Questions = append(out.Questions, rq.Question)
		}
	}
	for _, rs := range parsed.RelatedSearches {
		if rs.Query != "" {
			out.RelatedSearches = append(out.RelatedSearches, rs.Query)
		}
	}
	return out, false, nil
}
