// Package llm provides access to the natural-language generation service.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrNotConfigured indicates no API key is available for the provider.
var ErrNotConfigured = errors.New("llm provider not configured")

// Provider is the interface for text generation backends.
type Provider interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config captures the HTTP client knobs for the OpenAI-compatible provider.
type Config struct {
	BaseURL       string
	Model         string
	APIKeyEnv     string
	Timeout       time.Duration
	MaxConcurrent int
}

// HTTPProvider calls an OpenAI-compatible chat completions endpoint.
// Concurrent calls are bounded by a weighted semaphore.
type HTTPProvider struct {
	cfg    Config
	apiKey string
	client *http.Client
	sem    *semaphore.Weighted
}

// New constructs an HTTPProvider from config, reading the key from the environment.
func New(cfg Config) *HTTPProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &HTTPProvider{
		cfg:    cfg,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// IsConfigured checks if the API key is set.
func (p *HTTPProvider) IsConfigured() bool {
	return p.apiKey != ""
}

// Generate sends a prompt and returns the raw completion text.
func (p *HTTPProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if p.apiKey == "" {
		return "", ErrNotConfigured
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire llm slot: %w", err)
	}
	defer p.sem.Release(1)

	body := map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": 0.3,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("no choices in llm response")
	}
	return result.Choices[0].Message.Content, nil
}
