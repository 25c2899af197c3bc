// Package taxonomy derives a project-wide label vocabulary, assigns labels
// to pages from it, and builds the label-overlap related-page graph.
package taxonomy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Taxonomy size bounds.
const (
	MinLabels = 10
	MaxLabels = 30
)

// Labels that describe the store rather than its topics.
var genericLabels = map[string]bool{
	"products": true, "product": true, "items": true, "item": true,
	"shop": true, "store": true, "collection": true, "collections": true,
	"pages": true, "page": true, "blog": true, "blogs": true,
	"misc": true, "other": true, "general": true, "stuff": true,
	"things": true, "content": true, "info": true, "home": true,
}

var labelChars = regexp.MustCompile(`[^a-z0-9-]+`)

// Builder generates the project taxonomy with a single model pass over all
// page titles and headings.
type Builder struct {
	provider llm.Provider
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(provider llm.Provider, clock pipeline.Clock, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{provider: provider, clock: clock, logger: logger}
}

type taxonomyResponse struct {
	Labels []string `json:"labels"`
}

// BuildTaxonomy proposes a bounded vocabulary of lowercase, hyphenated,
// non-generic topical labels from the crawled pages. Regenerated from
// scratch each cycle, never merged with a previous taxonomy.
func (b *Builder) BuildTaxonomy(ctx context.Context, projectID string, pages []pipeline.CrawledPage) (pipeline.Taxonomy, error) {
	if b.provider == nil {
		return pipeline.Taxonomy{}, fmt.Errorf("taxonomy model provider not configured")
	}
	if len(pages) == 0 {
		return pipeline.Taxonomy{}, fmt.Errorf("no pages to build taxonomy from")
	}

	raw, err := b.provider.Generate(ctx, buildPrompt(pages), 1024)
	if err != nil {
		return pipeline.Taxonomy{}, fmt.Errorf("taxonomy generation: %w", err)
	}

	var resp taxonomyResponse
	if derr := llm.DecodeJSON(raw, &resp); derr != nil {
		// Some models answer with a bare array.
		var bare []string
		if aerr := llm.DecodeJSON(raw, &bare); aerr != nil {
			return pipeline.Taxonomy{}, fmt.Errorf("parse taxonomy response: %w", derr)
		}
		resp.Labels = bare
	}

	labels := SanitizeLabels(resp.Labels)
	if len(labels) == 0 {
		return pipeline.Taxonomy{}, fmt.Errorf("taxonomy response contained no usable labels")
	}
	if len(labels) < MinLabels {
		b.logger.Warn("taxonomy smaller than expected",
			zap.String("project_id", projectID),
			zap.Int("labels", len(labels)),
		)
	}
	if len(labels) > MaxLabels {
		labels = labels[:MaxLabels]
	}

	return pipeline.Taxonomy{
		ProjectID:   projectID,
		Labels:      labels,
		GeneratedAt: b.clock.Now(),
	}, nil
}

func buildPrompt(pages []pipeline.CrawledPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose %d to %d topical labels covering the pages below.\n", MinLabels, MaxLabels)
	b.WriteString("Labels must be lowercase, hyphenated, and specific to the site's subject matter.\n")
	b.WriteString("Reject generic labels like \"products\" or \"items\".\n")
	b.WriteString("Respond with JSON: {\"labels\": [\"label-one\", ...]}.\n\nPages:\n")
	for _, p := range pages {
		if p.Status != pipeline.FetchSuccess {
			continue
		}
		title := p.Title
		if title == "" {
			title = p.H1
		}
		fmt.Fprintf(&b, "- %s (%s)\n", title, p.NormalizedURL)
	}
	return b.String()
}

// SanitizeLabels normalizes raw label strings into canonical form: lowercase,
// spaces collapsed to hyphens, generic and duplicate labels dropped. Input
// order is preserved.
func SanitizeLabels(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, label := range raw {
		canonical := CanonicalLabel(label)
		if canonical == "" || genericLabels[canonical] || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// CanonicalLabel lowercases and hyphenates one label, returning "" when
// nothing usable remains.
func CanonicalLabel(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = labelChars.ReplaceAllString(s, "")
	s = strings.Trim(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}
