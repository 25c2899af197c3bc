package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Per-page label bounds.
const (
	MinPageLabels = 2
	MaxPageLabels = 5
)

// Assigner attaches taxonomy labels to pages in batched model calls.
type Assigner struct {
	provider  llm.Provider
	batchSize int
	logger    *zap.Logger
}

// NewAssigner constructs an Assigner.
func NewAssigner(provider llm.Provider, batchSize int, logger *zap.Logger) *Assigner {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assigner{provider: provider, batchSize: batchSize, logger: logger}
}

type labelAssignment struct {
	URL    string   `json:"url"`
	Labels []string `json:"labels"`
}

// AssignLabels assigns 2-5 labels per page, strictly from the taxonomy.
// Labels the model invents are dropped; a page whose batch fails to parse
// keeps an empty label set rather than failing the phase.
func (a *Assigner) AssignLabels(ctx context.Context, pages []pipeline.CrawledPage, tax pipeline.Taxonomy) ([]pipeline.CrawledPage, error) {
	if a.provider == nil {
		return pages, fmt.Errorf("label model provider not configured")
	}

	out := make([]pipeline.CrawledPage, len(pages))
	copy(out, pages)

	var assignable []int
	for i, p := range out {
		out[i].Labels = nil
		if p.Status == pipeline.FetchSuccess {
			assignable = append(assignable, i)
		}
	}

	for start := 0; start < len(assignable); start += a.batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := start + a.batchSize
		if end > len(assignable) {
			end = len(assignable)
		}
		a.assignBatch(ctx, out, assignable[start:end], tax)
	}
	return out, nil
}

func (a *Assigner) assignBatch(ctx context.Context, pages []pipeline.CrawledPage, indexes []int, tax pipeline.Taxonomy) {
	raw, err := a.provider.Generate(ctx, assignPrompt(pages, indexes, tax), 1024)
	if err != nil {
		a.logger.Warn("label assignment failed, leaving labels empty",
			zap.Int("batch_size", len(indexes)),
			zap.Error(err),
		)
		return
	}

	var assignments []labelAssignment
	if err := llm.DecodeJSON(raw, &assignments); err != nil {
		a.logger.Warn("label assignment unparseable, leaving labels empty", zap.Error(err))
		return
	}

	byURL := make(map[string][]string, len(assignments))
	for _, as := range assignments {
		byURL[as.URL] = as.Labels
	}

	for _, i := range indexes {
		pages[i].Labels = filterToTaxonomy(byURL[pages[i].NormalizedURL], tax)
	}
}

// filterToTaxonomy keeps only labels present in the taxonomy, capped at
// MaxPageLabels. An undersized result stands as-is; inventing labels to
// reach the minimum would violate the vocabulary.
func filterToTaxonomy(raw []string, tax pipeline.Taxonomy) []string {
	var kept []string
	seen := make(map[string]bool, len(raw))
	for _, label := range raw {
		canonical := CanonicalLabel(label)
		if canonical == "" || seen[canonical] || !tax.Contains(canonical) {
			continue
		}
		seen[canonical] = true
		kept = append(kept, canonical)
		if len(kept) == MaxPageLabels {
			break
		}
	}
	return kept
}

func assignPrompt(pages []pipeline.CrawledPage, indexes []int, tax pipeline.Taxonomy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assign %d to %d labels to each page, chosen ONLY from this taxonomy:\n%s\n\n",
		MinPageLabels, MaxPageLabels, strings.Join(tax.Labels, ", "))
	b.WriteString("Respond with a JSON array of objects {\"url\", \"labels\"}.\n\nPages:\n")
	for _, i := range indexes {
		p := pages[i]
		title := p.Title
		if title == "" {
			title = p.H1
		}
		fmt.Fprintf(&b, "- url: %s\n  title: %s\n", p.NormalizedURL, title)
	}
	return b.String()
}
