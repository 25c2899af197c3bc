package classify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Classifier runs the rule pass and escalates uncertain pages to the model.
type Classifier struct {
	provider  llm.Provider
	batchSize int
	logger    *zap.Logger
}

// New constructs a Classifier. A nil provider disables escalation; uncertain
// pages keep their rule result.
func New(provider llm.Provider, batchSize int, logger *zap.Logger) *Classifier {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		provider:  provider,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Classify assigns a category to one page without model escalation.
func (c *Classifier) Classify(page pipeline.CrawledPage) pipeline.CrawledPage {
	res := ClassifyByRules(page)
	page.Category = res.Category
	page.Confidence = res.Confidence
	page.ClassSource = pipeline.SourceRule
	page.ClassReason = res.Reason
	return page
}

// Run classifies every page. The rule pass is applied first; pages below the
// high tier are escalated to the model in batches, and the model's answer
// becomes final. Model failures degrade to the rule result rather than
// aborting the batch.
func (c *Classifier) Run(ctx context.Context, pages []pipeline.CrawledPage) ([]pipeline.CrawledPage, error) {
	out := make([]pipeline.CrawledPage, len(pages))
	var escalate []int
	for i, page := range pages {
		out[i] = c.Classify(page)
		if TierFor(out[i].Confidence) != TierHigh {
			escalate = append(escalate, i)
		}
	}

	if len(escalate) == 0 || c.provider == nil {
		return out, nil
	}

	for start := 0; start < len(escalate); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := start + c.batchSize
		if end > len(escalate) {
			end = len(escalate)
		}
		c.escalateBatch(ctx, out, escalate[start:end])
	}
	return out, nil
}

type modelVerdict struct {
	URL        string `json:"url"`
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

func (c *Classifier) escalateBatch(ctx context.Context, pages []pipeline.CrawledPage, indexes []int) {
	prompt := batchPrompt(pages, indexes)
	raw, err := c.provider.Generate(ctx, prompt, 1024)
	if err != nil {
		c.logger.Warn("model classification failed, keeping rule results",
			zap.Int("batch_size", len(indexes)),
			zap.Error(err),
		)
		return
	}

	var verdicts []modelVerdict
	if err := llm.DecodeJSON(raw, &verdicts); err != nil {
		c.logger.Warn("model classification unparseable, keeping rule results", zap.Error(err))
		return
	}

	byURL := make(map[string]modelVerdict, len(verdicts))
	for _, v := range verdicts {
		byURL[v.URL] = v
	}

	for _, i := range indexes {
		v, ok := byURL[pages[i].NormalizedURL]
		if !ok {
			continue
		}
		cat, valid := parseCategory(v.Category)
		if !valid {
			c.logger.Warn("model returned unknown category",
				zap.String("url", pages[i].NormalizedURL),
				zap.String("category", v.Category),
			)
			continue
		}
		pages[i].Category = cat
		pages[i].Confidence = clampConfidence(v.Confidence)
		pages[i].ClassSource = pipeline.SourceModel
		pages[i].ClassReason = strings.TrimSpace(v.Reasoning)
	}
}

func batchPrompt(pages []pipeline.CrawledPage, indexes []int) string {
	var b strings.Builder
	b.WriteString("Classify each page into exactly one category: collection, product, blog, policy, homepage, other.\n")
	b.WriteString("Respond with a JSON array of objects {\"url\", \"category\", \"confidence\" (0-100), \"reasoning\"}.\n\nPages:\n")
	for _, i := range indexes {
		p := pages[i]
		fmt.Fprintf(&b, "- url: %s\n  title: %s\n  h1: %s\n  signals: %s\n",
			p.NormalizedURL, p.Title, p.H1, describeSignals(p.Signals))
	}
	return b.String()
}

func describeSignals(sig pipeline.ContentSignals) string {
	var parts []string
	if sig.HasCartButton {
		parts = append(parts, "cart-button")
	}
	if sig.HasPrice {
		parts = append(parts, "price")
	}
	if sig.HasProductGrid {
		parts = append(parts, "product-grid")
	}
	if sig.HasPagination {
		parts = append(parts, "pagination")
	}
	if sig.HasArticleTag {
		parts = append(parts, "article-tag")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func parseCategory(s string) (pipeline.Category, bool) {
	switch pipeline.Category(strings.ToLower(strings.TrimSpace(s))) {
	case pipeline.CategoryCollection:
		return pipeline.CategoryCollection, true
	case pipeline.CategoryProduct:
		return pipeline.CategoryProduct, true
	case pipeline.CategoryBlog:
		return pipeline.CategoryBlog, true
	case pipeline.CategoryPolicy:
		return pipeline.CategoryPolicy, true
	case pipeline.CategoryHomepage:
		return pipeline.CategoryHomepage, true
	case pipeline.CategoryOther:
		return pipeline.CategoryOther, true
	default:
		return "", false
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
