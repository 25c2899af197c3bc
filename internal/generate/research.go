package generate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// MaxPriorityQuestions caps how many questions the brief carries forward.
const MaxPriorityQuestions = 6

// Researcher produces content briefs from a page's enrichment questions.
type Researcher struct {
	provider llm.Provider
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewResearcher constructs a Researcher.
func NewResearcher(provider llm.Provider, clock pipeline.Clock, logger *zap.Logger) *Researcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Researcher{provider: provider, clock: clock, logger: logger}
}

type researchResponse struct {
	Benefits        []string `json:"benefits"`
	Differentiators []string `json:"differentiators"`
}

// BuildBrief derives the content angle from the intent distribution of the
// page's questions, then asks the model for supporting benefits and
// differentiators. A malformed model response degrades to an empty
// benefit list instead of failing the phase.
func (r *Researcher) BuildBrief(ctx context.Context, page pipeline.CrawledPage, paa pipeline.PagePAA) (pipeline.ContentBrief, error) {
	dominant := dominantIntent(paa.Questions)
	brief := pipeline.ContentBrief{
		PageID:            page.ID,
		Angle:             angleFor(dominant),
		PriorityQuestions: prioritizeQuestions(paa.Questions, dominant),
		CreatedAt:         r.clock.Now(),
	}

	if r.provider == nil {
		return brief, nil
	}

	raw, err := r.provider.Generate(ctx, researchPrompt(page, brief), 768)
	if err != nil {
		return pipeline.ContentBrief{}, fmt.Errorf("research query for %s: %w", page.NormalizedURL, err)
	}
	var resp researchResponse
	if derr := llm.DecodeJSON(raw, &resp); derr != nil {
		r.logger.Warn("research response unparseable, continuing with bare brief",
			zap.String("page_id", page.ID),
			zap.Error(derr),
		)
		return brief, nil
	}
	brief.Benefits = trimAll(resp.Benefits)
	brief.Differentiators = trimAll(resp.Differentiators)
	return brief, nil
}

// dominantIntent returns the most frequent intent among the questions,
// preferring the earlier-seen intent on ties.
func dominantIntent(questions []pipeline.Question) pipeline.Intent {
	if len(questions) == 0 {
		return pipeline.IntentOther
	}
	counts := make(map[pipeline.Intent]int)
	var order []pipeline.Intent
	for _, q := range questions {
		if counts[q.Intent] == 0 {
			order = append(order, q.Intent)
		}
		counts[q.Intent]++
	}
	best := order[0]
	for _, intent := range order[1:] {
		if counts[intent] > counts[best] {
			best = intent
		}
	}
	return best
}

// angleFor maps the dominant intent to a content angle.
func angleFor(intent pipeline.Intent) string {
	switch intent {
	case pipeline.IntentBuying:
		return "value, selection, and choosing the right option"
	case pipeline.IntentUsage:
		return "practical use and getting the most out of the product"
	case pipeline.IntentComparison:
		return "honest differences and tradeoffs between options"
	case pipeline.IntentCare:
		return "longevity, care, and proper storage"
	default:
		return "a clear overview of what the range offers"
	}
}

// prioritizeQuestions orders dominant-intent questions first, capped.
func prioritizeQuestions(questions []pipeline.Question, dominant pipeline.Intent) []string {
	var first, rest []string
	for _, q := range questions {
		if q.Intent == dominant {
			first = append(first, q.Text)
		} else {
			rest = append(rest, q.Text)
		}
	}
	all := append(first, rest...)
	if len(all) > MaxPriorityQuestions {
		all = all[:MaxPriorityQuestions]
	}
	return all
}

func researchPrompt(page pipeline.CrawledPage, brief pipeline.ContentBrief) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s (%s)\nContent angle: %s\n", page.Title, page.NormalizedURL, brief.Angle)
	if len(brief.PriorityQuestions) > 0 {
		b.WriteString("Customer questions:\n")
		for _, q := range brief.PriorityQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	b.WriteString("\nList concrete product benefits and differentiators supporting this angle.\n")
	b.WriteString("Respond with JSON: {\"benefits\": [...], \"differentiators\": [...]}.\n")
	return b.String()
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
