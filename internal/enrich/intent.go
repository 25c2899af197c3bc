package enrich

import (
	"strings"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Keyword lists per intent, checked in order. Comparison goes before usage
// so "which is better to use" lands in comparison.
var intentKeywords = []struct {
	intent pipeline.Intent
	words  []string
}{
	{pipeline.IntentComparison, []string{
		" vs ", "versus", "better than", "difference between", "compared to",
		"compare", "or should", "which is better",
	}},
	{pipeline.IntentBuying, []string{
		"buy", "price", "cost", "cheap", "expensive", "worth it",
		"where to get", "where can i", "best ", "how much",
	}},
	{pipeline.IntentCare, []string{
		"clean", "wash", "care for", "maintain", "store ", "storage",
		"keep fresh", "how long do", "how long does", "last longer", "preserve",
	}},
	{pipeline.IntentUsage, []string{
		"how to", "how do", "how does", "can you", "can i", "use ",
		"used for", "work", "install", "set up",
	}},
}

// ClassifyIntent buckets a question using keyword-in-text heuristics.
func ClassifyIntent(question string) pipeline.Intent {
	q := " " + strings.ToLower(strings.TrimSpace(question)) + " "
	for _, group := range intentKeywords {
		for _, w := range group.words {
			if strings.Contains(q, w) {
				return group.intent
			}
		}
	}
	return pipeline.IntentOther
}
