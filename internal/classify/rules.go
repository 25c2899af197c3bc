// Package classify assigns page categories with a deterministic rule pass
// followed by a model escalation for pages the rules are unsure about.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Tier buckets a confidence score. High-tier pages never reach the model.
type Tier string

// Confidence tiers. Boundaries are inclusive toward the higher tier.
const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// TierFor maps a confidence score to its tier.
func TierFor(confidence int) Tier {
	switch {
	case confidence >= 90:
		return TierHigh
	case confidence >= 60:
		return TierMedium
	default:
		return TierLow
	}
}

// RuleResult is the outcome of the deterministic classification pass.
type RuleResult struct {
	Category   pipeline.Category
	Confidence int
	Reason     string
}

type urlRule struct {
	pattern  *regexp.Regexp
	category pipeline.Category
}

// Ordered: first match wins.
var urlRules = []urlRule{
	{regexp.MustCompile(`^/collections(/|$)`), pipeline.CategoryCollection},
	{regexp.MustCompile(`^/(category|categories|shop)(/|$)`), pipeline.CategoryCollection},
	{regexp.MustCompile(`^/products?(/|$)`), pipeline.CategoryProduct},
	{regexp.MustCompile(`^/(item|items|p)/`), pipeline.CategoryProduct},
	{regexp.MustCompile(`^/blogs?(/|$)`), pipeline.CategoryBlog},
	{regexp.MustCompile(`^/(news|articles?|journal|guides?)(/|$)`), pipeline.CategoryBlog},
	{regexp.MustCompile(`^/policies(/|$)`), pipeline.CategoryPolicy},
	{regexp.MustCompile(`(privacy|terms|refund|returns?-policy|shipping-policy|cookie-policy)`), pipeline.CategoryPolicy},
}

// ClassifyByRules produces a category plus a confidence score from the URL
// path and the content signals extracted at crawl time.
//
// Scoring: URL pattern and content signals agreeing lands in the high tier;
// either one alone lands in the medium tier; neither stays low, defaulting
// the category to "other".
func ClassifyByRules(page pipeline.CrawledPage) RuleResult {
	path := pagePath(page)

	if path == "/" || path == "" {
		return RuleResult{
			Category:   pipeline.CategoryHomepage,
			Confidence: 95,
			Reason:     "root path",
		}
	}

	for _, rule := range urlRules {
		if !rule.pattern.MatchString(path) {
			continue
		}
		if signalsAgree(rule.category, page.Signals) {
			return RuleResult{
				Category:   rule.category,
				Confidence: 92,
				Reason:     "url pattern and content signals agree",
			}
		}
		return RuleResult{
			Category:   rule.category,
			Confidence: 75,
			Reason:     "url pattern only",
		}
	}

	if cat, ok := categoryFromSignals(page.Signals); ok {
		return RuleResult{
			Category:   cat,
			Confidence: 65,
			Reason:     "content signals only",
		}
	}

	return RuleResult{
		Category:   pipeline.CategoryOther,
		Confidence: 40,
		Reason:     "no url pattern or content signal matched",
	}
}

func pagePath(page pipeline.CrawledPage) string {
	raw := page.NormalizedURL
	if raw == "" {
		raw = page.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Path)
}

func signalsAgree(cat pipeline.Category, sig pipeline.ContentSignals) bool {
	switch cat {
	case pipeline.CategoryProduct:
		return sig.HasCartButton || sig.HasPrice
	case pipeline.CategoryCollection:
		return sig.HasProductGrid || sig.HasPagination
	case pipeline.CategoryBlog:
		return sig.HasArticleTag
	default:
		return false
	}
}

func categoryFromSignals(sig pipeline.ContentSignals) (pipeline.Category, bool) {
	switch {
	case sig.HasCartButton && sig.HasPrice:
		return pipeline.CategoryProduct, true
	case sig.HasProductGrid && sig.HasPagination:
		return pipeline.CategoryCollection, true
	case sig.HasArticleTag:
		return pipeline.CategoryBlog, true
	default:
		return "", false
	}
}
