package generate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// QA validates drafts against the style rules and known internal pages.
// Hard blockers force manual review; soft issues get one minimal fix pass.
type QA struct {
	provider llm.Provider
	style    StyleRules
	logger   *zap.Logger
}

// NewQA constructs the QA stage.
func NewQA(provider llm.Provider, style StyleRules, logger *zap.Logger) *QA {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QA{provider: provider, style: style, logger: logger}
}

// Validate splits problems into hard blockers and soft issues. knownURL
// reports whether an internal link target exists among the project's pages.
func (q *QA) Validate(content pipeline.GeneratedContent, knownURL func(string) bool) (hard, soft []string) {
	for _, href := range internalLinks(content.TopDescription + content.BottomDescription) {
		if !knownURL(href) {
			hard = append(hard, fmt.Sprintf("internal link to missing page: %s", href))
		}
	}

	words := countWords(htmlText(content.BottomDescription))
	if words < q.style.WordCountMin || words > q.style.WordCountMax {
		hard = append(hard, fmt.Sprintf(
			"bottom description is %d words, outside the required %d-%d band",
			words, q.style.WordCountMin, q.style.WordCountMax))
	}

	text := strings.Join([]string{
		content.H1, content.TitleTag, content.MetaDescription,
		htmlText(content.TopDescription), htmlText(content.BottomDescription),
	}, "\n")
	soft = q.style.Violations(text)
	return hard, soft
}

// FixSoft runs one minimal-edit model pass over the draft. The fix must
// preserve links and stay inside the word band; if the result fails either
// check or still carries more issues than the original, the original draft
// is kept.
func (q *QA) FixSoft(ctx context.Context, content pipeline.GeneratedContent, issues []string) (pipeline.GeneratedContent, bool) {
	if q.provider == nil || len(issues) == 0 {
		return content, false
	}

	raw, err := q.provider.Generate(ctx, fixPrompt(content, issues, q.style), 2048)
	if err != nil {
		q.logger.Warn("soft-issue fix pass failed", zap.String("page_id", content.PageID), zap.Error(err))
		return content, false
	}

	var resp draftResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		q.logger.Warn("fix pass response unparseable", zap.String("page_id", content.PageID), zap.Error(err))
		return content, false
	}

	fixed := content
	if resp.H1 != "" {
		fixed.H1 = strings.TrimSpace(resp.H1)
	}
	if resp.TitleTag != "" {
		fixed.TitleTag = strings.TrimSpace(resp.TitleTag)
	}
	if resp.MetaDescription != "" {
		fixed.MetaDescription = strings.TrimSpace(resp.MetaDescription)
	}
	if resp.TopDescription != "" {
		fixed.TopDescription = renderHTML(resp.TopDescription)
	}
	if resp.BottomDescription != "" {
		fixed.BottomDescription = renderHTML(resp.BottomDescription)
	}
	fixed.WordCount = countWords(htmlText(fixed.BottomDescription))

	if !sameLinkSet(content, fixed) {
		q.logger.Warn("fix pass altered links, keeping original", zap.String("page_id", content.PageID))
		return content, false
	}
	if fixed.WordCount < q.style.WordCountMin || fixed.WordCount > q.style.WordCountMax {
		q.logger.Warn("fix pass left the word band, keeping original",
			zap.String("page_id", content.PageID),
			zap.Int("words", fixed.WordCount),
		)
		return content, false
	}
	return fixed, true
}

func fixPrompt(content pipeline.GeneratedContent, issues []string, style StyleRules) string {
	var b strings.Builder
	b.WriteString("Minimally edit this draft to fix the listed style issues.\n")
	b.WriteString("Keep every link, the structure, and the overall length unchanged.\n\nIssues:\n")
	for _, issue := range issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	b.WriteString("\nStyle rules:\n")
	b.WriteString(style.Describe())
	fmt.Fprintf(&b, "\nDraft:\nh1: %s\ntitle_tag: %s\nmeta_description: %s\ntop_description: %s\nbottom_description: %s\n",
		content.H1, content.TitleTag, content.MetaDescription, content.TopDescription, content.BottomDescription)
	b.WriteString("\nRespond with JSON: {\"h1\", \"title_tag\", \"meta_description\", \"top_description\", \"bottom_description\"}.\n")
	return b.String()
}

// internalLinks extracts hrefs that point inside the site: relative paths
// and absolute URLs alike; external hosts are the caller's concern via the
// knownURL predicate.
func internalLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		if u, perr := url.Parse(href); perr == nil && u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		hrefs = append(hrefs, href)
	})
	return hrefs
}

func sameLinkSet(a, b pipeline.GeneratedContent) bool {
	av := internalLinks(a.TopDescription + a.BottomDescription)
	bv := internalLinks(b.TopDescription + b.BottomDescription)
	if len(av) != len(bv) {
		return false
	}
	set := make(map[string]int, len(av))
	for _, h := range av {
		set[h]++
	}
	for _, h := range bv {
		set[h]--
		if set[h] < 0 {
			return false
		}
	}
	return true
}
