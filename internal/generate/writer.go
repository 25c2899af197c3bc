package generate

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/parkerlabs/sitescribe/internal/llm"
	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// WriterConfig bounds link injection.
type WriterConfig struct {
	RelatedLinks  int
	PriorityLinks int
}

// Writer turns a brief into structured draft fields under the style rules.
type Writer struct {
	provider llm.Provider
	style    StyleRules
	cfg      WriterConfig
	clock    pipeline.Clock
	logger   *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(provider llm.Provider, style StyleRules, cfg WriterConfig, clock pipeline.Clock, logger *zap.Logger) *Writer {
	if cfg.RelatedLinks <= 0 {
		cfg.RelatedLinks = 3
	}
	if cfg.PriorityLinks <= 0 {
		cfg.PriorityLinks = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{provider: provider, style: style, cfg: cfg, clock: clock, logger: logger}
}

type draftResponse struct {
	H1                string `json:"h1"`
	TitleTag          string `json:"title_tag"`
	MetaDescription   string `json:"meta_description"`
	TopDescription    string `json:"top_description"`
	BottomDescription string `json:"bottom_description"`
}

// WriteDraft generates the structured fields for one page and injects the
// internal links. The draft always comes back in the draft status; QA decides
// where it goes from there.
func (w *Writer) WriteDraft(
	ctx context.Context,
	page pipeline.CrawledPage,
	brief pipeline.ContentBrief,
	priority []pipeline.PriorityLink,
) (pipeline.GeneratedContent, error) {
	if w.provider == nil {
		return pipeline.GeneratedContent{}, fmt.Errorf("writing model provider not configured")
	}

	links := w.pickLinks(page, priority)
	raw, err := w.provider.Generate(ctx, w.draftPrompt(page, brief, links), 2048)
	if err != nil {
		return pipeline.GeneratedContent{}, fmt.Errorf("draft generation for %s: %w", page.NormalizedURL, err)
	}

	var resp draftResponse
	if err := llm.DecodeJSON(raw, &resp); err != nil {
		return pipeline.GeneratedContent{}, fmt.Errorf("parse draft for %s: %w", page.NormalizedURL, err)
	}
	if strings.TrimSpace(resp.BottomDescription) == "" {
		return pipeline.GeneratedContent{}, fmt.Errorf("draft for %s missing bottom description", page.NormalizedURL)
	}

	content := pipeline.GeneratedContent{
		PageID:            page.ID,
		H1:                strings.TrimSpace(resp.H1),
		TitleTag:          strings.TrimSpace(resp.TitleTag),
		MetaDescription:   strings.TrimSpace(resp.MetaDescription),
		TopDescription:    renderHTML(resp.TopDescription),
		BottomDescription: renderHTML(resp.BottomDescription),
		Status:            pipeline.ContentDraft,
		UpdatedAt:         w.clock.Now(),
	}
	content.BottomDescription = ensureLinks(content.BottomDescription, links)
	content.WordCount = countWords(htmlText(content.BottomDescription))
	return content, nil
}

// pickLinks selects the related links (by label overlap, already ranked) and
// the business-priority links to inject.
func (w *Writer) pickLinks(page pipeline.CrawledPage, priority []pipeline.PriorityLink) []pipeline.PriorityLink {
	var links []pipeline.PriorityLink
	for i, rel := range page.Related {
		if i == w.cfg.RelatedLinks {
			break
		}
		links = append(links, pipeline.PriorityLink{URL: rel.URL, Anchor: anchorFromURL(rel.URL)})
	}
	for i, pl := range priority {
		if i == w.cfg.PriorityLinks {
			break
		}
		if pl.Anchor == "" {
			pl.Anchor = anchorFromURL(pl.URL)
		}
		links = append(links, pl)
	}
	return links
}

func (w *Writer) draftPrompt(page pipeline.CrawledPage, brief pipeline.ContentBrief, links []pipeline.PriorityLink) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write store copy for the page %q (%s).\nContent angle: %s\n\n",
		page.Title, page.NormalizedURL, brief.Angle)
	if len(brief.PriorityQuestions) > 0 {
		b.WriteString("Answer these customer questions in the copy:\n")
		for _, q := range brief.PriorityQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if len(brief.Benefits) > 0 {
		fmt.Fprintf(&b, "Benefits to work in: %s\n", strings.Join(brief.Benefits, "; "))
	}
	if len(brief.Differentiators) > 0 {
		fmt.Fprintf(&b, "Differentiators: %s\n", strings.Join(brief.Differentiators, "; "))
	}
	if len(brief.Exclusions) > 0 {
		b.WriteString("A previous draft failed review. Avoid repeating these problems:\n")
		for _, ex := range brief.Exclusions {
			fmt.Fprintf(&b, "- %s\n", ex)
		}
	}
	if len(links) > 0 {
		b.WriteString("Weave these internal links into the bottom description as natural anchor-text links, never raw URLs:\n")
		for _, l := range links {
			fmt.Fprintf(&b, "- <a href=\"%s\">%s</a>\n", l.URL, l.Anchor)
		}
	}
	b.WriteString("\nStyle rules:\n")
	b.WriteString(w.style.Describe())
	b.WriteString("\nRespond with JSON: {\"h1\", \"title_tag\", \"meta_description\", \"top_description\", \"bottom_description\"}.\n")
	b.WriteString("Descriptions are HTML paragraphs.\n")
	return b.String()
}

// renderHTML passes markdown through goldmark unless the text is already
// HTML.
func renderHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "<p") || strings.Contains(s, "<a ") {
		return s
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(s), &buf); err != nil {
		return s
	}
	return strings.TrimSpace(buf.String())
}

// ensureLinks appends any required link the model dropped, so QA link checks
// run against what will actually ship.
func ensureLinks(html string, links []pipeline.PriorityLink) string {
	var missing []string
	for _, l := range links {
		if !strings.Contains(html, fmt.Sprintf(`href="%s"`, l.URL)) {
			missing = append(missing, fmt.Sprintf(`<a href="%s">%s</a>`, l.URL, l.Anchor))
		}
	}
	if len(missing) == 0 {
		return html
	}
	return html + fmt.Sprintf("\n<p>See also: %s.</p>", strings.Join(missing, ", "))
}

// anchorFromURL derives readable anchor text from the last path segment.
func anchorFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = strings.ReplaceAll(trimmed, "-", " ")
	if trimmed == "" {
		return "this page"
	}
	return trimmed
}

// htmlText strips markup and returns the visible text.
func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func countWords(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}
