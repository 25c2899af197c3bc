package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Extracted holds the structured fields pulled out of one fetched page.
type Extracted struct {
	Title           string
	H1              string
	MetaDescription string
	BodyText        string
	WordCount       int
	Links           []string
	Signals         pipeline.ContentSignals
}

// Extract parses the page body and pulls out title, H1, meta description,
// readable body text, outgoing links, and classifier content signals.
// Links are returned raw; the caller normalizes and filters them.
func Extract(page Page, pageURL *url.URL) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return Extracted{}, fmt.Errorf("parse html: %w", err)
	}

	out := Extracted{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		H1:    strings.TrimSpace(doc.Find("h1").First().Text()),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		out.MetaDescription = strings.TrimSpace(desc)
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "javascript:") {
			return
		}
		out.Links = append(out.Links, href)
	})

	out.Signals = detectSignals(doc, page.Body)
	out.BodyText, out.WordCount = readableText(page, pageURL, doc)
	return out, nil
}

func detectSignals(doc *goquery.Document, body []byte) pipeline.ContentSignals {
	lower := bytes.ToLower(body)
	sig := pipeline.ContentSignals{
		HasArticleTag: doc.Find("article").Length() > 0,
	}

	if doc.Find(`button[name="add"], form[action*="/cart/add"], [class*="add-to-cart"], [id*="AddToCart"]`).Length() > 0 ||
		bytes.Contains(lower, []byte("add to cart")) || bytes.Contains(lower, []byte("add to bag")) {
		sig.HasCartButton = true
	}
	if doc.Find(`.pagination, nav[aria-label*="agination"], a[rel="next"]`).Length() > 0 {
		sig.HasPagination = true
	}
	if doc.Find(`[class*="product-grid"], [class*="product-list"], [class*="collection-grid"]`).Length() > 0 ||
		doc.Find(`[class*="product-card"], [class*="product-item"]`).Length() >= 3 {
		sig.HasProductGrid = true
	}
	if doc.Find(`[class*="price"], [itemprop="price"]`).Length() > 0 {
		sig.HasPrice = true
	}
	return sig
}

func readableText(page Page, pageURL *url.URL, doc *goquery.Document) (string, int) {
	article, err := readability.FromReader(bytes.NewReader(page.Body), pageURL)
	text := ""
	if err == nil {
		text = strings.TrimSpace(article.TextContent)
	}
	if text == "" {
		// Readability gives up on sparse commerce templates; fall back to
		// the visible body text.
		clone := doc.Find("body").Clone()
		clone.Find("script, style, noscript").Remove()
		text = strings.TrimSpace(clone.Text())
	}
	text = collapseWhitespace(text)
	return text, countWords(text)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func countWords(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}
