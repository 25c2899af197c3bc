package scheduler

import "github.com/parkerlabs/sitescribe/internal/pipeline"

// PageDelta lists the per-URL classifications behind a ChangeSummary.
type PageDelta struct {
	New       []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// Summary collapses the delta into persisted counts.
func (d PageDelta) Summary() pipeline.ChangeSummary {
	return pipeline.ChangeSummary{
		New:       len(d.New),
		Removed:   len(d.Removed),
		Changed:   len(d.Changed),
		Unchanged: len(d.Unchanged),
	}
}

// DiffCrawls matches two crawl snapshots by normalized URL. A URL present only
// in after is new, only in before is removed, in both with differing content
// hashes is changed, otherwise unchanged.
func DiffCrawls(before, after []pipeline.CrawledPage) PageDelta {
	prior := make(map[string]string, len(before))
	for _, page := range before {
		prior[page.NormalizedURL] = page.ContentHash
	}
	var delta PageDelta
	seen := make(map[string]bool, len(after))
	for _, page := range after {
		seen[page.NormalizedURL] = true
		hash, ok := prior[page.NormalizedURL]
		switch {
		case !ok:
			delta.New = append(delta.New, page.NormalizedURL)
		case hash != page.ContentHash:
			delta.Changed = append(delta.Changed, page.NormalizedURL)
		default:
			delta.Unchanged = append(delta.Unchanged, page.NormalizedURL)
		}
	}
	for _, page := range before {
		if !seen[page.NormalizedURL] {
			delta.Removed = append(delta.Removed, page.NormalizedURL)
		}
	}
	return delta
}
