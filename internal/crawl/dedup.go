package crawl

import "sync"

// DedupIndex provides thread-safe membership tracking of normalized URLs
// within a single crawl.
type DedupIndex struct {
	seen sync.Map
}

// NewDedupIndex constructs an empty index.
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{}
}

// MarkIfNew stores the normalized URL if unseen and returns true for new URLs.
func (d *DedupIndex) MarkIfNew(normalizedURL string) bool {
	if normalizedURL == "" {
		return false
	}
	_, loaded := d.seen.LoadOrStore(normalizedURL, struct{}{})
	return !loaded
}

// Seen reports whether the normalized URL was already marked.
func (d *DedupIndex) Seen(normalizedURL string) bool {
	_, ok := d.seen.Load(normalizedURL)
	return ok
}
