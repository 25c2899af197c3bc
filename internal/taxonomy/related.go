package taxonomy

import (
	"sort"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// MaxRelated caps the related-page list per page.
const MaxRelated = 5

// FindRelated ranks candidates by label-overlap count with page, descending,
// and returns up to MaxRelated with the shared labels as rationale. Ties keep
// input order. Candidates sharing no labels are omitted, so a page with a
// unique label set gets an empty list.
func FindRelated(page pipeline.CrawledPage, candidates []pipeline.CrawledPage) []pipeline.RelatedPage {
	if len(page.Labels) == 0 {
		return nil
	}
	mine := make(map[string]bool, len(page.Labels))
	for _, l := range page.Labels {
		mine[l] = true
	}

	var related []pipeline.RelatedPage
	for _, cand := range candidates {
		if cand.ID == page.ID {
			continue
		}
		var shared []string
		for _, l := range cand.Labels {
			if mine[l] {
				shared = append(shared, l)
			}
		}
		if len(shared) == 0 {
			continue
		}
		related = append(related, pipeline.RelatedPage{
			PageID:       cand.ID,
			URL:          cand.NormalizedURL,
			SharedLabels: shared,
			Overlap:      len(shared),
		})
	}

	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Overlap > related[j].Overlap
	})
	if len(related) > MaxRelated {
		related = related[:MaxRelated]
	}
	return related
}

// ComputeRelated fills the Related list of every page from the full page set.
func ComputeRelated(pages []pipeline.CrawledPage) []pipeline.CrawledPage {
	out := make([]pipeline.CrawledPage, len(pages))
	copy(out, pages)
	for i := range out {
		out[i].Related = FindRelated(out[i], pages)
	}
	return out
}
