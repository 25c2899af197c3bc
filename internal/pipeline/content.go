package pipeline

// ContentStatus is the review state of generated content for one page.
type ContentStatus string

// Content statuses. Status only advances forward; regeneration resets to draft.
const (
	ContentDraft       ContentStatus = "draft"
	ContentValidated   ContentStatus = "validated"
	ContentNeedsReview ContentStatus = "needs_review"
	ContentApproved    ContentStatus = "approved"
)

// CanTransition reports whether the content state machine allows from -> to.
// needs_review is reachable only from draft (a hard-blocker QA failure) and
// exits back to draft on regeneration.
func (s ContentStatus) CanTransition(to ContentStatus) bool {
	switch s {
	case ContentDraft:
		return to == ContentValidated || to == ContentNeedsReview
	case ContentValidated:
		return to == ContentApproved || to == ContentDraft
	case ContentNeedsReview:
		return to == ContentDraft
	case ContentApproved:
		return to == ContentDraft
	default:
		return false
	}
}
