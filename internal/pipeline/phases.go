package pipeline

import "time"

// Phase names the five pipeline stages tracked per project.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseCrawl    Phase = "crawl"
	PhaseClassify Phase = "classify"
	PhaseTaxonomy Phase = "taxonomy"
	PhaseEnrich   Phase = "enrich"
	PhaseGenerate Phase = "generate"
)

// Phases lists all phases in pipeline order.
func Phases() []Phase {
	return []Phase{PhaseCrawl, PhaseClassify, PhaseTaxonomy, PhaseEnrich, PhaseGenerate}
}

// ValidPhase reports whether p names a known phase.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseCrawl, PhaseClassify, PhaseTaxonomy, PhaseEnrich, PhaseGenerate:
		return true
	default:
		return false
	}
}

// PhaseState is the lifecycle state of one phase.
type PhaseState string

// Phase states. Transitions are monotonic: pending -> in_progress -> {completed|failed}.
const (
	PhasePending    PhaseState = "pending"
	PhaseInProgress PhaseState = "in_progress"
	PhaseCompleted  PhaseState = "completed"
	PhaseFailed     PhaseState = "failed"
)

// CanAdvanceTo reports whether the state machine permits moving to next.
// A completed or failed phase only re-enters via an explicit reset to pending.
func (s PhaseState) CanAdvanceTo(next PhaseState) bool {
	switch s {
	case PhasePending:
		return next == PhaseInProgress
	case PhaseInProgress:
		return next == PhaseCompleted || next == PhaseFailed
	case PhaseCompleted, PhaseFailed:
		return next == PhasePending
	default:
		return false
	}
}

// PhaseProgress tracks nested progress for one phase.
type PhaseProgress struct {
	State      PhaseState `json:"state"`
	Total      int        `json:"total"`
	Done       int        `json:"done"`
	Failed     int        `json:"failed"`
	ErrorText  string     `json:"error_text,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Percent returns count-based completion in [0,100].
func (p PhaseProgress) Percent() int {
	if p.State == PhaseCompleted {
		return 100
	}
	if p.Total <= 0 {
		return 0
	}
	pct := (p.Done + p.Failed) * 100 / p.Total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// PhaseStatus holds per-phase progress for a project.
type PhaseStatus map[Phase]PhaseProgress

// NewPhaseStatus returns a status map with every phase pending.
func NewPhaseStatus() PhaseStatus {
	st := make(PhaseStatus, len(Phases()))
	for _, p := range Phases() {
		st[p] = PhaseProgress{State: PhasePending}
	}
	return st
}

// Get returns the progress for p, defaulting to pending when absent.
func (st PhaseStatus) Get(p Phase) PhaseProgress {
	if pr, ok := st[p]; ok {
		return pr
	}
	return PhaseProgress{State: PhasePending}
}
