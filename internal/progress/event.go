package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StagePhaseStart Stage = "PHASE_START"
	StagePhaseStep  Stage = "PHASE_STEP"
	StagePhaseDone  Stage = "PHASE_DONE"
	StagePhaseError Stage = "PHASE_ERROR"
)

// Event captures a single milestone of pipeline progress for one project.
type Event struct {
	// ProjectID scopes the event to one project.
	ProjectID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Phase scopes phase events to one pipeline stage; empty for run events.
	Phase pipeline.Phase
	// Done and Failed are cumulative item counts for PHASE_STEP and
	// PHASE_DONE events. Total is the known work-unit count, zero when the
	// phase cannot size its work up front.
	Done   int
	Failed int
	Total  int
	// Dur captures execution latency for completed phases and runs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ProjectID == "" {
		return errors.New("project id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePhaseStart, StagePhaseStep, StagePhaseDone, StagePhaseError:
		if !pipeline.ValidPhase(e.Phase) {
			return fmt.Errorf("phase event requires a known phase, got %q", e.Phase)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Done < 0 || e.Failed < 0 || e.Total < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes out its phase or run.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageRunDone, StageRunError, StagePhaseDone, StagePhaseError:
		return true
	}
	return false
}
