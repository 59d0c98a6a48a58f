package scheduler

import "github.com/choreoctl/choreo/pkg/trigger"

// Scheduler implements trigger.World directly so any code holding a
// *Scheduler can evaluate a trigger without step-specific manual
// targeting; ManualFired here reports "any command for this name has
// arrived", matching the global (no step_id) case.
var _ trigger.World = (*Scheduler)(nil)

// ProgramRunning reports whether StartProgram has been processed.
func (s *Scheduler) ProgramRunning() bool { return s.started }

// CurrentTime returns the scheduler's current simulated clock value.
func (s *Scheduler) CurrentTime() float64 { return s.currentTime }

// ProgramStartTime returns the value CurrentTime held when the
// program started.
func (s *Scheduler) ProgramStartTime() float64 { return s.programStartTime }

// StepCompletedAt returns stepID's completion time and true, or
// (0, false) if it hasn't completed.
func (s *Scheduler) StepCompletedAt(stepID string) (float64, bool) {
	st, ok := s.steps[stepID]
	if !ok || st.Status != StatusCompleted || st.EndedAt == nil {
		return 0, false
	}
	return *st.EndedAt, true
}

// StepStartedAt returns stepID's start time and true, or (0, false) if
// it hasn't started.
func (s *Scheduler) StepStartedAt(stepID string) (float64, bool) {
	st, ok := s.steps[stepID]
	if !ok || st.StartedAt == nil {
		return 0, false
	}
	return *st.StartedAt, true
}

// StepAborted reports whether stepID is Aborted.
func (s *Scheduler) StepAborted(stepID string) bool {
	st, ok := s.steps[stepID]
	return ok && st.Status == StatusAborted
}

// ManualFired reports whether any Trigger command (targeted or not)
// with this name has arrived.
func (s *Scheduler) ManualFired(name string) bool {
	return s.manualFiredFor(name, "")
}

// stepWorld adapts a *Scheduler into a trigger.World scoped to one
// step, so a Manual trigger command's step targeting can be honored
// without threading step identity through the trigger package's World
// interface.
type stepWorld struct {
	*Scheduler
	stepID string
}

// ManualFired reports whether a Trigger command for name has arrived
// that either carries no step id (delivered to every matching step)
// or names this step's id specifically.
func (w stepWorld) ManualFired(name string) bool {
	return w.Scheduler.manualFiredFor(name, w.stepID)
}

// manualFiredFor reports whether a received Trigger command matches
// name and (forStep == "" or the command's StepID == "" or the
// command's StepID == forStep).
func (s *Scheduler) manualFiredFor(name, forStep string) bool {
	for _, c := range s.manualFires {
		if c.TriggerName != name {
			continue
		}
		if c.StepID == "" || forStep == "" || c.StepID == forStep {
			return true
		}
	}
	return false
}
