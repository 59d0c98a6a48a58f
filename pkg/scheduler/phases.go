package scheduler

import (
	"context"
	"sort"

	"github.com/choreoctl/choreo/pkg/codeexec"
	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// hasManualSignal reports whether t is a Manual trigger that has
// fired (for w's step), or a Composite containing one, regardless of
// whether the composite as a whole is satisfied — used to drive the
// WaitingForManual status transition independently of full admission.
func hasManualSignal(t trigger.Trigger, w stepWorld) bool {
	switch v := t.(type) {
	case trigger.Manual:
		return w.ManualFired(v.Name)
	case trigger.Composite:
		for _, child := range v.Triggers {
			if hasManualSignal(child, w) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// admissionPhase collects every Pending/WaitingForManual step whose
// trigger is satisfied, sorts by (priority, definition order), and
// admits each in turn under all-or-nothing resource reservation.
// Returns the number admitted.
func (s *Scheduler) admissionPhase(ctx context.Context) int {
	var candidates []*StepState
	for _, st := range s.order {
		if st.Status != StatusPending && st.Status != StatusWaitingForManual {
			continue
		}
		w := stepWorld{s, st.Step.ID}
		if st.Step.StartTrigger.IsSatisfied(w) {
			candidates = append(candidates, st)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Step.Priority != candidates[j].Step.Priority {
			return candidates[i].Step.Priority < candidates[j].Step.Priority
		}
		return candidates[i].order < candidates[j].order
	})

	admitted := 0
	for _, st := range candidates {
		if s.tryAdmit(ctx, st) {
			admitted++
		}
	}
	return admitted
}

// tryAdmit attempts to reserve st's resources and, on success,
// transitions it to Running, records StartedAt/ExpectedEnd, and runs
// its code block synchronously.
func (s *Scheduler) tryAdmit(ctx context.Context, st *StepState) bool {
	res, ok := s.attemptReserve(st.Step)
	if !ok {
		return false
	}
	s.commit(res)
	st.reservation = res

	start := s.currentTime
	st.Status = StatusRunning
	st.StartedAt = &start
	st.ExpectedEnd = s.currentTime + float64(st.Step.Duration.Calculate())

	if st.Step.CodeBlock != nil {
		s.runCodeBlock(ctx, st)
	}

	s.emit(Event{Kind: EventStepStarted, StepID: st.Step.ID, Time: s.currentTime})
	return true
}

func (s *Scheduler) commit(res reservation) {
	for task, amt := range res.taskDelta {
		s.taskUsage[task] += amt
	}
	for at, amt := range res.actorDelta {
		s.actorUsage[at] += amt
	}
}

// runCodeBlock executes st's code block synchronously — the script
// or shell invocation blocks the tick until it returns. A failure is
// recorded on the step and never aborts it.
func (s *Scheduler) runCodeBlock(ctx context.Context, st *StepState) {
	vars := codeexec.StepVars{
		StepID:  st.Step.ID,
		Name:    st.Step.Name,
		TrackID: st.Step.TrackID,
		Status:  string(st.Status),
		TaskTypes: func() []string {
			out := make([]string, len(st.Step.Tasks))
			for i, t := range st.Step.Tasks {
				out[i] = t.Name
			}
			return out
		}(),
		Priority: st.Step.Priority,
	}
	result, err := s.executor.Execute(ctx, st.Step.CodeBlock.Kind, st.Step.CodeBlock.Source, vars)
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}
	if err != nil {
		s.log.Warn("code block failed", "stepId", st.Step.ID, "error", err)
	}
	st.CodeResult = &result
}

// completionPhase completes every Running step whose duration policy
// says it's done. Returns the number completed.
func (s *Scheduler) completionPhase() int {
	completed := 0
	for _, st := range s.order {
		if st.Status != StatusRunning {
			continue
		}
		if s.shouldComplete(st) {
			s.completeStep(st)
			completed++
		}
	}
	return completed
}

// shouldComplete applies the per-kind completion policy plus the
// near-zero-remaining safety completion.
func (s *Scheduler) shouldComplete(st *StepState) bool {
	if !st.Step.Duration.AutoCompletes() {
		return false
	}
	remaining := st.ExpectedEnd - s.currentTime
	if remaining < nearZeroRemaining {
		return true
	}
	switch st.Step.Duration.Kind {
	case timeutil.DurationFixed:
		return s.currentTime >= st.ExpectedEnd-completionEpsilon
	default: // Variable
		return s.currentTime >= st.ExpectedEnd
	}
}

func (s *Scheduler) completeStep(st *StepState) {
	t := s.currentTime
	st.EndedAt = &t
	st.Status = StatusCompleted
	s.release(st.reservation)
	s.emit(Event{Kind: EventStepCompleted, StepID: st.Step.ID, Time: t})
}

func (s *Scheduler) abortStep(st *StepState, reason string) {
	t := s.currentTime
	st.EndedAt = &t
	st.Status = StatusAborted
	st.AbortReason = reason
	s.release(st.reservation)
	s.emit(Event{Kind: EventStepAborted, StepID: st.Step.ID, Time: t, Reason: reason})
}
