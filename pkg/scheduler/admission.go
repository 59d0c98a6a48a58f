package scheduler

import (
	"sort"

	"github.com/choreoctl/choreo/pkg/program"
)

const epsilon = 1e-9

// reservation is the set of deltas one step's admission charges
// against task and actor-type usage, recorded so completion/abort can
// release exactly what was charged.
type reservation struct {
	taskDelta  map[string]float64
	actorDelta map[string]float64
}

// allTaskConsumers returns every (task, fraction) pair step's
// admission must reserve: its own Tasks plus its PreBuffer/PostBuffer
// tasks. Buffers consume tasks the same way the step body does, so
// their declared cost is actually charged, not merely validated.
func allTaskConsumers(step program.Step) []program.TaskResource {
	out := make([]program.TaskResource, 0, len(step.Tasks)+2)
	out = append(out, step.Tasks...)
	if step.PreBuffer != nil {
		out = append(out, step.PreBuffer.Tasks...)
	}
	if step.PostBuffer != nil {
		out = append(out, step.PostBuffer.Tasks...)
	}
	return out
}

// attemptReserve runs the all-or-nothing admission algorithm against
// a local copy of current usage, returning the reservation to commit
// (task charges plus the actor-type charges), or ok=false if any task's
// requirement cannot be satisfied. Nothing is mutated on failure.
func (s *Scheduler) attemptReserve(step program.Step) (reservation, bool) {
	localTask := make(map[string]float64, len(s.taskUsage))
	for k, v := range s.taskUsage {
		localTask[k] = v
	}
	localActor := make(map[string]float64, len(s.actorUsage))
	for k, v := range s.actorUsage {
		localActor[k] = v
	}

	res := reservation{taskDelta: map[string]float64{}, actorDelta: map[string]float64{}}

	for _, tr := range allTaskConsumers(step) {
		maxConcurrent, actorsRequired, qualified, ok := s.constraintFor(tr.Name)
		if !ok {
			s.log.Debug("step rejected: task undeclared", "step", step.ID, "task", tr.Name)
			return reservation{}, false
		}
		if localTask[tr.Name]+tr.Fraction > maxConcurrent+epsilon {
			s.log.Debug("step rejected: task at capacity", "step", step.ID, "task", tr.Name)
			return reservation{}, false
		}

		actorsNeeded := actorsRequired * tr.Fraction
		if actorsNeeded > epsilon {
			chosen := s.selectActorType(qualified, actorsNeeded, localActor)
			if chosen == "" {
				s.log.Debug("step rejected: no qualified actor type available", "step", step.ID, "task", tr.Name)
				return reservation{}, false
			}
			localActor[chosen] += actorsNeeded
			res.actorDelta[chosen] += actorsNeeded
		}

		localTask[tr.Name] += tr.Fraction
		res.taskDelta[tr.Name] += tr.Fraction
	}

	return res, true
}

// constraintFor returns the effective maxConcurrent, actorsRequired
// and qualified actor-type ids for task. The program's actors-only
// fallback makes every task implicitly declared with the total actor
// count as its limit; otherwise the task must appear in the resolved
// constraint list.
func (s *Scheduler) constraintFor(task string) (maxConcurrent, actorsRequired float64, qualified []string, ok bool) {
	if s.resolved.ActorsFallback {
		return float64(s.resolved.ActorsCount), 1.0, s.allActorTypeIDs(), true
	}
	rc, found := s.resolved.ConstraintFor(task)
	if !found {
		return 0, 0, nil, false
	}
	return float64(rc.MaxConcurrent), rc.ActorsRequired, rc.QualifiedActorTypes, true
}

// allActorTypeIDs returns every actor-type id in the resolved
// environment, sorted, used as the qualified set for the actors-only
// fallback (no resource constraint exists to name qualified types
// explicitly).
func (s *Scheduler) allActorTypeIDs() []string {
	out := make([]string, 0, len(s.resolved.ActorTypes))
	for id := range s.resolved.ActorTypes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// selectActorType picks, among qualified, the actor type with the
// greatest remaining capacity (Count - already-used, including this
// attempt's prior reservations) that still has at least needed free,
// tie-broken by lexicographically smallest id. Returns "" if no
// qualified type suffices.
func (s *Scheduler) selectActorType(qualified []string, needed float64, localActor map[string]float64) string {
	type candidate struct {
		id        string
		remaining float64
	}
	var candidates []candidate
	for _, id := range qualified {
		at, ok := s.resolved.ActorTypes[id]
		if !ok {
			continue
		}
		remaining := float64(at.Count) - localActor[id]
		if remaining+epsilon >= needed {
			candidates = append(candidates, candidate{id: id, remaining: remaining})
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].remaining != candidates[j].remaining {
			return candidates[i].remaining > candidates[j].remaining
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates[0].id
}

// release returns a step's charged reservation to the pool, verbatim:
// the refund goes to the same actor-type the reservation charged.
func (s *Scheduler) release(res reservation) {
	for task, amt := range res.taskDelta {
		s.taskUsage[task] -= amt
	}
	for at, amt := range res.actorDelta {
		s.actorUsage[at] -= amt
	}
}
