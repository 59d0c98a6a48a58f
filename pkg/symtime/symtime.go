// Package symtime computes symbolic step start times from a Program's
// triggers without running a Scheduler: a step's start time is
// expressed purely in terms of program-start offsets and other steps'
// computed start times plus their duration. Both the validator's
// intra-track overlap check and the planner's simulation pass call
// this package, so the two components never disagree about what "the
// program's timing" means.
package symtime

import (
	"fmt"
	"sort"

	"github.com/choreoctl/choreo/pkg/program"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// DurationFunc returns the seconds to use for a step's duration when
// propagating start times; callers pass Duration.Calculate (default),
// Duration.Max (worst case), or Duration.Min depending on which
// analysis they're running.
type DurationFunc func(s program.Step) int

// Compute returns every step's symbolic start time in seconds from
// program start, keyed by step id. Triggers with no symbolic timing
// (Manual, Absolute, OnAbort, or a dangling step reference) fall back
// to 0, i.e. program start — the validator is responsible for
// flagging dangling references as errors separately.
func Compute(p *program.Program, duration DurationFunc) map[string]float64 {
	steps := make(map[string]program.Step)
	for _, s := range p.AllSteps() {
		steps[s.ID] = s
	}

	result := make(map[string]float64, len(steps))
	visiting := make(map[string]bool, len(steps))

	var resolve func(id string) float64
	resolve = func(id string) float64 {
		if v, ok := result[id]; ok {
			return v
		}
		s, ok := steps[id]
		if !ok {
			return 0
		}
		if visiting[id] {
			// Cyclic trigger reference: treat as program start rather
			// than recursing forever.
			return 0
		}
		visiting[id] = true
		start := startTime(s.StartTrigger, resolve, steps, duration)
		visiting[id] = false
		result[id] = start
		return start
	}

	for id := range steps {
		resolve(id)
	}
	return result
}

func startTime(t trigger.Trigger, resolve func(string) float64, steps map[string]program.Step, duration DurationFunc) float64 {
	switch v := t.(type) {
	case nil, trigger.ProgramStart:
		return 0
	case trigger.ProgramStartOffset:
		return maxFloat(0, float64(v.OffsetSeconds))
	case trigger.AfterStep:
		return afterStep(v.StepID, v.Event, v.OffsetSeconds, resolve, steps, duration)
	case trigger.AfterStepWithBuffer:
		return afterStep(v.StepID, v.Event, v.BufferSeconds, resolve, steps, duration)
	case trigger.Composite:
		if len(v.Triggers) == 0 {
			return 0
		}
		switch v.Logic {
		case trigger.LogicAny:
			min := startTime(v.Triggers[0], resolve, steps, duration)
			for _, c := range v.Triggers[1:] {
				if s := startTime(c, resolve, steps, duration); s < min {
					min = s
				}
			}
			return min
		default: // All
			max := startTime(v.Triggers[0], resolve, steps, duration)
			for _, c := range v.Triggers[1:] {
				if s := startTime(c, resolve, steps, duration); s > max {
					max = s
				}
			}
			return max
		}
	default:
		// Manual, Absolute, OnAbort: no symbolic timing available.
		return 0
	}
}

func afterStep(stepID string, event trigger.Event, offset int, resolve func(string) float64, steps map[string]program.Step, duration DurationFunc) float64 {
	if stepID == "" {
		return 0
	}
	refStart := resolve(stepID)
	base := refStart
	if event != trigger.EventStart {
		if ref, ok := steps[stepID]; ok {
			base = refStart + float64(duration(ref))
		}
	}
	return maxFloat(0, base+float64(offset))
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Window is a step's computed [start, end) interval, used for overlap
// detection.
type Window struct {
	StepID    string
	Name      string
	Start     float64
	End       float64
	DurationS int
}

// Windows computes [start,end) for every step in track using the
// given DurationFunc, sorted by start time — the shape the overlap
// scan walks pairwise.
func Windows(track program.Track, starts map[string]float64, duration DurationFunc) []Window {
	out := make([]Window, 0, len(track.Steps))
	for _, s := range track.Steps {
		d := duration(s)
		start := starts[s.ID]
		out = append(out, Window{
			StepID:    s.ID,
			Name:      displayName(s),
			Start:     start,
			End:       start + float64(d),
			DurationS: d,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func displayName(s program.Step) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// FormatOverlap renders the error message for one overlapping pair
// of step windows.
func FormatOverlap(trackName string, a, b Window) string {
	overlap := a.End - b.Start
	return fmt.Sprintf(
		"track %q: steps %q and %q overlap by %gs (ends at %gs, next starts at %gs)",
		trackName, a.Name, b.Name, overlap, a.End, b.Start,
	)
}
