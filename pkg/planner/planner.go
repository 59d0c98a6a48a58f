// Package planner rewrites programs to reduce resource contention:
// given a Program (and optionally a resolved environment), it
// produces a semantically-equivalent Program that staggers track and
// step starts to reduce peak concurrent task/equipment usage.
package planner

import (
	"fmt"
	"sort"

	"github.com/choreoctl/choreo/pkg/environment"
	"github.com/choreoctl/choreo/pkg/program"
	"github.com/choreoctl/choreo/pkg/symtime"
	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// staggerInterval is the per-track start offset applied to contended
// tracks; paddingSeconds is the length of a synthetic delay step.
const (
	staggerInterval     = 5
	paddingSeconds      = 2
	bottleneckThreshold = 2
)

// Options configures a Plan call.
type Options struct {
	Resolved environment.Resolved
	Verbose  bool
}

// Note is one human-readable line the planner emits about a decision
// it made (bottleneck found, track staggered, step padded).
type Note string

// Plan normalizes and repairs triggers, simulates default- and
// worst-case timing, detects bottlenecked resources, and staggers and
// pads the schedule around them. It returns a new Program; p is never
// mutated.
func Plan(p *program.Program, opts Options) (*program.Program, []Note) {
	out := cloneProgram(p)
	var notes []Note

	repairTriggers(out)

	optimalStarts := symtime.Compute(out, func(s program.Step) int { return s.Duration.Calculate() })
	maxStarts := symtime.Compute(out, func(s program.Step) int { return s.Duration.Max() })

	optimalUsage := buildUsage(out, optimalStarts, func(s program.Step) int { return s.Duration.Calculate() })
	maxUsage := buildUsage(out, maxStarts, func(s program.Step) int { return s.Duration.Max() })

	optimalBottlenecks := optimalUsage.constrainedBottlenecks(opts.Resolved)
	maxBottlenecks := maxUsage.bottlenecks(bottleneckThreshold)

	resources := unionBottlenecks(optimalBottlenecks, maxBottlenecks)
	if opts.Verbose {
		for _, r := range resources {
			notes = append(notes, Note(fmt.Sprintf("resource bottleneck: %q", r)))
		}
	}

	if len(resources) > 0 {
		notes = append(notes, staggerTracks(out, resources)...)
		notes = append(notes, padSteps(out, resources)...)
	}

	return out, notes
}

func cloneProgram(p *program.Program) *program.Program {
	cp := *p
	cp.Tracks = make([]program.Track, len(p.Tracks))
	for i, t := range p.Tracks {
		ct := t
		ct.Steps = make([]program.Step, len(t.Steps))
		copy(ct.Steps, t.Steps)
		cp.Tracks[i] = ct
	}
	return &cp
}

// repairTriggers converts an implicit "start after previous" (a
// non-first step left on ProgramStart) into an explicit AfterStep,
// and repoints/reorders dangling or forward intra-track references.
// A reference to a step in a different track is left untouched — it's
// not "bad", and this pass has no way to reorder across tracks
// anyway; symtime.Compute resolves it globally regardless of
// intra-track position.
func repairTriggers(p *program.Program) {
	allIDs := map[string]bool{}
	for _, s := range p.AllSteps() {
		allIDs[s.ID] = true
	}

	for ti := range p.Tracks {
		steps := p.Tracks[ti].Steps
		if len(steps) <= 1 {
			continue
		}

		indexOf := func(id string) int {
			for i, s := range steps {
				if s.ID == id {
					return i
				}
			}
			return -1
		}

		for i := range steps {
			if i == 0 {
				continue
			}
			switch t := steps[i].StartTrigger.(type) {
			case trigger.ProgramStart, trigger.Manual:
				steps[i].StartTrigger = trigger.AfterStep{StepID: steps[i-1].ID, Event: trigger.EventEnd}
			case trigger.AfterStep:
				steps[i].StartTrigger = repairReference(t.StepID, allIDs, func(id string) trigger.Trigger {
					return trigger.AfterStep{StepID: id, Event: t.Event, OffsetSeconds: t.OffsetSeconds}
				}, i, steps, indexOf)
			case trigger.AfterStepWithBuffer:
				steps[i].StartTrigger = repairReference(t.StepID, allIDs, func(id string) trigger.Trigger {
					return trigger.AfterStepWithBuffer{StepID: id, Event: t.Event, BufferSeconds: t.BufferSeconds}
				}, i, steps, indexOf)
			}
		}
		p.Tracks[ti].Steps = steps
	}
}

// repairReference resolves one AfterStep-family reference. If refID
// doesn't exist anywhere in the program, repoint to the previous step
// in-track (or program start for the first step). If it exists in
// this track but appears after the referring step's position, move it
// into the referring step's position (the referring step and those
// between shift one later) and return the moved step's own trigger
// for that position. A reference to another track's step, or to the
// referring step itself, is returned unchanged.
func repairReference(refID string, allIDs map[string]bool, rebuild func(string) trigger.Trigger, i int, steps []program.Step, indexOf func(string) int) trigger.Trigger {
	if !allIDs[refID] {
		if i == 0 {
			return trigger.ProgramStart{}
		}
		return rebuild(steps[i-1].ID)
	}
	idx := indexOf(refID)
	if idx == -1 {
		return rebuild(refID) // valid reference, different track
	}
	if idx > i {
		ref := steps[idx]
		copy(steps[i+1:idx+1], steps[i:idx])
		steps[i] = ref
		steps[i+1].StartTrigger = rebuild(refID)
		return ref.StartTrigger
	}
	return rebuild(refID)
}

// usage accumulates (start, end) occupancy intervals per resource id
// (a task name or an equipment id).
type usage struct {
	intervals map[string][]interval
}

type interval struct {
	start, end float64
}

func newUsage() *usage { return &usage{intervals: map[string][]interval{}} }

func (u *usage) add(id string, start, end float64) {
	u.intervals[id] = append(u.intervals[id], interval{start: start, end: end})
}

// countAt returns the number of concurrently-occupied intervals for
// id at time t. Ends are exclusive: occupancy windows are [start, end).
func (u *usage) countAt(id string, t float64) int {
	n := 0
	for _, iv := range u.intervals[id] {
		if iv.start <= t && t < iv.end {
			n++
		}
	}
	return n
}

// peak returns the maximum concurrent occupancy id ever reaches.
func (u *usage) peak(id string) int {
	var edges []float64
	for _, iv := range u.intervals[id] {
		edges = append(edges, iv.start)
	}
	max := 0
	for _, t := range edges {
		if c := u.countAt(id, t); c > max {
			max = c
		}
	}
	return max
}

func (u *usage) constrainedBottlenecks(resolved environment.Resolved) []string {
	var out []string
	for id := range u.intervals {
		rc, ok := resolved.ConstraintFor(id)
		if !ok {
			continue
		}
		if u.peak(id) > rc.MaxConcurrent {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (u *usage) bottlenecks(threshold int) []string {
	var out []string
	for id := range u.intervals {
		if u.peak(id) >= threshold {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// buildUsage populates a usage profile over every task and equipment
// resource a program's steps touch.
func buildUsage(p *program.Program, starts map[string]float64, duration symtime.DurationFunc) *usage {
	u := newUsage()
	for _, s := range p.AllSteps() {
		start := starts[s.ID]
		end := start + float64(duration(s))
		for _, t := range s.Tasks {
			u.add(t.Name, start, end)
		}
		for _, r := range s.Resources {
			u.add(r, start, end)
		}
	}
	return u
}

// unionBottlenecks combines optimal- and worst-case bottleneck
// resource ids, listing those appearing in both first.
func unionBottlenecks(optimal, worst []string) []string {
	inWorst := make(map[string]bool, len(worst))
	for _, r := range worst {
		inWorst[r] = true
	}
	seen := map[string]bool{}
	var out []string
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range optimal {
		if inWorst[r] {
			add(r)
		}
	}
	for _, r := range worst {
		add(r)
	}
	for _, r := range optimal {
		add(r)
	}
	return out
}

func footprint(s program.Step) map[string]bool {
	m := make(map[string]bool, len(s.Tasks)+len(s.Resources))
	for _, t := range s.Tasks {
		m[t.Name] = true
	}
	for _, r := range s.Resources {
		m[r] = true
	}
	return m
}

func trackTouches(t program.Track, resource string) bool {
	for _, s := range t.Steps {
		if footprint(s)[resource] {
			return true
		}
	}
	return false
}

// staggerTracks defers the start of every contended track but the
// highest-priority one, k*staggerInterval for the k-th track.
func staggerTracks(p *program.Program, bottleneckResources []string) []Note {
	var notes []Note
	offsets := make([]int, len(p.Tracks))

	for _, resource := range bottleneckResources {
		var indices []int
		for i, t := range p.Tracks {
			if trackTouches(t, resource) {
				indices = append(indices, i)
			}
		}
		if len(indices) == 0 {
			continue
		}
		sort.SliceStable(indices, func(a, b int) bool {
			return averagePriority(p.Tracks[indices[a]]) < averagePriority(p.Tracks[indices[b]])
		})
		for i, idx := range indices {
			if i == 0 {
				continue
			}
			offsets[idx] += i * staggerInterval
		}
	}

	for idx, offset := range offsets {
		if offset == 0 {
			continue
		}
		applyTrackOffset(&p.Tracks[idx], offset)
		notes = append(notes, Note(fmt.Sprintf("staggered track %q start by %ds", p.Tracks[idx].ID, offset)))
	}
	return notes
}

func averagePriority(t program.Track) float64 {
	if len(t.Steps) == 0 {
		return float64(program.DefaultPriority)
	}
	sum := 0
	for _, s := range t.Steps {
		sum += s.Priority
	}
	return float64(sum) / float64(len(t.Steps))
}

// applyTrackOffset shifts a track's anchor (its first step's trigger)
// by offsetSeconds. Subsequent steps cascade automatically through
// their AfterStep chains. A first step not anchored to program start
// (Manual, Absolute, cross-track AfterStep) is left alone — best
// effort: there is no anchor to shift.
func applyTrackOffset(t *program.Track, offsetSeconds int) {
	if len(t.Steps) == 0 {
		return
	}
	switch v := t.Steps[0].StartTrigger.(type) {
	case trigger.ProgramStart:
		t.Steps[0].StartTrigger = trigger.ProgramStartOffset{OffsetSeconds: offsetSeconds}
	case trigger.ProgramStartOffset:
		t.Steps[0].StartTrigger = trigger.ProgramStartOffset{OffsetSeconds: v.OffsetSeconds + offsetSeconds}
	}
}

// padSteps inserts a synthetic short no-resource step before every
// non-first bottleneck-touching step, ordered by priority, rewiring
// the target to start after the padding step so the delay actually
// takes effect.
func padSteps(p *program.Program, bottleneckResources []string) []Note {
	var notes []Note
	resourceSet := make(map[string]bool, len(bottleneckResources))
	for _, r := range bottleneckResources {
		resourceSet[r] = true
	}

	for ti := range p.Tracks {
		track := &p.Tracks[ti]
		type target struct {
			id       string
			priority int
		}
		var targets []target
		for i, s := range track.Steps {
			if i == 0 {
				continue
			}
			fp := footprint(s)
			touches := false
			for r := range fp {
				if resourceSet[r] {
					touches = true
					break
				}
			}
			if touches {
				targets = append(targets, target{id: s.ID, priority: s.Priority})
			}
		}
		sort.SliceStable(targets, func(a, b int) bool { return targets[a].priority < targets[b].priority })

		for n, tgt := range targets {
			idx := -1
			for i, s := range track.Steps {
				if s.ID == tgt.id {
					idx = i
					break
				}
			}
			if idx <= 0 {
				continue
			}
			padding := program.Step{
				ID:           fmt.Sprintf("padding_%s_%d", track.ID, n),
				Name:         "Resource contention padding",
				Description:  "Added automatically to reduce resource contention",
				Priority:     program.DefaultPriority,
				Duration:     timeutil.Fixed(paddingSeconds),
				StartTrigger: track.Steps[idx].StartTrigger,
				TrackID:      track.ID,
			}
			track.Steps[idx].StartTrigger = trigger.AfterStep{StepID: padding.ID, Event: trigger.EventEnd}

			track.Steps = append(track.Steps, program.Step{})
			copy(track.Steps[idx+1:], track.Steps[idx:len(track.Steps)-1])
			track.Steps[idx] = padding

			notes = append(notes, Note(fmt.Sprintf("padded step %q in track %q", tgt.id, track.ID)))
		}
	}
	return notes
}
