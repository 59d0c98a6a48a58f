// Package program implements the Program/Track/Step/Environment-
// reference data model and its document (de)serialization. Program
// values are immutable once built: nothing in this package mutates a
// Program after Build/Parse returns it.
package program

import (
	"fmt"

	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// CodeBlockKind names the two supported code-block runtimes.
type CodeBlockKind string

const (
	CodeBlockInlineScript CodeBlockKind = "inlineScript"
	CodeBlockShellCommand CodeBlockKind = "shellCommand"
)

// CodeBlock is a step's optional once-at-start executable payload.
type CodeBlock struct {
	Kind   CodeBlockKind
	Source string
}

// TaskResource is one (task name, fractional share) pair a step
// consumes.
type TaskResource struct {
	Name     string
	Fraction float64
}

// Buffer is a pre- or post-step reservation: the scheduler charges its
// Tasks together with the step's own tasks for the whole time the step
// runs. Duration is carried from the document; no timing (scheduler,
// planner or validator) uses it, so a buffer has no window of its own.
type Buffer struct {
	Tasks    []TaskResource
	Duration timeutil.Duration
}

// Step is a single unit of scheduled work: a trigger, a duration,
// and the tasks it consumes while running.
type Step struct {
	ID          string
	Name        string
	Description string
	Priority    int // lower = higher priority; default 100

	Tasks     []TaskResource
	Resources []string // equipment ids, pass-through

	Duration timeutil.Duration

	StartTrigger trigger.Trigger

	CodeBlock *CodeBlock

	PreBuffer  *Buffer
	PostBuffer *Buffer

	// TrackID/BatchIndex are populated during Build, not by the
	// document itself; they let a flattened step map still answer
	// "which track/batch did this come from" without a back-pointer
	// graph.
	TrackID    string
	BatchIndex int
}

// DefaultPriority is used for steps that don't specify one.
const DefaultPriority = 100

// Track is an ordered sequence of steps intended to execute serially
// in isolation from other tracks.
type Track struct {
	ID   string
	Name string
	// Steps is the materialized step list: after batch expansion, one
	// Track's Steps may represent `batch_size` logical repetitions,
	// each already built as distinct Step values with suffixed ids.
	Steps []Step

	// TemplateID, if non-empty, names an entry of Program.TrackTemplates
	// this track was instantiated from; the validator checks it resolves.
	TemplateID string

	BatchSize      int
	StaggerSeconds int

	// Metadata carries any track-level opaque fields not modeled
	// above, so downstream re-serialization doesn't silently drop
	// fields the document author included.
	Metadata map[string]any
}

// ResourceConstraint is one entry of an Environment or inline
// resource-constraint list.
type ResourceConstraint struct {
	Task                string
	MaxConcurrent       int
	ActorsRequired      float64
	QualifiedActorTypes []string
	Description         string
}

// EnvironmentRef is the mutually-exclusive choice a Program makes for
// its resource/actor configuration.
type EnvironmentRef struct {
	// At most one of Inline/EnvID is set, never both; neither is set
	// when the program supplies only an actors count. Inline embeds a
	// full resourceConstraints list;
	// EnvID names a cataloged Environment to fetch at resolve time.
	Inline *InlineEnvironment
	EnvID  string

	// Overrides holds program-level resourceConstraints entries that
	// accompany an EnvID reference: per-task entries that take
	// precedence over the referenced environment's own constraints for
	// the same task key. Only meaningful when EnvID is set.
	Overrides []ResourceConstraint

	// Actors is the legacy single-integer actor-pool fallback; it may
	// be set alongside EnvID (overrides) or alone (no environment at
	// all). Zero means "unspecified" and resolves to 1.
	Actors int
}

// InlineEnvironment is a Program's embedded environment definition
// (resource_constraints + actors count), as opposed to a reference to
// a cataloged Environment by id.
type InlineEnvironment struct {
	ResourceConstraints []ResourceConstraint
	Actors              int
}

// HasInline reports whether the program embeds its own environment.
func (r EnvironmentRef) HasInline() bool { return r.Inline != nil }

// HasEnvRef reports whether the program references a cataloged environment.
func (r EnvironmentRef) HasEnvRef() bool { return r.EnvID != "" }

// Validate rejects an environment reference that is both inline and
// referenced; having neither is accepted.
func (r EnvironmentRef) Validate() error {
	if r.HasInline() && r.HasEnvRef() {
		return fmt.Errorf("program specifies both inline resourceConstraints and an environment reference")
	}
	return nil
}

// Program is the top-level, immutable configuration a document
// describes.
type Program struct {
	ID          string
	Name        string
	Version     string
	Description string

	StartTrigger trigger.Trigger
	Tracks       []Track

	EnvironmentRef EnvironmentRef

	TrackTemplates []string // template ids the program declares available
	Metadata       map[string]any
}

// StepByID returns the step with the given id and true, or the zero
// Step and false.
func (p *Program) StepByID(id string) (Step, bool) {
	for _, tr := range p.Tracks {
		for _, s := range tr.Steps {
			if s.ID == id {
				return s, true
			}
		}
	}
	return Step{}, false
}

// AllSteps returns every step across every track, in track-then-
// definition order.
func (p *Program) AllSteps() []Step {
	var out []Step
	for _, tr := range p.Tracks {
		out = append(out, tr.Steps...)
	}
	return out
}
