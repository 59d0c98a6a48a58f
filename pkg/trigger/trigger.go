// Package trigger models the closed set of predicates over world
// state that license a step (or the program itself) to begin.
// Triggers are a closed sum type: every
// variant implements Trigger via an unexported marker method, so the
// set of variants is fixed to the types declared here and callers
// cannot subclass their way around it.
package trigger

// Event names which step lifecycle edge a trigger watches.
type Event string

const (
	EventStart Event = "start"
	EventEnd   Event = "end"
)

// Logic names the combinator for a Composite trigger.
type Logic string

const (
	LogicAll Logic = "all"
	LogicAny Logic = "any"
)

// World is the subset of scheduler state a Trigger needs to evaluate
// itself. The scheduler is the only production implementation; tests
// supply fakes for deterministic evaluation.
type World interface {
	// ProgramRunning reports whether the program has started.
	ProgramRunning() bool
	// CurrentTime is the scheduler's current simulated/wall clock, in
	// seconds on whatever epoch the caller chose (must be consistent
	// across all calls within one evaluation).
	CurrentTime() float64
	// ProgramStartTime is the time at which the program began.
	ProgramStartTime() float64
	// StepCompletedAt returns the completion time of stepID and true,
	// or (0, false) if it has not completed.
	StepCompletedAt(stepID string) (float64, bool)
	// StepStartedAt returns the start time of stepID and true, or
	// (0, false) if it has not started.
	StepStartedAt(stepID string) (float64, bool)
	// StepAborted reports whether stepID is in the Aborted state.
	StepAborted(stepID string) bool
	// ManualFired reports whether a Manual command with this trigger
	// name has arrived.
	ManualFired(name string) bool
}

// Trigger is the closed sum type. The unexported method prevents
// types outside this package from implementing it.
type Trigger interface {
	IsSatisfied(w World) bool
	trigger()
}

// ProgramStart is satisfied as soon as the program is running.
type ProgramStart struct{}

func (ProgramStart) trigger() {}

// IsSatisfied reports whether the program has started.
func (ProgramStart) IsSatisfied(w World) bool { return w.ProgramRunning() }

// ProgramStartOffset is satisfied once δ seconds have elapsed since
// the program started.
type ProgramStartOffset struct {
	OffsetSeconds int
}

func (ProgramStartOffset) trigger() {}

// IsSatisfied reports whether the offset has elapsed since program start.
func (t ProgramStartOffset) IsSatisfied(w World) bool {
	if !w.ProgramRunning() {
		return false
	}
	return w.CurrentTime()-w.ProgramStartTime() >= float64(t.OffsetSeconds)
}

// AfterStep is satisfied once the referenced step has reached Event
// (Start or End) and OffsetSeconds have elapsed since that edge.
type AfterStep struct {
	StepID        string
	Event         Event
	OffsetSeconds int
}

func (AfterStep) trigger() {}

// IsSatisfied reports whether the referenced step's edge, plus offset, has passed.
func (t AfterStep) IsSatisfied(w World) bool {
	var edge float64
	var ok bool
	switch t.Event {
	case EventStart:
		edge, ok = w.StepStartedAt(t.StepID)
	default:
		edge, ok = w.StepCompletedAt(t.StepID)
	}
	if !ok {
		return false
	}
	return edge+float64(t.OffsetSeconds) <= w.CurrentTime()
}

// AfterStepWithBuffer is satisfied once BufferSeconds have elapsed
// since the referenced step reached Event. Semantically this is
// AfterStep with the buffer used as the offset; it is kept as a
// distinct variant because the document schema names it separately.
type AfterStepWithBuffer struct {
	StepID        string
	BufferSeconds int
	Event         Event
}

func (AfterStepWithBuffer) trigger() {}

// IsSatisfied reports whether the referenced step's edge, plus buffer, has passed.
func (t AfterStepWithBuffer) IsSatisfied(w World) bool {
	return AfterStep{StepID: t.StepID, Event: t.Event, OffsetSeconds: t.BufferSeconds}.IsSatisfied(w)
}

// Absolute is satisfied once the clock reaches WallTime (seconds, same
// epoch as World.CurrentTime).
type Absolute struct {
	WallTime float64
}

func (Absolute) trigger() {}

// IsSatisfied reports whether the current time has reached WallTime.
func (t Absolute) IsSatisfied(w World) bool { return w.CurrentTime() >= t.WallTime }

// Manual is satisfied once a matching Trigger command has arrived.
// A step whose trigger is Manual first transitions to
// WaitingForManual and commits once the command has been observed;
// World.ManualFired reflects "observed" and the scheduler controls the
// commit timing, not Trigger.
type Manual struct {
	Name string
}

func (Manual) trigger() {}

// IsSatisfied reports whether a matching manual command has fired.
func (t Manual) IsSatisfied(w World) bool { return w.ManualFired(t.Name) }

// OnAbort is satisfied once the referenced step is Aborted.
type OnAbort struct {
	StepID string
}

func (OnAbort) trigger() {}

// IsSatisfied reports whether the referenced step has been aborted.
func (t OnAbort) IsSatisfied(w World) bool { return w.StepAborted(t.StepID) }

// Composite combines child triggers with All (conjunction) or Any
// (disjunction) logic, evaluated at a single logical instant: the
// same World value is handed to every child.
type Composite struct {
	Logic    Logic
	Triggers []Trigger
}

func (Composite) trigger() {}

// IsSatisfied evaluates every child trigger against w and combines them per Logic.
func (t Composite) IsSatisfied(w World) bool {
	if len(t.Triggers) == 0 {
		return false
	}
	switch t.Logic {
	case LogicAny:
		for _, child := range t.Triggers {
			if child.IsSatisfied(w) {
				return true
			}
		}
		return false
	default: // LogicAll
		for _, child := range t.Triggers {
			if !child.IsSatisfied(w) {
				return false
			}
		}
		return true
	}
}

// ReferencedStepIDs returns every step id this trigger (including any
// nested Composite children) refers to, used by the validator to
// detect dangling references.
func ReferencedStepIDs(t Trigger) []string {
	switch v := t.(type) {
	case AfterStep:
		return []string{v.StepID}
	case AfterStepWithBuffer:
		return []string{v.StepID}
	case OnAbort:
		return []string{v.StepID}
	case Composite:
		var ids []string
		for _, child := range v.Triggers {
			ids = append(ids, ReferencedStepIDs(child)...)
		}
		return ids
	default:
		return nil
	}
}

// IsManual reports whether t is, or (for Composite) contains, a
// Manual trigger.
func IsManual(t Trigger) bool {
	switch v := t.(type) {
	case Manual:
		return true
	case Composite:
		for _, child := range v.Triggers {
			if IsManual(child) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
