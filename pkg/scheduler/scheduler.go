// Package scheduler implements the discrete-event runtime: a tick
// loop that evaluates triggers, admits steps under multi-dimensional
// resource constraints, and completes or aborts them. A Scheduler is
// the sole owner of all mutable execution state; Program/Environment
// values handed to New are never mutated.
package scheduler

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/choreoctl/choreo/pkg/codeexec"
	"github.com/choreoctl/choreo/pkg/environment"
	"github.com/choreoctl/choreo/pkg/program"
	"github.com/choreoctl/choreo/pkg/timeutil"
)

// Status is one of the five step lifecycle states.
type Status string

const (
	StatusPending          Status = "pending"
	StatusWaitingForManual Status = "waitingForManual"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusAborted          Status = "aborted"
)

// completionEpsilon is the 50ms float-tolerance window applied when
// checking a Fixed duration's expected end against the clock.
const completionEpsilon = 0.05

// nearZeroRemaining is the safety-completion threshold: a running
// step with less than this much of its expected duration left is
// completed regardless of duration kind. A numerical patch, not a
// contract — callers should not depend on its exact value.
const nearZeroRemaining = 0.1

// StepState is one step's live runtime state. Its fields are written
// only by the owning Scheduler, and only while it is ticking.
type StepState struct {
	Step program.Step

	Status Status

	StartedAt *float64
	EndedAt   *float64

	ExpectedEnd float64

	CodeResult *codeexec.Result

	AbortReason string

	reservation reservation
	order       int // definition order, for tie-break
}

// Running reports whether the step is currently Running, which holds
// exactly when StartedAt is set and EndedAt is not.
func (s StepState) Running() bool {
	return s.Status == StatusRunning
}

// manualFire records one received Trigger command for later
// World.ManualFired lookups.
type manualFire struct {
	TriggerName string
	StepID      string
}

// Scheduler is the tick-driven runtime for one Program.
type Scheduler struct {
	runID    string
	program  *program.Program
	resolved environment.Resolved

	clock     Clock
	executor  codeexec.Executor
	log       *log.Logger
	tracer    trace.Tracer
	timeScale float64

	queue *CommandQueue

	started           bool
	programFinished   bool
	startWall         time.Time
	programStartTime  float64
	currentTime       float64

	steps map[string]*StepState
	order []*StepState // track-then-definition order, fixed at New

	taskUsage  map[string]float64
	actorUsage map[string]float64

	manualFires []manualFire

	listeners []Listener
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithClock injects a Clock other than RealClock (tests).
func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithExecutor injects a codeexec.Executor other than a no-op.
func WithExecutor(e codeexec.Executor) Option { return func(s *Scheduler) { s.executor = e } }

// WithTimeScale sets the wall-clock-to-simulated-time multiplier.
// Default 1.0.
func WithTimeScale(scale float64) Option { return func(s *Scheduler) { s.timeScale = scale } }

// WithLogger sets the structured logger used for resource/command
// status messages.
func WithLogger(l *log.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithTracer sets the OpenTelemetry tracer Tick spans are recorded
// against. Default otel.Tracer("choreo/scheduler").
func WithTracer(t trace.Tracer) Option { return func(s *Scheduler) { s.tracer = t } }

// noopExecutor records nothing and never fails; used when a program
// has no code blocks or the caller hasn't configured one.
type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, program.CodeBlockKind, string, codeexec.StepVars) (codeexec.Result, error) {
	return codeexec.Result{}, nil
}

// New constructs a Scheduler for p using resolved (typically from
// environment.Resolve(p, catalog)). The program is never mutated.
func New(p *program.Program, resolved environment.Resolved, opts ...Option) *Scheduler {
	s := &Scheduler{
		runID:      uuid.NewString(),
		program:    p,
		resolved:   resolved,
		clock:      RealClock{},
		executor:   noopExecutor{},
		log:        log.New(io.Discard),
		tracer:     otel.Tracer("choreo/scheduler"),
		timeScale:  1.0,
		queue:      NewCommandQueue(),
		steps:      make(map[string]*StepState),
		taskUsage:  make(map[string]float64),
		actorUsage: make(map[string]float64),
	}
	for id := range resolved.ActorTypes {
		s.actorUsage[id] = 0
	}
	idx := 0
	for _, tr := range p.Tracks {
		for _, step := range tr.Steps {
			st := &StepState{Step: step, Status: StatusPending, order: idx}
			s.steps[step.ID] = st
			s.order = append(s.order, st)
			idx++
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit enqueues a Command for observation at the start of the next
// Tick. Safe to call from any goroutine.
func (s *Scheduler) Submit(c Command) { s.queue.Push(c) }

// Snapshot returns every step's current state, in track-then-
// definition order. Safe to call between Tick invocations; must not
// be called concurrently with Tick.
func (s *Scheduler) Snapshot() []StepState {
	out := make([]StepState, len(s.order))
	for i, st := range s.order {
		out[i] = *st
	}
	return out
}

// Program returns the Program this Scheduler was constructed for.
func (s *Scheduler) Program() *program.Program { return s.program }

// RunID returns the unique id assigned to this Scheduler instance at
// construction; it tags log lines and tick spans so concurrent runs of
// the same program document stay distinguishable.
func (s *Scheduler) RunID() string { return s.runID }

// Started reports whether StartProgram has been processed.
func (s *Scheduler) Started() bool { return s.started }

// Finished reports whether every step has reached a terminal status.
func (s *Scheduler) Finished() bool { return s.programFinished }

// Tick runs one scheduler iteration: drain commands, advance the
// clock, admit ready steps, complete expired ones. It is wrapped in
// an OpenTelemetry span carrying admission/completion counts as
// attributes — observability only, never gating control flow.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()
	span.SetAttributes(attribute.String("scheduler.run_id", s.runID))

	s.drainCommands()
	if !s.started {
		span.SetAttributes(attribute.Bool("scheduler.started", false))
		return
	}

	wallElapsed := s.clock.Now().Sub(s.startWall).Seconds()
	s.currentTime = s.programStartTime + wallElapsed*s.timeScale

	admitted := s.admissionPhase(ctx)
	completed := s.completionPhase()

	span.SetAttributes(
		attribute.Float64("scheduler.current_time", s.currentTime),
		attribute.Int("scheduler.admitted", admitted),
		attribute.Int("scheduler.completed", completed),
	)

	if !s.programFinished && s.allTerminal() {
		s.programFinished = true
		s.emit(Event{Kind: EventProgramFinished, Time: s.currentTime})
	}
}

func (s *Scheduler) allTerminal() bool {
	for _, st := range s.order {
		if st.Status != StatusCompleted && st.Status != StatusAborted {
			return false
		}
	}
	return true
}

// drainCommands processes every command queued since the last Tick,
// in FIFO order.
func (s *Scheduler) drainCommands() {
	for _, c := range s.queue.drain() {
		switch c.Kind {
		case CommandStartProgram:
			s.handleStartProgram()
		case CommandTrigger:
			s.handleTrigger(c)
		case CommandAbort:
			s.handleAbort(c)
		case CommandForceComplete:
			s.handleForceComplete(c)
		}
	}
}

func (s *Scheduler) handleStartProgram() {
	if s.started {
		return
	}
	s.started = true
	s.startWall = s.clock.Now()
	s.programStartTime = epochSeconds(s.startWall)
	s.currentTime = s.programStartTime
	s.emit(Event{Kind: EventProgramStarted, Time: s.currentTime})

	if len(s.order) == 0 {
		// A program with no steps completes immediately on start.
		s.programFinished = true
		s.emit(Event{Kind: EventProgramFinished, Time: s.currentTime})
		return
	}

	// A step whose own trigger is (or contains) Manual transitions to
	// WaitingForManual as soon as any matching command has arrived,
	// even if the step cannot yet be admitted for resource reasons;
	// ProgramStart-triggered manual waits have nothing to wait for at
	// t=0 so this is a no-op here, but harmless to run regardless.
	s.refreshWaitingForManual()
}

func (s *Scheduler) handleTrigger(c Command) {
	if c.TriggerName == "" {
		s.log.Warn("trigger command missing triggerName", "stepId", c.StepID)
		return
	}
	s.manualFires = append(s.manualFires, manualFire{TriggerName: c.TriggerName, StepID: c.StepID})
	s.completeManualDurations(c)
	s.refreshWaitingForManual()
}

// completeManualDurations ends any Running step whose Variable/
// Indefinite duration names this manual trigger, subject to the same
// minimum-dwell gate as ForceComplete. A command carrying a step_id
// targets that step alone; without one it's delivered to every
// matching step.
func (s *Scheduler) completeManualDurations(c Command) {
	for _, st := range s.order {
		if st.Status != StatusRunning {
			continue
		}
		if st.Step.Duration.ManualTrigger == "" || st.Step.Duration.ManualTrigger != c.TriggerName {
			continue
		}
		if c.StepID != "" && c.StepID != st.Step.ID {
			continue
		}
		if s.currentTime-*st.StartedAt < float64(st.Step.Duration.Min()) {
			s.log.Warn("manual completion before minimum dwell", "stepId", st.Step.ID, "trigger", c.TriggerName)
			continue
		}
		s.completeStep(st)
	}
}

func (s *Scheduler) handleAbort(c Command) {
	st, ok := s.steps[c.StepID]
	if !ok {
		s.log.Warn("abort: unknown step id", "stepId", c.StepID)
		return
	}
	if st.Status != StatusRunning {
		s.log.Warn("abort: step is not running, no-op", "stepId", c.StepID, "status", st.Status)
		return
	}
	s.abortStep(st, "explicit abort command")
}

func (s *Scheduler) handleForceComplete(c Command) {
	st, ok := s.steps[c.StepID]
	if !ok {
		s.log.Warn("forceComplete: unknown step id", "stepId", c.StepID)
		return
	}
	if st.Status != StatusRunning {
		s.log.Warn("forceComplete: step is not running, no-op", "stepId", c.StepID, "status", st.Status)
		return
	}
	if st.Step.Duration.Kind != timeutil.DurationFixed && s.currentTime-*st.StartedAt < float64(st.Step.Duration.Min()) {
		// A variable-duration step cannot be manually completed before
		// its minimum has elapsed.
		s.log.Warn("forceComplete: minimum dwell not yet elapsed", "stepId", c.StepID)
		return
	}
	s.completeStep(st)
}

// refreshWaitingForManual promotes every Pending step whose trigger
// is, or contains, a satisfied Manual sub-trigger to WaitingForManual.
// The commit to Running happens in the admission phase later in the
// same Tick.
func (s *Scheduler) refreshWaitingForManual() {
	for _, st := range s.order {
		if st.Status != StatusPending {
			continue
		}
		if hasManualSignal(st.Step.StartTrigger, stepWorld{s, st.Step.ID}) {
			st.Status = StatusWaitingForManual
		}
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
