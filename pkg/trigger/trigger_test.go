package trigger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/choreoctl/choreo/pkg/trigger"
)

// fakeWorld is a hand-rolled trigger.World with fixed answers.
type fakeWorld struct {
	running   bool
	now       float64
	start     float64
	completed map[string]float64
	started   map[string]float64
	aborted   map[string]bool
	fired     map[string]bool
}

func (w fakeWorld) ProgramRunning() bool       { return w.running }
func (w fakeWorld) CurrentTime() float64       { return w.now }
func (w fakeWorld) ProgramStartTime() float64  { return w.start }
func (w fakeWorld) StepAborted(id string) bool { return w.aborted[id] }
func (w fakeWorld) ManualFired(n string) bool  { return w.fired[n] }

func (w fakeWorld) StepCompletedAt(id string) (float64, bool) {
	v, ok := w.completed[id]
	return v, ok
}

func (w fakeWorld) StepStartedAt(id string) (float64, bool) {
	v, ok := w.started[id]
	return v, ok
}

func TestProgramStart(t *testing.T) {
	assert.False(t, trigger.ProgramStart{}.IsSatisfied(fakeWorld{running: false}))
	assert.True(t, trigger.ProgramStart{}.IsSatisfied(fakeWorld{running: true}))
}

func TestProgramStartOffset(t *testing.T) {
	tr := trigger.ProgramStartOffset{OffsetSeconds: 10}
	assert.False(t, tr.IsSatisfied(fakeWorld{running: true, start: 100, now: 109}))
	assert.True(t, tr.IsSatisfied(fakeWorld{running: true, start: 100, now: 110}))
	assert.False(t, tr.IsSatisfied(fakeWorld{running: false, start: 100, now: 200}))
}

func TestAfterStep(t *testing.T) {
	w := fakeWorld{
		running:   true,
		now:       20,
		completed: map[string]float64{"a": 15},
		started:   map[string]float64{"a": 5, "b": 18},
	}

	assert.True(t, trigger.AfterStep{StepID: "a", Event: trigger.EventEnd}.IsSatisfied(w))
	assert.False(t, trigger.AfterStep{StepID: "a", Event: trigger.EventEnd, OffsetSeconds: 10}.IsSatisfied(w),
		"completion at 15 + 10s offset > now 20")
	assert.True(t, trigger.AfterStep{StepID: "a", Event: trigger.EventStart, OffsetSeconds: 15}.IsSatisfied(w))
	assert.False(t, trigger.AfterStep{StepID: "b", Event: trigger.EventEnd}.IsSatisfied(w), "b started but never completed")
	assert.False(t, trigger.AfterStep{StepID: "missing", Event: trigger.EventEnd}.IsSatisfied(w))
}

func TestAfterStepWithBuffer(t *testing.T) {
	w := fakeWorld{running: true, now: 20, completed: map[string]float64{"a": 15}}
	assert.True(t, trigger.AfterStepWithBuffer{StepID: "a", BufferSeconds: 5, Event: trigger.EventEnd}.IsSatisfied(w))
	assert.False(t, trigger.AfterStepWithBuffer{StepID: "a", BufferSeconds: 6, Event: trigger.EventEnd}.IsSatisfied(w))
}

func TestAbsolute(t *testing.T) {
	assert.False(t, trigger.Absolute{WallTime: 100}.IsSatisfied(fakeWorld{now: 99}))
	assert.True(t, trigger.Absolute{WallTime: 100}.IsSatisfied(fakeWorld{now: 100}))
}

func TestManualAndOnAbort(t *testing.T) {
	w := fakeWorld{
		fired:   map[string]bool{"go": true},
		aborted: map[string]bool{"a": true},
	}
	assert.True(t, trigger.Manual{Name: "go"}.IsSatisfied(w))
	assert.False(t, trigger.Manual{Name: "stop"}.IsSatisfied(w))
	assert.True(t, trigger.OnAbort{StepID: "a"}.IsSatisfied(w))
	assert.False(t, trigger.OnAbort{StepID: "b"}.IsSatisfied(w))
}

func TestComposite(t *testing.T) {
	w := fakeWorld{running: true, now: 5, fired: map[string]bool{"go": true}}

	sat := trigger.Manual{Name: "go"}
	unsat := trigger.Absolute{WallTime: 100}

	all := func(ts ...trigger.Trigger) trigger.Trigger {
		return trigger.Composite{Logic: trigger.LogicAll, Triggers: ts}
	}
	anyOf := func(ts ...trigger.Trigger) trigger.Trigger {
		return trigger.Composite{Logic: trigger.LogicAny, Triggers: ts}
	}

	assert.True(t, all(sat, trigger.ProgramStart{}).IsSatisfied(w))
	assert.False(t, all(sat, unsat).IsSatisfied(w))
	assert.True(t, anyOf(unsat, sat).IsSatisfied(w))
	assert.False(t, anyOf(unsat, unsat).IsSatisfied(w))

	// Empty composites never fire.
	assert.False(t, all().IsSatisfied(w))
	assert.False(t, anyOf().IsSatisfied(w))

	// Nested composite.
	assert.True(t, all(anyOf(unsat, sat), trigger.ProgramStart{}).IsSatisfied(w))
}

func TestReferencedStepIDs(t *testing.T) {
	tr := trigger.Composite{Logic: trigger.LogicAll, Triggers: []trigger.Trigger{
		trigger.AfterStep{StepID: "a"},
		trigger.OnAbort{StepID: "b"},
		trigger.Composite{Logic: trigger.LogicAny, Triggers: []trigger.Trigger{
			trigger.AfterStepWithBuffer{StepID: "c"},
		}},
		trigger.ProgramStart{},
	}}
	assert.Equal(t, []string{"a", "b", "c"}, trigger.ReferencedStepIDs(tr))
	assert.Nil(t, trigger.ReferencedStepIDs(trigger.ProgramStart{}))
}

func TestIsManual(t *testing.T) {
	assert.True(t, trigger.IsManual(trigger.Manual{Name: "go"}))
	assert.False(t, trigger.IsManual(trigger.ProgramStart{}))
	assert.True(t, trigger.IsManual(trigger.Composite{Logic: trigger.LogicAll, Triggers: []trigger.Trigger{
		trigger.ProgramStart{}, trigger.Manual{Name: "go"},
	}}))
}
