package symtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/choreoctl/choreo/pkg/program"
	"github.com/choreoctl/choreo/pkg/symtime"
	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

func defaultDuration(s program.Step) int { return s.Duration.Calculate() }

func chainProgram() *program.Program {
	return &program.Program{
		ID: "p",
		Tracks: []program.Track{{
			ID: "t1",
			Steps: []program.Step{
				{ID: "a", Duration: timeutil.Fixed(10), StartTrigger: trigger.ProgramStart{}},
				{ID: "b", Duration: timeutil.Fixed(5), StartTrigger: trigger.AfterStep{StepID: "a", Event: trigger.EventEnd}},
				{ID: "c", Duration: timeutil.Fixed(3), StartTrigger: trigger.AfterStep{StepID: "b", Event: trigger.EventEnd, OffsetSeconds: 2}},
			},
		}},
	}
}

func TestCompute_LinearChain(t *testing.T) {
	starts := symtime.Compute(chainProgram(), defaultDuration)
	assert.Equal(t, float64(0), starts["a"])
	assert.Equal(t, float64(10), starts["b"])
	assert.Equal(t, float64(17), starts["c"], "b ends at 15 + 2s offset")
}

func TestCompute_StartEdgeAndOffset(t *testing.T) {
	p := &program.Program{
		Tracks: []program.Track{{
			ID: "t1",
			Steps: []program.Step{
				{ID: "a", Duration: timeutil.Fixed(10), StartTrigger: trigger.ProgramStartOffset{OffsetSeconds: 4}},
				{ID: "b", Duration: timeutil.Fixed(5), StartTrigger: trigger.AfterStep{StepID: "a", Event: trigger.EventStart, OffsetSeconds: 3}},
				{ID: "buf", Duration: timeutil.Fixed(1), StartTrigger: trigger.AfterStepWithBuffer{StepID: "a", BufferSeconds: 6, Event: trigger.EventEnd}},
			},
		}},
	}
	starts := symtime.Compute(p, defaultDuration)
	assert.Equal(t, float64(4), starts["a"])
	assert.Equal(t, float64(7), starts["b"], "start edge at 4 + 3s offset")
	assert.Equal(t, float64(20), starts["buf"], "end edge at 14 + 6s buffer")
}

// Manual, Absolute and OnAbort carry no symbolic timing and resolve to
// program start, as do dangling references.
func TestCompute_UnresolvableTriggersFallBackToZero(t *testing.T) {
	p := &program.Program{
		Tracks: []program.Track{{
			ID: "t1",
			Steps: []program.Step{
				{ID: "m", Duration: timeutil.Fixed(1), StartTrigger: trigger.Manual{Name: "go"}},
				{ID: "abs", Duration: timeutil.Fixed(1), StartTrigger: trigger.Absolute{WallTime: 999}},
				{ID: "dangling", Duration: timeutil.Fixed(1), StartTrigger: trigger.AfterStep{StepID: "ghost", Event: trigger.EventEnd}},
			},
		}},
	}
	starts := symtime.Compute(p, defaultDuration)
	assert.Equal(t, float64(0), starts["m"])
	assert.Equal(t, float64(0), starts["abs"])
	assert.Equal(t, float64(0), starts["dangling"])
}

func TestCompute_Composite(t *testing.T) {
	p := &program.Program{
		Tracks: []program.Track{{
			ID: "t1",
			Steps: []program.Step{
				{ID: "a", Duration: timeutil.Fixed(10), StartTrigger: trigger.ProgramStart{}},
				{ID: "all", Duration: timeutil.Fixed(1), StartTrigger: trigger.Composite{
					Logic: trigger.LogicAll,
					Triggers: []trigger.Trigger{
						trigger.AfterStep{StepID: "a", Event: trigger.EventEnd},
						trigger.ProgramStartOffset{OffsetSeconds: 15},
					},
				}},
				{ID: "any", Duration: timeutil.Fixed(1), StartTrigger: trigger.Composite{
					Logic: trigger.LogicAny,
					Triggers: []trigger.Trigger{
						trigger.AfterStep{StepID: "a", Event: trigger.EventEnd},
						trigger.ProgramStartOffset{OffsetSeconds: 3},
					},
				}},
			},
		}},
	}
	starts := symtime.Compute(p, defaultDuration)
	assert.Equal(t, float64(15), starts["all"], "All waits for the latest child")
	assert.Equal(t, float64(3), starts["any"], "Any takes the earliest child")
}

func TestCompute_CycleFallsBackToZero(t *testing.T) {
	p := &program.Program{
		Tracks: []program.Track{{
			ID: "t1",
			Steps: []program.Step{
				{ID: "a", Duration: timeutil.Fixed(5), StartTrigger: trigger.AfterStep{StepID: "b", Event: trigger.EventEnd}},
				{ID: "b", Duration: timeutil.Fixed(5), StartTrigger: trigger.AfterStep{StepID: "a", Event: trigger.EventEnd}},
			},
		}},
	}
	starts := symtime.Compute(p, defaultDuration)
	// Whichever step resolves first sees its partner as "program start".
	assert.Len(t, starts, 2)
	for id, v := range starts {
		assert.GreaterOrEqual(t, v, float64(0), id)
	}
}

func TestWindows_SortedByStart(t *testing.T) {
	p := chainProgram()
	starts := symtime.Compute(p, defaultDuration)
	windows := symtime.Windows(p.Tracks[0], starts, defaultDuration)

	assert.Equal(t, []string{"a", "b", "c"}, []string{windows[0].StepID, windows[1].StepID, windows[2].StepID})
	assert.Equal(t, float64(10), windows[0].End)
	assert.Equal(t, float64(15), windows[1].End)
}

// Worst-case analysis uses max durations: the same chain stretches.
func TestCompute_MaxDurations(t *testing.T) {
	p := &program.Program{
		Tracks: []program.Track{{
			ID: "t1",
			Steps: []program.Step{
				{ID: "a", Duration: timeutil.Duration{
					Kind: timeutil.DurationVariable, MinSeconds: 5, DefaultSeconds: 10, MaxSeconds: 20,
				}, StartTrigger: trigger.ProgramStart{}},
				{ID: "b", Duration: timeutil.Fixed(5), StartTrigger: trigger.AfterStep{StepID: "a", Event: trigger.EventEnd}},
			},
		}},
	}
	def := symtime.Compute(p, func(s program.Step) int { return s.Duration.Calculate() })
	worst := symtime.Compute(p, func(s program.Step) int { return s.Duration.Max() })
	assert.Equal(t, float64(10), def["b"])
	assert.Equal(t, float64(20), worst["b"])
}
