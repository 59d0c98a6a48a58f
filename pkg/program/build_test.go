package program_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choreoctl/choreo/pkg/program"
	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

const yamlDoc = `
programId: bake-day
name: Bake Day
version: 1.2.0
startTrigger:
  type: programStart
resourceConstraints:
  - task: baking
    maxConcurrent: 2
    actorsRequired: 1
    qualifiedActorTypes: [baker, head-baker]
actors: 3
tracks:
  - trackId: breads
    name: Breads
    steps:
      - stepId: proof
        name: Proof dough
        duration: 30m
        startTrigger:
          type: programStart
      - stepId: bake
        task: baking
        priority: 5
        duration:
          type: variable
          minSeconds: 20m
          maxSeconds: 40m
          defaultSeconds: 30m
        startTrigger:
          type: afterStep
          stepId: proof
          event: end
`

func TestParse_YAML(t *testing.T) {
	p, err := program.Parse([]byte(yamlDoc), program.FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "bake-day", p.ID)
	assert.Equal(t, "Bake Day", p.Name)
	assert.IsType(t, trigger.ProgramStart{}, p.StartTrigger)

	require.True(t, p.EnvironmentRef.HasInline())
	require.Len(t, p.EnvironmentRef.Inline.ResourceConstraints, 1)
	rc := p.EnvironmentRef.Inline.ResourceConstraints[0]
	assert.Equal(t, "baking", rc.Task)
	assert.Equal(t, 2, rc.MaxConcurrent)
	assert.Equal(t, []string{"baker", "head-baker"}, rc.QualifiedActorTypes)
	assert.Equal(t, 3, p.EnvironmentRef.Inline.Actors)

	require.Len(t, p.Tracks, 1)
	steps := p.Tracks[0].Steps
	require.Len(t, steps, 2)

	proof := steps[0]
	assert.Equal(t, timeutil.Fixed(1800), proof.Duration, "30m time string normalized to seconds")
	assert.Equal(t, program.DefaultPriority, proof.Priority)

	bake := steps[1]
	assert.Equal(t, 5, bake.Priority)
	assert.Equal(t, []program.TaskResource{{Name: "baking", Fraction: 1.0}}, bake.Tasks, "single task field is sugar for share 1.0")
	assert.Equal(t, timeutil.DurationVariable, bake.Duration.Kind)
	assert.Equal(t, 1200, bake.Duration.MinSeconds)
	assert.Equal(t, 2400, bake.Duration.MaxSeconds)
	assert.Equal(t, 1800, bake.Duration.DefaultSeconds)
	after, ok := bake.StartTrigger.(trigger.AfterStep)
	require.True(t, ok)
	assert.Equal(t, "proof", after.StepID)
	assert.Equal(t, trigger.EventEnd, after.Event)
}

func TestParse_RelaxedJSON(t *testing.T) {
	jsonDoc := []byte(`{
		// hand-edited program files may carry comments
		"programId": "p1",
		"name": "P1",
		"startTrigger": {"type": "programStart"},
		"tracks": [
			{
				"trackId": "t1",
				"steps": [
					{"stepId": "s1", "duration": 10, "startTrigger": {"type": "programStart"}},
				],
			},
		],
	}`)

	p, err := program.Parse(jsonDoc, program.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	require.Len(t, p.Tracks, 1)
	assert.Equal(t, timeutil.Fixed(10), p.Tracks[0].Steps[0].Duration)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := program.Parse([]byte(`{"programId": `), program.FormatJSON)
	require.Error(t, err)
	var parseErr *program.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestBuild_TaskResourceForms(t *testing.T) {
	doc := map[string]any{
		"programId":    "p",
		"name":         "p",
		"startTrigger": map[string]any{"type": "programStart"},
		"tracks": []any{
			map[string]any{"trackId": "t1", "steps": []any{
				map[string]any{
					"stepId":       "s1",
					"duration":     5,
					"startTrigger": map[string]any{"type": "programStart"},
					"tasks":        []any{"mixing", "kneading"},
					"taskResources": []any{
						map[string]any{"name": "mixing", "fraction": 0.5},
					},
				},
			}},
		},
	}

	p, err := program.Build(doc)
	require.NoError(t, err)

	tasks := p.Tracks[0].Steps[0].Tasks
	require.Len(t, tasks, 2)
	assert.Equal(t, program.TaskResource{Name: "mixing", Fraction: 0.5}, tasks[0], "taskResources entry overrides the tasks[] share")
	assert.Equal(t, program.TaskResource{Name: "kneading", Fraction: 1.0}, tasks[1])
}

func TestBuild_BatchExpansion(t *testing.T) {
	doc := map[string]any{
		"programId":    "p",
		"name":         "p",
		"startTrigger": map[string]any{"type": "programStart"},
		"tracks": []any{
			map[string]any{
				"trackId":         "batch-track",
				"batch_size":      3,
				"stagger_seconds": 10,
				"steps": []any{
					map[string]any{
						"stepId":       "mix",
						"duration":     30,
						"startTrigger": map[string]any{"type": "programStart"},
					},
					map[string]any{
						"stepId":   "bake",
						"duration": 60,
						"startTrigger": map[string]any{
							"type": "afterStep", "stepId": "mix", "event": "end",
						},
					},
				},
			},
		},
	}

	p, err := program.Build(doc)
	require.NoError(t, err)
	require.Len(t, p.Tracks, 1)

	steps := p.Tracks[0].Steps
	require.Len(t, steps, 6, "3 batches x 2 steps")

	byID := map[string]program.Step{}
	for _, s := range steps {
		byID[s.ID] = s
	}

	// Batch 1 is suffixed like the rest but gets no stagger offset.
	first := byID["mix_1"]
	assert.IsType(t, trigger.ProgramStart{}, first.StartTrigger)
	assert.Equal(t, 0, first.BatchIndex)

	// Batch 2's ProgramStart becomes a 10s offset; batch 3 gets 20s.
	second := byID["mix_2"]
	assert.Equal(t, trigger.ProgramStartOffset{OffsetSeconds: 10}, second.StartTrigger)
	third := byID["mix_3"]
	assert.Equal(t, trigger.ProgramStartOffset{OffsetSeconds: 20}, third.StartTrigger)

	// Intra-batch AfterStep references are rewritten to the suffixed id.
	bake2 := byID["bake_2"]
	after, ok := bake2.StartTrigger.(trigger.AfterStep)
	require.True(t, ok)
	assert.Equal(t, "mix_2", after.StepID)
}

// The first batch of a batch_size>1 track is also suffixed, so a
// batch_size=1 track round-trips ids untouched while expanded tracks
// never collide.
func TestBuild_BatchSizeOneLeavesIDs(t *testing.T) {
	doc := map[string]any{
		"programId":    "p",
		"name":         "p",
		"startTrigger": map[string]any{"type": "programStart"},
		"tracks": []any{
			map[string]any{"trackId": "t1", "batch_size": 1, "steps": []any{
				map[string]any{"stepId": "solo", "duration": 5, "startTrigger": map[string]any{"type": "programStart"}},
			}},
		},
	}
	p, err := program.Build(doc)
	require.NoError(t, err)
	assert.Equal(t, "solo", p.Tracks[0].Steps[0].ID)
}

func TestBuild_UnknownTriggerType(t *testing.T) {
	doc := map[string]any{
		"programId":    "p",
		"name":         "p",
		"startTrigger": map[string]any{"type": "wormhole"},
	}
	_, err := program.Build(doc)
	require.Error(t, err)
	var buildErr *program.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "startTrigger", buildErr.Path)
}

func TestBuild_EnvironmentRefForms(t *testing.T) {
	inline := map[string]any{
		"programId": "p", "name": "p",
		"startTrigger":        map[string]any{"type": "programStart"},
		"resourceConstraints": []any{map[string]any{"task": "mixing", "maxConcurrent": 1}},
	}
	p, err := program.Build(inline)
	require.NoError(t, err)
	assert.True(t, p.EnvironmentRef.HasInline())
	assert.False(t, p.EnvironmentRef.HasEnvRef())

	referenced := map[string]any{
		"programId": "p", "name": "p",
		"startTrigger":        map[string]any{"type": "programStart"},
		"environment":         "test-kitchen",
		"resourceConstraints": []any{map[string]any{"task": "mixing", "maxConcurrent": 4}},
	}
	p, err = program.Build(referenced)
	require.NoError(t, err)
	assert.True(t, p.EnvironmentRef.HasEnvRef())
	assert.False(t, p.EnvironmentRef.HasInline(), "constraints alongside an environment reference are overrides, not a second inline definition")
	require.Len(t, p.EnvironmentRef.Overrides, 1)
	assert.Equal(t, 4, p.EnvironmentRef.Overrides[0].MaxConcurrent)

	fallback := map[string]any{
		"programId": "p", "name": "p",
		"startTrigger": map[string]any{"type": "programStart"},
		"actors":       4,
	}
	p, err = program.Build(fallback)
	require.NoError(t, err)
	assert.False(t, p.EnvironmentRef.HasInline())
	assert.False(t, p.EnvironmentRef.HasEnvRef())
	assert.Equal(t, 4, p.EnvironmentRef.Actors)
}

// Build(ToTree(p)) reproduces the program: the planner emits its
// output through ToTree, so the round trip must hold.
func TestRoundTrip_BuildToTree(t *testing.T) {
	p, err := program.Parse([]byte(yamlDoc), program.FormatYAML)
	require.NoError(t, err)

	tree := program.ToTree(p)
	rebuilt, err := program.Build(tree)
	require.NoError(t, err)

	assert.Equal(t, p.ID, rebuilt.ID)
	assert.Equal(t, p.Version, rebuilt.Version)
	assert.Equal(t, p.EnvironmentRef, rebuilt.EnvironmentRef)
	require.Len(t, rebuilt.Tracks, len(p.Tracks))
	for i := range p.Tracks {
		assert.Equal(t, p.Tracks[i].Steps, rebuilt.Tracks[i].Steps)
	}
}

// A batch-expanded track re-collapses to its template on the way out,
// so re-building the tree re-expands to the same materialized steps.
func TestRoundTrip_BatchedTrack(t *testing.T) {
	doc := map[string]any{
		"programId":    "p",
		"name":         "p",
		"startTrigger": map[string]any{"type": "programStart"},
		"tracks": []any{
			map[string]any{
				"trackId":         "batch-track",
				"batch_size":      2,
				"stagger_seconds": 5,
				"steps": []any{
					map[string]any{"stepId": "mix", "duration": 30, "startTrigger": map[string]any{"type": "programStart"}},
					map[string]any{"stepId": "bake", "duration": 60, "startTrigger": map[string]any{
						"type": "afterStep", "stepId": "mix", "event": "end",
					}},
				},
			},
		},
	}

	p, err := program.Build(doc)
	require.NoError(t, err)

	rebuilt, err := program.Build(program.ToTree(p))
	require.NoError(t, err)
	assert.Equal(t, p.Tracks[0].Steps, rebuilt.Tracks[0].Steps)
}

// Marshal in both formats and parse back.
func TestRoundTrip_MarshalParse(t *testing.T) {
	p, err := program.Parse([]byte(yamlDoc), program.FormatYAML)
	require.NoError(t, err)

	for _, format := range []program.Format{program.FormatJSON, program.FormatYAML} {
		data, err := program.Marshal(p, format)
		require.NoError(t, err, format)
		back, err := program.Parse(data, format)
		require.NoError(t, err, format)
		assert.Equal(t, p.ID, back.ID, format)
		assert.Equal(t, p.Tracks[0].Steps, back.Tracks[0].Steps, format)
	}
}
