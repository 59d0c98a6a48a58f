package codeexec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choreoctl/choreo/pkg/program"
)

func TestSubstitutePlaceholders(t *testing.T) {
	vars := StepVars{
		StepID:    "mix",
		Name:      "Mix dough",
		TrackID:   "breads",
		Status:    "running",
		TaskTypes: []string{"mixing", "kneading"},
		Priority:  5,
	}

	cases := []struct {
		in   string
		want string
	}{
		{"echo {step.stepId}", "echo mix"},
		{"echo '{step.name}' on {step.trackId}", "echo 'Mix dough' on breads"},
		{"echo {step.priority} {step.status}", "echo 5 running"},
		{"echo {step.taskTypes}", "echo mixing,kneading"},
		{"echo {step.unknownField}", "echo {step.unknownField}"},
		{"echo no placeholders", "echo no placeholders"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, substitutePlaceholders(tc.in, vars), tc.in)
	}
}

func TestShellExecutor_SubstitutesBeforeRun(t *testing.T) {
	var gotCommand string
	e := &ShellExecutor{
		Shell: "sh",
		run: func(_ context.Context, shell, command string) (Result, error) {
			assert.Equal(t, "sh", shell)
			gotCommand = command
			return Result{Output: "ok"}, nil
		},
	}

	result, err := e.Execute(context.Background(), program.CodeBlockShellCommand,
		"echo starting {step.stepId}", StepVars{StepID: "bake"})
	require.NoError(t, err)
	assert.Equal(t, "echo starting bake", gotCommand)
	assert.Equal(t, "ok", result.Output)
}

func TestShellExecutor_FailureSurfacesStderr(t *testing.T) {
	e := &ShellExecutor{
		run: func(context.Context, string, string) (Result, error) {
			return Result{Error: "command not found"}, errors.New("exit status 127")
		},
	}
	result, err := e.Execute(context.Background(), program.CodeBlockShellCommand, "definitely-missing", StepVars{})
	require.Error(t, err)
	assert.Equal(t, "command not found", result.Error)
}

func TestShellExecutor_DefaultShell(t *testing.T) {
	e := &ShellExecutor{}
	assert.Equal(t, "sh", e.shell())
	e.Shell = "bash"
	assert.Equal(t, "bash", e.shell())
}

func TestDispatcher_RoutesByKind(t *testing.T) {
	script := &recordingExecutor{}
	shell := &recordingExecutor{}
	d := Dispatcher{Script: script, Shell: shell}

	_, err := d.Execute(context.Background(), program.CodeBlockInlineScript, "1+1", StepVars{})
	require.NoError(t, err)
	assert.Equal(t, 1, script.calls)
	assert.Equal(t, 0, shell.calls)

	_, err = d.Execute(context.Background(), program.CodeBlockShellCommand, "true", StepVars{})
	require.NoError(t, err)
	assert.Equal(t, 1, shell.calls)

	_, err = d.Execute(context.Background(), program.CodeBlockKind("telepathy"), "", StepVars{})
	assert.Error(t, err)
}

func TestDispatcher_MissingExecutor(t *testing.T) {
	d := Dispatcher{}
	_, err := d.Execute(context.Background(), program.CodeBlockInlineScript, "1", StepVars{})
	assert.Error(t, err)
}

type recordingExecutor struct {
	calls int
}

func (r *recordingExecutor) Execute(context.Context, program.CodeBlockKind, string, StepVars) (Result, error) {
	r.calls++
	return Result{}, nil
}
