// Package codeexec runs step code blocks behind an injected Executor
// interface, so the scheduler never bakes in a scripting runtime and
// tests can substitute pure functions. Two concrete runtimes are
// provided: ScriptExecutor (JavaScript) and ShellExecutor (shell,
// optionally containerized).
package codeexec

import (
	"context"
	"fmt"

	"github.com/choreoctl/choreo/pkg/program"
)

// StepVars is the read-only set of facts about the running step that
// a code block may need, bound as a `step` object for scripts and
// substituted as `{step.field}` text for shell commands.
type StepVars struct {
	StepID    string
	Name      string
	TrackID   string
	Status    string
	TaskTypes []string
	Priority  int
}

// Result is a code block's outcome. Error carries a failure the
// caller records on the step without aborting it.
type Result struct {
	Output string
	Error  string
}

// Executor runs one code block and returns its Result. Implementations
// must not block past ctx's deadline.
//
//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_executor.go -package=mocks github.com/choreoctl/choreo/pkg/codeexec Executor
type Executor interface {
	Execute(ctx context.Context, kind program.CodeBlockKind, source string, vars StepVars) (Result, error)
}

// ExecutionError wraps a code-block failure and supports errors.As.
// Nothing in this module constructs or returns it.
type ExecutionError struct {
	StepID string
	Kind   program.CodeBlockKind
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("code block (%s) for step %q failed: %v", e.Kind, e.StepID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Dispatcher routes a code block to the registered Executor for its
// Kind, so a Scheduler can be configured with one combined executor
// regardless of how many code-block kinds a program mixes.
type Dispatcher struct {
	Script Executor
	Shell  Executor
}

// Execute dispatches to Dispatcher.Script or Dispatcher.Shell by kind.
func (d Dispatcher) Execute(ctx context.Context, kind program.CodeBlockKind, source string, vars StepVars) (Result, error) {
	switch kind {
	case program.CodeBlockInlineScript:
		if d.Script == nil {
			return Result{}, fmt.Errorf("no script executor configured")
		}
		return d.Script.Execute(ctx, kind, source, vars)
	case program.CodeBlockShellCommand:
		if d.Shell == nil {
			return Result{}, fmt.Errorf("no shell executor configured")
		}
		return d.Shell.Execute(ctx, kind, source, vars)
	default:
		return Result{}, fmt.Errorf("unknown code block kind %q", kind)
	}
}
