package codeexec

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/choreoctl/choreo/pkg/program"
)

// ScriptExecutor runs an InlineScript code block as JavaScript in a
// fresh goja VM per invocation. The step's variables are bound as a
// `step` global object rather than substituted into source text.
type ScriptExecutor struct {
	// Timeout interrupts a runaway script after this long; zero
	// disables the interrupt.
	Timeout time.Duration
	// Transform runs the source through esbuild's down-level
	// transform before execution, so scripts may use modern syntax
	// goja's ES5.1+-subset engine doesn't natively parse.
	Transform bool
}

// NewScriptExecutor returns a ScriptExecutor with a 2s interrupt
// timeout and esbuild transform enabled.
func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{Timeout: 2 * time.Second, Transform: true}
}

// Execute runs source as JavaScript, with vars bound as a `step`
// object, returning its last expression's string value as Output.
func (e *ScriptExecutor) Execute(ctx context.Context, kind program.CodeBlockKind, source string, vars StepVars) (Result, error) {
	src := source
	if e.Transform {
		transformed, err := e.downlevel(src)
		if err != nil {
			return Result{Error: err.Error()}, err
		}
		src = transformed
	}

	vm := goja.New()
	if err := bindStepVars(vm, vars); err != nil {
		return Result{Error: err.Error()}, err
	}

	if e.Timeout > 0 {
		timer := time.AfterFunc(e.Timeout, func() {
			vm.Interrupt("step script exceeded timeout")
		})
		defer timer.Stop()
	}

	done := make(chan struct{})
	var value goja.Value
	var runErr error
	go func() {
		defer close(done)
		value, runErr = vm.RunString(src)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		vm.Interrupt("context canceled")
		<-done
	}

	if runErr != nil {
		return Result{Error: runErr.Error()}, runErr
	}
	out := ""
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		out = value.String()
	}
	return Result{Output: out}, nil
}

func (e *ScriptExecutor) downlevel(src string) (string, error) {
	result := api.Transform(src, api.TransformOptions{
		Loader: api.LoaderJS,
		Target: api.ES2015,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("transform step script: %s", result.Errors[0].Text)
	}
	return string(result.Code), nil
}

func bindStepVars(vm *goja.Runtime, vars StepVars) error {
	stepObj := vm.NewObject()
	for _, kv := range []struct {
		key string
		val any
	}{
		{"stepId", vars.StepID},
		{"name", vars.Name},
		{"trackId", vars.TrackID},
		{"status", vars.Status},
		{"taskTypes", vars.TaskTypes},
		{"priority", vars.Priority},
	} {
		if err := stepObj.Set(kv.key, kv.val); err != nil {
			return fmt.Errorf("bind step.%s: %w", kv.key, err)
		}
	}
	return vm.Set("step", stepObj)
}
