// Package validator implements the two-pass program validator: a
// schema-equivalent structural pass over the raw document tree, and a
// semantic pass over the built Program (duplicate
// ids, dangling references, task-declaration closure, environment
// resolution, template references, and intra-track overlap).
package validator

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/choreoctl/choreo/pkg/environment"
	"github.com/choreoctl/choreo/pkg/program"
	"github.com/choreoctl/choreo/pkg/symtime"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// Summary is the headline-counts block of a validation Result.
type Summary struct {
	ProgramID           string `json:"programId"`
	Name                string `json:"name"`
	Tracks              int    `json:"tracks"`
	ResourceConstraints int    `json:"resourceConstraints"`
	TotalSteps          int    `json:"totalSteps"`
}

// Result is the structured validator output:
// {is_valid, schema_errors[], logic_errors[], summary}.
type Result struct {
	IsValid      bool     `json:"is_valid"`
	SchemaErrors []string `json:"schema_errors"`
	LogicErrors  []string `json:"logic_errors"`
	Summary      Summary  `json:"summary"`
}

// Options configures a Validate call.
type Options struct {
	// Strict promotes the "task declared" check to an error even when
	// the program supplies a plain actors count.
	Strict bool
	// Catalog resolves environment references for the "unknown
	// environment" and task-declaration checks. A nil Catalog treats
	// every environment reference as unresolvable.
	Catalog environment.Catalog
}

// Validate runs both passes and returns the structured result.
// doc is the raw decoded document tree (for Pass 1); p is the already
// built Program (for Pass 2) — callers typically have both in hand
// from a single program.Parse-style call.
func Validate(doc map[string]any, p *program.Program, opts Options) Result {
	schemaErrors := Pass1Schema(doc)
	logicErrors := Pass2Semantics(p, opts)

	totalSteps := 0
	resourceConstraints := 0
	switch {
	case p.EnvironmentRef.HasInline():
		resourceConstraints = len(p.EnvironmentRef.Inline.ResourceConstraints)
	case p.EnvironmentRef.HasEnvRef():
		resourceConstraints = len(p.EnvironmentRef.Overrides)
	}
	for _, tr := range p.Tracks {
		totalSteps += len(tr.Steps)
	}

	return Result{
		IsValid:      len(schemaErrors) == 0 && len(logicErrors) == 0,
		SchemaErrors: schemaErrors,
		LogicErrors:  logicErrors,
		Summary: Summary{
			ProgramID:           p.ID,
			Name:                p.Name,
			Tracks:              len(p.Tracks),
			ResourceConstraints: resourceConstraints,
			TotalSteps:          totalSteps,
		},
	}
}

// BuildFailure returns the structured Result for a document whose
// typed Program could not even be built: Pass 1 runs as usual over
// the raw tree and the builder's error is appended to SchemaErrors,
// so callers keep their structured output instead of surfacing a raw
// Go error with no Result at all. Pass 2 is skipped — there is no
// Program to check.
func BuildFailure(doc map[string]any, buildErr error) Result {
	schemaErrors := Pass1Schema(doc)
	if buildErr != nil {
		schemaErrors = append(schemaErrors, buildErr.Error())
	}
	programID, _ := doc["programId"].(string)
	name, _ := doc["name"].(string)
	return Result{
		IsValid:      false,
		SchemaErrors: schemaErrors,
		LogicErrors:  []string{},
		Summary: Summary{
			ProgramID: programID,
			Name:      name,
		},
	}
}

// Pass2Semantics runs the semantic checks and returns one message per
// violation.
func Pass2Semantics(p *program.Program, opts Options) []string {
	var errors []string

	errors = append(errors, checkDuplicateAndDanglingIDs(p)...)
	errors = append(errors, checkVersion(p)...)
	errors = append(errors, checkVariableDurations(p)...)
	errors = append(errors, checkTasksAndEnvironment(p, opts)...)
	errors = append(errors, checkTemplateReferences(p)...)
	errors = append(errors, checkOverlaps(p)...)

	return errors
}

func checkDuplicateAndDanglingIDs(p *program.Program) []string {
	var errors []string

	counts := map[string]int{}
	ids := map[string]bool{}
	for _, s := range p.AllSteps() {
		counts[s.ID]++
		ids[s.ID] = true
	}

	var dupIDs []string
	for id, n := range counts {
		if n > 1 {
			dupIDs = append(dupIDs, id)
		}
	}
	sort.Strings(dupIDs)
	for _, id := range dupIDs {
		errors = append(errors, fmt.Sprintf("duplicate step ID %q found %d times", id, counts[id]))
	}

	referenced := map[string]bool{}
	for _, s := range p.AllSteps() {
		for _, id := range trigger.ReferencedStepIDs(s.StartTrigger) {
			referenced[id] = true
		}
	}
	var danglingIDs []string
	for id := range referenced {
		if !ids[id] {
			danglingIDs = append(danglingIDs, id)
		}
	}
	sort.Strings(danglingIDs)
	for _, id := range danglingIDs {
		errors = append(errors, fmt.Sprintf("referenced step ID %q does not exist in any track", id))
	}

	return errors
}

func checkVersion(p *program.Program) []string {
	if p.Version == "" {
		return nil
	}
	if _, err := semver.NewVersion(p.Version); err != nil {
		return []string{fmt.Sprintf("version %q is not a valid semantic version: %v", p.Version, err)}
	}
	return nil
}

func checkVariableDurations(p *program.Program) []string {
	var errors []string
	for _, s := range p.AllSteps() {
		if err := s.Duration.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("step %q: %v", s.ID, err))
		}
	}
	return errors
}

func checkTasksAndEnvironment(p *program.Program, opts Options) []string {
	var errors []string

	used := map[string]bool{}
	for _, s := range p.AllSteps() {
		for _, t := range s.Tasks {
			used[t.Name] = true
		}
		for _, buf := range []*program.Buffer{s.PreBuffer, s.PostBuffer} {
			if buf == nil {
				continue
			}
			for _, t := range buf.Tasks {
				used[t.Name] = true
			}
		}
	}

	var resolved environment.Resolved
	if p.EnvironmentRef.HasEnvRef() {
		var err error
		resolved, err = environment.Resolve(p, opts.Catalog)
		if err != nil {
			errors = append(errors, fmt.Sprintf("referenced environment %q not found", p.EnvironmentRef.EnvID))
			return errors
		}
	} else {
		resolved, _ = environment.Resolve(p, opts.Catalog)
	}

	requireDeclared := opts.Strict || (!resolved.ActorsFallback)
	if requireDeclared {
		declared := resolved.DeclaredTasks()
		var undeclared []string
		for task := range used {
			if !declared[task] {
				undeclared = append(undeclared, task)
			}
		}
		sort.Strings(undeclared)
		for _, task := range undeclared {
			errors = append(errors, fmt.Sprintf("task %q is used in steps but not defined in resourceConstraints", task))
		}
	}

	return errors
}

func checkTemplateReferences(p *program.Program) []string {
	declared := map[string]bool{}
	for _, t := range p.TrackTemplates {
		declared[t] = true
	}
	var errors []string
	var missing []string
	for _, tr := range p.Tracks {
		if tr.TemplateID != "" && !declared[tr.TemplateID] {
			missing = append(missing, tr.TemplateID)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		errors = append(errors, fmt.Sprintf("referenced template ID %q does not exist in trackTemplates", id))
	}
	return errors
}

// checkOverlaps runs the intra-track symbolic overlap check using
// each step's default-calculated duration. Cross-track overlap is not
// an error; tracks are parallel by design.
func checkOverlaps(p *program.Program) []string {
	var errors []string
	starts := symtime.Compute(p, func(s program.Step) int { return s.Duration.Calculate() })

	for _, tr := range p.Tracks {
		if len(tr.Steps) <= 1 {
			continue
		}
		windows := symtime.Windows(tr, starts, func(s program.Step) int { return s.Duration.Calculate() })
		name := tr.Name
		if name == "" {
			name = tr.ID
		}
		for i := 0; i < len(windows)-1; i++ {
			cur, next := windows[i], windows[i+1]
			if cur.End > next.Start {
				errors = append(errors, symtime.FormatOverlap(name, cur, next))
			}
		}
	}
	return errors
}
