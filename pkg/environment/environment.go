// Package environment implements the environment catalog: named
// bundles of actor-type pools and task resource constraints that a
// Program may reference instead of embedding its own
// resourceConstraints inline.
package environment

import (
	"fmt"
	"sort"

	"github.com/choreoctl/choreo/pkg/program"
)

// ActorType is one entry of an Environment's actor-type pool.
type ActorType struct {
	ID             string
	Name           string
	Count          int
	Qualifications []string
}

// Environment is a named, reusable bundle of actor types and
// resource constraints shared by many programs.
type Environment struct {
	ID          string
	Type        string
	Description string

	ActorTypes          map[string]ActorType
	ResourceConstraints []program.ResourceConstraint
}

// Catalog maps environment id to Environment. It is an ordinary value
// built once by a caller (e.g. a CLI adapter loading environment
// documents; how those files are found is the caller's concern) and
// handed to Resolve.
type Catalog map[string]Environment

// Get returns the environment for id and true, or the zero value and false.
func (c Catalog) Get(id string) (Environment, bool) {
	e, ok := c[id]
	return e, ok
}

// syntheticGenericPool builds the legacy `{generic: count}` actor
// pool for programs/environments that only supply a bare actors count
// rather than a full actorTypes mapping.
func syntheticGenericPool(count int) map[string]ActorType {
	if count <= 0 {
		count = 1
	}
	return map[string]ActorType{
		"generic": {ID: "generic", Name: "generic", Count: count},
	}
}

// Resolved is the effective environment configuration for one Program,
// as produced by Resolve.
type Resolved struct {
	ResourceConstraints []program.ResourceConstraint
	ActorTypes          map[string]ActorType

	// ActorsFallback reports whether the program supplied a plain
	// actors count with no declared resourceConstraints: in this mode
	// undeclared tasks are admitted with ActorsCount as their implicit
	// limit rather than rejected.
	ActorsFallback bool
	ActorsCount    int
}

// Resolve computes the effective constraint list and actor-type pool
// for p:
//
//   - inline resource_constraints, if present, are used directly;
//   - else the referenced environment's resource_constraints are used,
//     with the program's per-task Overrides taking precedence by task key;
//   - else every task has an implicit limit equal to the program's
//     actors count (1 if unspecified), and ActorsFallback is true.
func Resolve(p *program.Program, catalog Catalog) (Resolved, error) {
	ref := p.EnvironmentRef

	switch {
	case ref.HasInline():
		return Resolved{
			ResourceConstraints: ref.Inline.ResourceConstraints,
			ActorTypes:          syntheticGenericPool(ref.Inline.Actors),
		}, nil

	case ref.HasEnvRef():
		env, ok := catalog.Get(ref.EnvID)
		if !ok {
			return Resolved{}, fmt.Errorf("unknown environment %q", ref.EnvID)
		}
		constraints := applyOverrides(env.ResourceConstraints, ref.Overrides)
		actorTypes := env.ActorTypes
		if len(actorTypes) == 0 {
			actorTypes = syntheticGenericPool(ref.Actors)
		}
		return Resolved{
			ResourceConstraints: constraints,
			ActorTypes:          actorTypes,
		}, nil

	default:
		count := ref.Actors
		if count <= 0 {
			count = 1
		}
		return Resolved{
			ActorTypes:     syntheticGenericPool(count),
			ActorsFallback: true,
			ActorsCount:    count,
		}, nil
	}
}

// applyOverrides returns base with every entry whose Task key also
// appears in overrides replaced by the override entry, preserving
// base's ordering and appending any override tasks base didn't have.
func applyOverrides(base, overrides []program.ResourceConstraint) []program.ResourceConstraint {
	if len(overrides) == 0 {
		return base
	}
	byTask := make(map[string]program.ResourceConstraint, len(overrides))
	for _, o := range overrides {
		byTask[o.Task] = o
	}
	out := make([]program.ResourceConstraint, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(base))
	for _, rc := range base {
		if o, ok := byTask[rc.Task]; ok {
			out = append(out, o)
		} else {
			out = append(out, rc)
		}
		seen[rc.Task] = true
	}
	var extra []string
	for task := range byTask {
		if !seen[task] {
			extra = append(extra, task)
		}
	}
	sort.Strings(extra)
	for _, task := range extra {
		out = append(out, byTask[task])
	}
	return out
}

// DeclaredTasks returns the set of task names r's resource constraints
// cover, used by the validator's "every used task is declared" check.
func (r Resolved) DeclaredTasks() map[string]bool {
	out := make(map[string]bool, len(r.ResourceConstraints))
	for _, rc := range r.ResourceConstraints {
		out[rc.Task] = true
	}
	return out
}

// ConstraintFor returns the resource constraint governing task, and
// true, or the zero value and false if task is undeclared.
func (r Resolved) ConstraintFor(task string) (program.ResourceConstraint, bool) {
	for _, rc := range r.ResourceConstraints {
		if rc.Task == task {
			return rc, true
		}
	}
	return program.ResourceConstraint{}, false
}
