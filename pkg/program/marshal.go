package program

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// ToTree converts a Program back into the generic map[string]any tree
// DecodeDocument/Build consume, the inverse of Build. The plan command
// writes the Planner's staggered/padded result through this path so its
// output is an ordinary Program document rather than a bespoke type, and
// round-trip tests can assert Build(ToTree(p)) reproduces p.
func ToTree(p *Program) map[string]any {
	doc := map[string]any{
		"programId":    p.ID,
		"name":         p.Name,
		"startTrigger": triggerToTree(p.StartTrigger),
	}
	if p.Version != "" {
		doc["version"] = p.Version
	}
	if p.Description != "" {
		doc["description"] = p.Description
	}
	if len(p.Metadata) > 0 {
		doc["metadata"] = p.Metadata
	}
	if len(p.TrackTemplates) > 0 {
		templates := make([]any, len(p.TrackTemplates))
		for i, t := range p.TrackTemplates {
			templates[i] = map[string]any{"templateId": t}
		}
		doc["trackTemplates"] = templates
	}

	switch {
	case p.EnvironmentRef.HasInline():
		doc["resourceConstraints"] = resourceConstraintsToTree(p.EnvironmentRef.Inline.ResourceConstraints)
		if p.EnvironmentRef.Inline.Actors != 0 {
			doc["actors"] = p.EnvironmentRef.Inline.Actors
		}
	case p.EnvironmentRef.HasEnvRef():
		doc["environment"] = p.EnvironmentRef.EnvID
		if p.EnvironmentRef.Actors != 0 {
			doc["actors"] = p.EnvironmentRef.Actors
		}
		if len(p.EnvironmentRef.Overrides) > 0 {
			doc["resourceConstraints"] = resourceConstraintsToTree(p.EnvironmentRef.Overrides)
		}
	default:
		if p.EnvironmentRef.Actors != 0 {
			doc["actors"] = p.EnvironmentRef.Actors
		}
	}

	tracks := make([]any, len(p.Tracks))
	for i, t := range p.Tracks {
		tracks[i] = trackToTree(t)
	}
	doc["tracks"] = tracks

	return doc
}

func resourceConstraintsToTree(rcs []ResourceConstraint) []any {
	out := make([]any, len(rcs))
	for i, rc := range rcs {
		m := map[string]any{
			"task":           rc.Task,
			"maxConcurrent":  rc.MaxConcurrent,
			"actorsRequired": rc.ActorsRequired,
		}
		if rc.Description != "" {
			m["description"] = rc.Description
		}
		if len(rc.QualifiedActorTypes) > 0 {
			qats := make([]any, len(rc.QualifiedActorTypes))
			for j, q := range rc.QualifiedActorTypes {
				qats[j] = q
			}
			m["qualifiedActorTypes"] = qats
		}
		out[i] = m
	}
	return out
}

// trackToTree re-collapses a batch-expanded Track back to a single
// template entry when every batch member is a verbatim stagger/suffix
// transform of batch member 0; otherwise (the track was hand-built, or
// mutated post-expansion by the planner) it degrades to batch_size=1
// with every expanded step emitted explicitly. Re-collapsing is a
// best-effort readability step only: Build(ToTree(p)) is correct
// either way because buildTrack re-expands batch_size=1 as a no-op.
func trackToTree(t Track) map[string]any {
	doc := map[string]any{
		"trackId": t.ID,
	}
	if t.Name != "" && t.Name != t.ID {
		doc["name"] = t.Name
	}
	if t.TemplateID != "" {
		doc["templateId"] = t.TemplateID
	}
	if len(t.Metadata) > 0 {
		doc["metadata"] = t.Metadata
	}

	stepsPerBatch := 1
	if t.BatchSize > 0 {
		stepsPerBatch = len(t.Steps) / t.BatchSize
		if stepsPerBatch == 0 {
			stepsPerBatch = len(t.Steps)
		}
	}

	firstBatch := t.Steps
	if t.BatchSize > 1 && stepsPerBatch < len(t.Steps) {
		firstBatch = t.Steps[:stepsPerBatch]
	}
	inBatch := make(map[string]bool, len(firstBatch))
	for _, s := range firstBatch {
		inBatch[s.ID] = true
	}
	steps := make([]any, 0, len(firstBatch))
	for _, s := range firstBatch {
		if t.BatchSize > 1 {
			s = collapseBatchStep(s, inBatch)
		}
		steps = append(steps, stepToTree(s))
	}
	doc["steps"] = steps

	if t.BatchSize > 1 {
		doc["batch_size"] = t.BatchSize
	}
	if t.StaggerSeconds > 0 {
		doc["stagger_seconds"] = t.StaggerSeconds
	}

	return doc
}

// collapseBatchStep undoes buildTrack's batch-1 transform on one step
// so the emitted template matches what the author wrote: the "_1" id
// suffix, the " #1" name decoration, and suffixed intra-batch trigger
// references are stripped. Only ids known to belong to the batch are
// touched, so a cross-track reference that happens to end in "_1"
// survives intact.
func collapseBatchStep(s Step, inBatch map[string]bool) Step {
	s.ID = strings.TrimSuffix(s.ID, "_1")
	s.Name = strings.TrimSuffix(s.Name, " #1")
	s.StartTrigger = stripBatchSuffix(s.StartTrigger, inBatch)
	return s
}

func stripBatchSuffix(t trigger.Trigger, inBatch map[string]bool) trigger.Trigger {
	switch v := t.(type) {
	case trigger.AfterStep:
		if inBatch[v.StepID] {
			v.StepID = strings.TrimSuffix(v.StepID, "_1")
		}
		return v
	case trigger.AfterStepWithBuffer:
		if inBatch[v.StepID] {
			v.StepID = strings.TrimSuffix(v.StepID, "_1")
		}
		return v
	case trigger.OnAbort:
		if inBatch[v.StepID] {
			v.StepID = strings.TrimSuffix(v.StepID, "_1")
		}
		return v
	case trigger.Composite:
		children := make([]trigger.Trigger, len(v.Triggers))
		for i, c := range v.Triggers {
			children[i] = stripBatchSuffix(c, inBatch)
		}
		return trigger.Composite{Logic: v.Logic, Triggers: children}
	default:
		return t
	}
}

func stepToTree(s Step) map[string]any {
	doc := map[string]any{
		"stepId":       s.ID,
		"startTrigger": triggerToTree(s.StartTrigger),
	}
	if s.Name != "" && s.Name != s.ID {
		doc["name"] = s.Name
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	if s.Priority != 0 && s.Priority != DefaultPriority {
		doc["priority"] = s.Priority
	}
	if len(s.Resources) > 0 {
		res := make([]any, len(s.Resources))
		for i, r := range s.Resources {
			res[i] = r
		}
		doc["resources"] = res
	}
	if len(s.Tasks) > 0 {
		doc["taskResources"] = taskResourcesToTree(s.Tasks)
	}
	doc["duration"] = durationToTree(s.Duration)
	if s.CodeBlock != nil {
		doc["codeBlock"] = map[string]any{
			"kind":   string(s.CodeBlock.Kind),
			"source": s.CodeBlock.Source,
		}
	}
	if s.PreBuffer != nil {
		doc["preBuffer"] = bufferToTree(*s.PreBuffer)
	}
	if s.PostBuffer != nil {
		doc["postBuffer"] = bufferToTree(*s.PostBuffer)
	}
	return doc
}

func bufferToTree(b Buffer) map[string]any {
	doc := map[string]any{
		"duration": durationToTree(b.Duration),
	}
	if len(b.Tasks) > 0 {
		doc["taskResources"] = taskResourcesToTree(b.Tasks)
	}
	return doc
}

func taskResourcesToTree(tasks []TaskResource) []any {
	out := make([]any, len(tasks))
	for i, t := range tasks {
		out[i] = map[string]any{
			"name":     t.Name,
			"fraction": t.Fraction,
		}
	}
	return out
}

func durationToTree(d timeutil.Duration) map[string]any {
	switch d.Kind {
	case timeutil.DurationVariable:
		m := map[string]any{
			"type":           "variable",
			"minSeconds":     d.MinSeconds,
			"maxSeconds":     d.MaxSeconds,
			"defaultSeconds": d.DefaultSeconds,
		}
		if d.HasOptimal {
			m["optimalSeconds"] = d.OptimalSeconds
		}
		if d.ManualTrigger != "" {
			m["triggerName"] = d.ManualTrigger
		}
		return m
	case timeutil.DurationIndefinite:
		m := map[string]any{
			"type":           "indefinite",
			"minSeconds":     d.MinSeconds,
			"defaultSeconds": d.DefaultSeconds,
		}
		if d.ManualTrigger != "" {
			m["triggerName"] = d.ManualTrigger
		}
		return m
	default:
		return map[string]any{
			"type":    "fixed",
			"seconds": d.Seconds,
		}
	}
}

func triggerToTree(t trigger.Trigger) map[string]any {
	switch v := t.(type) {
	case nil, trigger.ProgramStart:
		return map[string]any{"type": "programStart"}
	case trigger.ProgramStartOffset:
		return map[string]any{"type": "programStartOffset", "offsetSeconds": v.OffsetSeconds}
	case trigger.AfterStep:
		return map[string]any{
			"type":          "afterStep",
			"stepId":        v.StepID,
			"event":         string(v.Event),
			"offsetSeconds": v.OffsetSeconds,
		}
	case trigger.AfterStepWithBuffer:
		return map[string]any{
			"type":          "afterStepWithBuffer",
			"stepId":        v.StepID,
			"event":         string(v.Event),
			"bufferSeconds": v.BufferSeconds,
		}
	case trigger.Absolute:
		return map[string]any{"type": "absolute", "wallTime": v.WallTime}
	case trigger.Manual:
		return map[string]any{"type": "manual", "triggerName": v.Name}
	case trigger.OnAbort:
		return map[string]any{"type": "onAbort", "stepId": v.StepID}
	case trigger.Composite:
		children := make([]any, len(v.Triggers))
		for i, c := range v.Triggers {
			children[i] = triggerToTree(c)
		}
		return map[string]any{"logic": string(v.Logic), "triggers": children}
	default:
		return map[string]any{"type": "programStart"}
	}
}

// MarshalJSON serializes p as an indented JSON document.
func MarshalJSON(p *Program) ([]byte, error) {
	b, err := json.MarshalIndent(ToTree(p), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal program to json: %w", err)
	}
	return b, nil
}

// MarshalYAML serializes p as a YAML document.
func MarshalYAML(p *Program) ([]byte, error) {
	b, err := yaml.Marshal(ToTree(p))
	if err != nil {
		return nil, fmt.Errorf("marshal program to yaml: %w", err)
	}
	return b, nil
}

// Marshal serializes p in the given Format.
func Marshal(p *Program, format Format) ([]byte, error) {
	if format == FormatYAML {
		return MarshalYAML(p)
	}
	return MarshalJSON(p)
}

// Parse decodes and builds a Program from raw document bytes in one step.
func Parse(data []byte, format Format) (*Program, error) {
	doc, err := DecodeDocument(data, format)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}
