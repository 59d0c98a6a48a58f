package program

import (
	"fmt"

	"github.com/choreoctl/choreo/pkg/timeutil"
	"github.com/choreoctl/choreo/pkg/trigger"
)

// Build converts an already-decoded, time-normalized document tree
// (see DecodeDocument) into a typed, immutable Program. Build only
// constructs (batch expansion, trigger/duration parsing, task/buffer
// extraction); duplicate-id detection, dangling-reference checks, and
// the other semantic checks live in pkg/validator, which runs on the
// result.
func Build(doc map[string]any) (*Program, error) {
	p := &Program{
		ID:          getString(doc, "programId"),
		Name:        getString(doc, "name"),
		Version:     getString(doc, "version"),
		Description: getString(doc, "description"),
		Metadata:    getMap(doc, "metadata"),
	}

	st, err := parseTriggerField(doc, "startTrigger", trigger.ProgramStart{})
	if err != nil {
		return nil, &BuildError{Path: "startTrigger", Err: err}
	}
	p.StartTrigger = st

	if ts := getSlice(doc, "trackTemplates"); ts != nil {
		for _, t := range ts {
			switch v := t.(type) {
			case string:
				p.TrackTemplates = append(p.TrackTemplates, v)
			case map[string]any:
				if id := getString(v, "templateId"); id != "" {
					p.TrackTemplates = append(p.TrackTemplates, id)
				}
			}
		}
	}

	envRef, err := parseEnvironmentRef(doc)
	if err != nil {
		return nil, &BuildError{Path: "environment", Err: err}
	}
	p.EnvironmentRef = envRef

	tracksRaw := getSlice(doc, "tracks")
	for i, raw := range tracksRaw {
		trackDoc, ok := raw.(map[string]any)
		if !ok {
			return nil, &BuildError{Path: fmt.Sprintf("tracks[%d]", i), Err: fmt.Errorf("track is not an object")}
		}
		track, err := buildTrack(trackDoc)
		if err != nil {
			return nil, &BuildError{Path: fmt.Sprintf("tracks[%d]", i), Err: err}
		}
		p.Tracks = append(p.Tracks, track)
	}

	return p, nil
}

func parseEnvironmentRef(doc map[string]any) (EnvironmentRef, error) {
	var ref EnvironmentRef

	var constraints []ResourceConstraint
	if rc := getSlice(doc, "resourceConstraints"); rc != nil {
		parsed, err := parseResourceConstraints(rc)
		if err != nil {
			return ref, err
		}
		constraints = parsed
	}

	if envID := getString(doc, "environment"); envID != "" {
		ref.EnvID = envID
	} else if envID := getString(doc, "environmentType"); envID != "" {
		ref.EnvID = envID
	}

	switch {
	case ref.EnvID != "":
		// resourceConstraints alongside an EnvID is a set of per-task
		// overrides, not a second full definition.
		ref.Overrides = constraints
		ref.Actors = getInt(doc, "actors", 0)
	case constraints != nil:
		ref.Inline = &InlineEnvironment{
			ResourceConstraints: constraints,
			Actors:              getInt(doc, "actors", 0),
		}
	default:
		ref.Actors = getInt(doc, "actors", 0)
	}

	return ref, nil
}

func parseResourceConstraints(raw []any) ([]ResourceConstraint, error) {
	out := make([]ResourceConstraint, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("resourceConstraints[%d] is not an object", i)
		}
		rc := ResourceConstraint{
			Task:                getString(m, "task"),
			MaxConcurrent:       getInt(m, "maxConcurrent", 1),
			ActorsRequired:      getFloat(m, "actorsRequired", 0),
			Description:         getString(m, "description"),
			QualifiedActorTypes: getStringSlice(m, "qualifiedActorTypes"),
		}
		out = append(out, rc)
	}
	return out, nil
}

func buildTrack(doc map[string]any) (Track, error) {
	track := Track{
		ID:             getString(doc, "trackId"),
		Name:           getString(doc, "name"),
		TemplateID:     getString(doc, "templateId"),
		BatchSize:      getInt(doc, "batch_size", 1),
		StaggerSeconds: firstNonZero(getInt(doc, "stagger_seconds", 0), getInt(doc, "stagger", 0)),
		Metadata:       getMap(doc, "metadata"),
	}
	if track.Name == "" {
		track.Name = track.ID
	}
	if track.BatchSize < 1 {
		track.BatchSize = 1
	}

	stepsRaw := getSlice(doc, "steps")
	templateSteps := make([]map[string]any, 0, len(stepsRaw))
	for i, raw := range stepsRaw {
		m, ok := raw.(map[string]any)
		if !ok {
			return track, fmt.Errorf("steps[%d] is not an object", i)
		}
		templateSteps = append(templateSteps, m)
	}

	for batchIndex := 0; batchIndex < track.BatchSize; batchIndex++ {
		suffix := ""
		if track.BatchSize > 1 {
			suffix = fmt.Sprintf("_%d", batchIndex+1)
		}
		idsInBatch := make(map[string]bool, len(templateSteps))
		for _, sd := range templateSteps {
			idsInBatch[getString(sd, "stepId")] = true
		}
		for i, sd := range templateSteps {
			step, err := buildStep(sd, track.ID, batchIndex)
			if err != nil {
				return track, fmt.Errorf("steps[%d]: %w", i, err)
			}
			if suffix != "" {
				step.ID += suffix
				step.Name = fmt.Sprintf("%s #%d", step.Name, batchIndex+1)
				step.StartTrigger = staggerAndRewriteTrigger(step.StartTrigger, batchIndex, track.StaggerSeconds, suffix, idsInBatch)
			}
			track.Steps = append(track.Steps, step)
		}
	}

	return track, nil
}

// staggerAndRewriteTrigger applies batch staggering to ProgramStart/
// ProgramStartOffset triggers and rewrites AfterStep/AfterStepWithBuffer/
// OnAbort references to same-track steps with the batch suffix.
// Cross-track references are left unmodified; a reference into a
// batched track from outside it surfaces as a dangling-reference
// validation error rather than being silently rewired.
func staggerAndRewriteTrigger(t trigger.Trigger, batchIndex, staggerSeconds int, suffix string, idsInBatch map[string]bool) trigger.Trigger {
	offset := staggerSeconds * batchIndex
	switch v := t.(type) {
	case trigger.ProgramStart:
		if offset > 0 {
			return trigger.ProgramStartOffset{OffsetSeconds: offset}
		}
		return v
	case trigger.ProgramStartOffset:
		return trigger.ProgramStartOffset{OffsetSeconds: v.OffsetSeconds + offset}
	case trigger.AfterStep:
		if idsInBatch[v.StepID] {
			v.StepID += suffix
		}
		return v
	case trigger.AfterStepWithBuffer:
		if idsInBatch[v.StepID] {
			v.StepID += suffix
		}
		return v
	case trigger.OnAbort:
		if idsInBatch[v.StepID] {
			v.StepID += suffix
		}
		return v
	case trigger.Composite:
		children := make([]trigger.Trigger, len(v.Triggers))
		for i, c := range v.Triggers {
			children[i] = staggerAndRewriteTrigger(c, batchIndex, staggerSeconds, suffix, idsInBatch)
		}
		return trigger.Composite{Logic: v.Logic, Triggers: children}
	default:
		return t
	}
}

func buildStep(doc map[string]any, trackID string, batchIndex int) (Step, error) {
	step := Step{
		ID:          getString(doc, "stepId"),
		Name:        getString(doc, "name"),
		Description: getString(doc, "description"),
		Priority:    getInt(doc, "priority", DefaultPriority),
		TrackID:     trackID,
		BatchIndex:  batchIndex,
		Resources:   getStringSlice(doc, "resources"),
	}
	if step.Name == "" {
		step.Name = step.ID
	}

	step.Tasks = parseTaskResources(doc)

	dur, err := parseDurationField(doc["duration"])
	if err != nil {
		return step, fmt.Errorf("duration: %w", err)
	}
	step.Duration = dur

	st, err := parseTriggerField(doc, "startTrigger", nil)
	if err != nil {
		return step, fmt.Errorf("startTrigger: %w", err)
	}
	step.StartTrigger = st

	if cb, ok := doc["codeBlock"].(map[string]any); ok {
		step.CodeBlock = &CodeBlock{
			Kind:   CodeBlockKind(getString(cb, "kind", getString(cb, "type"))),
			Source: getString(cb, "source", getString(cb, "code")),
		}
	}

	if buf, ok := doc["preBuffer"].(map[string]any); ok {
		b, err := parseBuffer(buf)
		if err != nil {
			return step, fmt.Errorf("preBuffer: %w", err)
		}
		step.PreBuffer = &b
	}
	if buf, ok := doc["postBuffer"].(map[string]any); ok {
		b, err := parseBuffer(buf)
		if err != nil {
			return step, fmt.Errorf("postBuffer: %w", err)
		}
		step.PostBuffer = &b
	}

	return step, nil
}

func parseBuffer(doc map[string]any) (Buffer, error) {
	var b Buffer
	b.Tasks = parseTaskResources(doc)
	dur, err := parseDurationField(doc["duration"])
	if err != nil {
		return b, err
	}
	b.Duration = dur
	return b, nil
}

func parseTaskResources(doc map[string]any) []TaskResource {
	var out []TaskResource
	seen := map[string]int{} // name -> index in out, for override semantics

	add := func(name string, frac float64) {
		if name == "" {
			return
		}
		if idx, ok := seen[name]; ok {
			out[idx].Fraction = frac
			return
		}
		seen[name] = len(out)
		out = append(out, TaskResource{Name: name, Fraction: frac})
	}

	if task := getString(doc, "task"); task != "" {
		add(task, 1.0)
	}
	for _, t := range getSlice(doc, "tasks") {
		if name, ok := t.(string); ok {
			add(name, 1.0)
		}
	}
	for _, r := range getSlice(doc, "taskResources") {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		add(getString(m, "name"), getFloat(m, "fraction", 1.0))
	}
	return out
}

func parseDurationField(raw any) (timeutil.Duration, error) {
	switch v := raw.(type) {
	case nil:
		return timeutil.Duration{}, nil
	case int:
		return timeutil.Fixed(v), nil
	case float64:
		return timeutil.Fixed(int(v)), nil
	case string:
		// A bare duration may be a time string ("30m", "1h5s"); the
		// field-name normalization pass only covers *Seconds keys.
		return timeutil.Fixed(timeutil.ParseTimeString(v)), nil
	case map[string]any:
		kind := getString(v, "type", "fixed")
		switch kind {
		case "fixed":
			return timeutil.Fixed(getInt(v, "seconds", 0)), nil
		case "variable":
			min := getInt(v, "minSeconds", 0)
			max := getInt(v, "maxSeconds", 0)
			def := getInt(v, "defaultSeconds", (min+max)/2)
			d := timeutil.Duration{
				Kind:           timeutil.DurationVariable,
				MinSeconds:     min,
				MaxSeconds:     max,
				DefaultSeconds: def,
				ManualTrigger:  getString(v, "triggerName"),
			}
			if _, ok := v["optimalSeconds"]; ok {
				d.OptimalSeconds = getInt(v, "optimalSeconds", 0)
				d.HasOptimal = true
			}
			return d, nil
		case "indefinite":
			min := getInt(v, "minSeconds", 0)
			return timeutil.Duration{
				Kind:           timeutil.DurationIndefinite,
				MinSeconds:     min,
				DefaultSeconds: getInt(v, "defaultSeconds", min+60),
				ManualTrigger:  getString(v, "triggerName"),
			}, nil
		default:
			return timeutil.Duration{}, fmt.Errorf("unknown duration type %q", kind)
		}
	default:
		return timeutil.Duration{}, fmt.Errorf("unsupported duration shape %T", raw)
	}
}

func parseTriggerField(doc map[string]any, field string, fallback trigger.Trigger) (trigger.Trigger, error) {
	raw, ok := doc[field]
	if !ok {
		if fallback != nil {
			return fallback, nil
		}
		return nil, fmt.Errorf("missing required field %q", field)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q is not an object", field)
	}
	return parseTrigger(m)
}

func parseTrigger(m map[string]any) (trigger.Trigger, error) {
	if _, hasLogic := m["logic"]; hasLogic {
		if _, hasTriggers := m["triggers"]; hasTriggers {
			logic := trigger.LogicAll
			if getString(m, "logic") == string(trigger.LogicAny) {
				logic = trigger.LogicAny
			}
			var children []trigger.Trigger
			for i, raw := range getSlice(m, "triggers") {
				cm, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("triggers[%d] is not an object", i)
				}
				child, err := parseTrigger(cm)
				if err != nil {
					return nil, fmt.Errorf("triggers[%d]: %w", i, err)
				}
				children = append(children, child)
			}
			return trigger.Composite{Logic: logic, Triggers: children}, nil
		}
	}

	kind := getString(m, "type")
	switch kind {
	case "", "programStart":
		return trigger.ProgramStart{}, nil
	case "programStartOffset":
		return trigger.ProgramStartOffset{OffsetSeconds: getInt(m, "offsetSeconds", 0)}, nil
	case "afterStep":
		return trigger.AfterStep{
			StepID:        getString(m, "stepId"),
			Event:         parseEvent(getString(m, "event", "end")),
			OffsetSeconds: getInt(m, "offsetSeconds", 0),
		}, nil
	case "afterStepWithBuffer":
		return trigger.AfterStepWithBuffer{
			StepID:        getString(m, "stepId"),
			BufferSeconds: getInt(m, "bufferSeconds", 0),
			Event:         parseEvent(getString(m, "event", "end")),
		}, nil
	case "absolute":
		return trigger.Absolute{WallTime: getFloat(m, "wallTime", 0)}, nil
	case "manual":
		return trigger.Manual{Name: getString(m, "triggerName", getString(m, "name"))}, nil
	case "onAbort":
		return trigger.OnAbort{StepID: getString(m, "stepId")}, nil
	default:
		return nil, fmt.Errorf("unknown trigger type %q", kind)
	}
}

func parseEvent(s string) trigger.Event {
	if s == string(trigger.EventStart) {
		return trigger.EventStart
	}
	return trigger.EventEnd
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
