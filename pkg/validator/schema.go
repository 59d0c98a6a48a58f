package validator

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// programSchema builds the structural definition of a program
// document, reusing kin-openapi's openapi3.Schema type as a
// general-purpose JSON Schema validator rather than pulling in a
// standalone JSON Schema library the rest of the stack never touches.
// Time strings are normalized to integer seconds before this schema
// runs, so every *Seconds field can be expressed as an integer here;
// a step's bare `duration` may still be a time string.
func programSchema() *openapi3.Schema {
	str := openapi3.NewStringSchema()
	integer := openapi3.NewIntegerSchema()

	trigger := openapi3.NewObjectSchema()
	trigger.Properties = openapi3.Schemas{
		"type": openapi3.NewSchemaRef("", openapi3.NewStringSchema().WithEnum(
			"programStart", "programStartOffset", "afterStep",
			"afterStepWithBuffer", "absolute", "manual", "onAbort",
		)),
		"stepId":        openapi3.NewSchemaRef("", str),
		"event":         openapi3.NewSchemaRef("", openapi3.NewStringSchema().WithEnum("start", "end")),
		"offsetSeconds": openapi3.NewSchemaRef("", integer),
		"bufferSeconds": openapi3.NewSchemaRef("", integer),
		"triggerName":   openapi3.NewSchemaRef("", str),
		// Composite: logic + a child trigger list. Children are left
		// structurally open here (an openapi3.Schema literal cannot
		// reference itself); the builder rejects malformed nested
		// triggers.
		"logic":    openapi3.NewSchemaRef("", openapi3.NewStringSchema().WithEnum("all", "any")),
		"triggers": openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())),
	}

	constraint := openapi3.NewObjectSchema()
	constraint.Properties = openapi3.Schemas{
		"task":                openapi3.NewSchemaRef("", str),
		"maxConcurrent":       openapi3.NewSchemaRef("", openapi3.NewIntegerSchema().WithMin(1)),
		"actorsRequired":      openapi3.NewSchemaRef("", openapi3.NewSchema().WithMin(0)),
		"qualifiedActorTypes": openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(str)),
		"description":         openapi3.NewSchemaRef("", str),
	}
	constraint.Required = []string{"task", "maxConcurrent"}

	// A duration is a bare integer (seconds), a time string ("30m"),
	// or a typed object. The object's per-kind fields are all integers
	// after time normalization; `type` is required so a malformed kind
	// fails here instead of as a hard builder error.
	durationObj := openapi3.NewObjectSchema()
	durationObj.Properties = openapi3.Schemas{
		"type": openapi3.NewSchemaRef("", openapi3.NewStringSchema().WithEnum(
			"fixed", "variable", "indefinite",
		)),
		"seconds":        openapi3.NewSchemaRef("", integer),
		"minSeconds":     openapi3.NewSchemaRef("", integer),
		"maxSeconds":     openapi3.NewSchemaRef("", integer),
		"defaultSeconds": openapi3.NewSchemaRef("", integer),
		"optimalSeconds": openapi3.NewSchemaRef("", integer),
		"triggerName":    openapi3.NewSchemaRef("", str),
	}
	durationObj.Required = []string{"type"}
	duration := openapi3.NewOneOfSchema(
		openapi3.NewIntegerSchema(),
		openapi3.NewStringSchema(),
		durationObj,
	)

	step := openapi3.NewObjectSchema()
	step.Properties = openapi3.Schemas{
		"stepId":       openapi3.NewSchemaRef("", str),
		"name":         openapi3.NewSchemaRef("", str),
		"description":  openapi3.NewSchemaRef("", str),
		"priority":     openapi3.NewSchemaRef("", integer),
		"startTrigger": openapi3.NewSchemaRef("", trigger),
		"duration":     openapi3.NewSchemaRef("", duration),
		"task":         openapi3.NewSchemaRef("", str),
		"tasks":        openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(str)),
		"resources":    openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(str)),
	}
	step.Required = []string{"stepId", "startTrigger"}

	track := openapi3.NewObjectSchema()
	track.Properties = openapi3.Schemas{
		"trackId":         openapi3.NewSchemaRef("", str),
		"name":            openapi3.NewSchemaRef("", str),
		"templateId":      openapi3.NewSchemaRef("", str),
		"batch_size":      openapi3.NewSchemaRef("", openapi3.NewIntegerSchema().WithMin(1)),
		"stagger_seconds": openapi3.NewSchemaRef("", openapi3.NewIntegerSchema().WithMin(0)),
		"steps":           openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(step)),
	}
	track.Required = []string{"trackId"}

	root := openapi3.NewObjectSchema()
	root.Properties = openapi3.Schemas{
		"programId":           openapi3.NewSchemaRef("", str),
		"name":                openapi3.NewSchemaRef("", str),
		"version":             openapi3.NewSchemaRef("", str),
		"description":         openapi3.NewSchemaRef("", str),
		"environment":         openapi3.NewSchemaRef("", str),
		"environmentType":     openapi3.NewSchemaRef("", str),
		"actors":              openapi3.NewSchemaRef("", openapi3.NewIntegerSchema().WithMin(0)),
		"resourceConstraints": openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(constraint)),
		"startTrigger":        openapi3.NewSchemaRef("", trigger),
		"tracks":              openapi3.NewSchemaRef("", openapi3.NewArraySchema().WithItems(track)),
	}
	root.Required = []string{"programId", "name", "startTrigger", "tracks"}

	return root
}

// Pass1Schema validates doc (the generic document tree) against the
// program schema and returns one message per structural violation
// kin-openapi reports.
func Pass1Schema(doc map[string]any) []string {
	err := programSchema().VisitJSON(doc, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	multi, ok := err.(openapi3.MultiError)
	if !ok {
		return []string{fmt.Sprintf("schema error: %v", err)}
	}
	out := make([]string, 0, len(multi))
	for _, e := range multi {
		if se, ok := e.(*openapi3.SchemaError); ok {
			out = append(out, fmt.Sprintf("schema error at /%s: %s", strings.Join(se.JSONPointer(), "/"), se.Reason))
			continue
		}
		out = append(out, fmt.Sprintf("schema error: %v", e))
	}
	return out
}
