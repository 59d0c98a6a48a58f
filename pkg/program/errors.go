package program

import "fmt"

// ParseError wraps a malformed-document failure: JSON/YAML that
// doesn't even decode to a generic tree.
type ParseError struct {
	Format string // "json" or "yaml"
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s document: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// BuildError wraps a failure to construct a typed Program from an
// already-decoded document tree (malformed trigger/duration shapes,
// missing required fields the builder itself must have to proceed —
// distinct from the Validator's schema/semantic passes, which run on
// an already-built Program and report a list rather than failing
// fast).
type BuildError struct {
	Path string // top-level location in the document, e.g. "startTrigger" or "tracks[0]"
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
