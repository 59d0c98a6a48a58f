package timeutil

import "fmt"

// DurationKind tags which Duration variant is populated.
type DurationKind string

const (
	DurationFixed      DurationKind = "fixed"
	DurationVariable   DurationKind = "variable"
	DurationIndefinite DurationKind = "indefinite"
)

// Duration is a closed sum type: a step's duration is exactly one of
// Fixed(seconds), Variable{min,max,default,trigger}, or
// Indefinite{min,default,trigger}.
type Duration struct {
	Kind DurationKind

	// Fixed
	Seconds int

	// Variable / Indefinite
	MinSeconds     int
	MaxSeconds     int // unused for Indefinite
	DefaultSeconds int
	OptimalSeconds int // Variable only; planner may prefer this over DefaultSeconds
	HasOptimal     bool
	ManualTrigger  string // optional manual_trigger_name
}

// Fixed constructs a fixed-length Duration.
func Fixed(seconds int) Duration {
	return Duration{Kind: DurationFixed, Seconds: seconds}
}

// Validate checks the invariant that for Variable durations
// min <= default <= max. A default outside that range is an error
// rather than being silently clamped to the midpoint.
func (d Duration) Validate() error {
	if d.Kind != DurationVariable {
		return nil
	}
	if d.MinSeconds > d.DefaultSeconds || d.DefaultSeconds > d.MaxSeconds {
		return fmt.Errorf("variable duration default %ds outside [min=%ds, max=%ds]",
			d.DefaultSeconds, d.MinSeconds, d.MaxSeconds)
	}
	return nil
}

// Calculate returns the duration to use for planning purposes: the
// default value for Variable/Indefinite, or the fixed value.
func (d Duration) Calculate() int {
	switch d.Kind {
	case DurationFixed:
		return d.Seconds
	case DurationVariable, DurationIndefinite:
		return d.DefaultSeconds
	default:
		return 0
	}
}

// Min returns the minimum possible duration (used for the manual-
// completion dwell gate).
func (d Duration) Min() int {
	switch d.Kind {
	case DurationFixed:
		return d.Seconds
	case DurationVariable, DurationIndefinite:
		return d.MinSeconds
	default:
		return 0
	}
}

// Max returns the maximum possible duration, used for worst-case
// bottleneck analysis. Indefinite has no max; for it Max returns
// DefaultSeconds as a placeholder bound.
func (d Duration) Max() int {
	switch d.Kind {
	case DurationFixed:
		return d.Seconds
	case DurationVariable:
		return d.MaxSeconds
	default:
		return d.DefaultSeconds
	}
}

// AutoCompletes reports whether the runner ever transitions this
// duration's step to Completed without an explicit manual command.
func (d Duration) AutoCompletes() bool {
	return d.Kind != DurationIndefinite
}
