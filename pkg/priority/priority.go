// Package priority decides the final priority label of a finding from its
// calculated, operator-selected and legacy values.
package priority

import "strings"

// Priority is a finding priority label.
type Priority string

const (
	Immediate   Priority = "IMMEDIATE"
	Urgent      Priority = "URGENT"
	Recommended Priority = "RECOMMENDED"
	PlanMonitor Priority = "PLAN_MONITOR"
)

// DefaultPriority is used when neither a calculated nor a legacy priority exists.
const DefaultPriority = PlanMonitor

var known = map[Priority]struct{}{
	Immediate:   {},
	Urgent:      {},
	Recommended: {},
	PlanMonitor: {},
}

// Valid reports whether p is one of the known labels.
func (p Priority) Valid() bool {
	_, ok := known[p]
	return ok
}

// Parse normalises a label ("plan-monitor", " immediate ") to a Priority.
// The second return value is false for unknown labels.
func Parse(s string) (Priority, bool) {
	p := Priority(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	return p, p.Valid()
}

// Input carries everything the resolver looks at. Nil means "not set".
type Input struct {
	Calculated     *Priority
	Selected       *Priority
	AlreadyFinal   *Priority
	OverrideReason string
	// Legacy is the pre-calculation priority field of older records.
	Legacy *Priority
}

// ResolveFinal returns the priority a report should show.
//
// An already-final value is returned verbatim. Otherwise the calculated value
// wins unless a different selected value comes with a non-blank override
// reason. Records without a calculated value fall back to the legacy field
// and then to DefaultPriority. The resolver never fails: an override without
// a reason is ignored rather than rejected.
func ResolveFinal(in Input) Priority {
	if in.AlreadyFinal != nil {
		return *in.AlreadyFinal
	}
	if in.Calculated != nil {
		if overrideAttempted(in) && hasReason(in.OverrideReason) {
			return *in.Selected
		}
		return *in.Calculated
	}
	if in.Legacy != nil {
		return *in.Legacy
	}
	return DefaultPriority
}

// IsOverrideValid reports whether an input may be persisted: either no
// override is attempted or it carries a non-blank reason.
func IsOverrideValid(in Input) bool {
	if !overrideAttempted(in) {
		return true
	}
	return hasReason(in.OverrideReason)
}

func overrideAttempted(in Input) bool {
	if in.Calculated == nil || in.Selected == nil {
		return false
	}
	return *in.Selected != *in.Calculated
}

func hasReason(reason string) bool {
	return strings.TrimSpace(reason) != ""
}

// Ptr returns a pointer to p, for building inputs.
func Ptr(p Priority) *Priority { return &p }
