package protocol

import "fmt"

// StructuralError reports a malformed protocol: an empty method, a duplicate
// tag, a step missing its required parameters, and similar locally-checkable
// defects. It is returned by [New] and [FromCanonical] before any validation
// or export is attempted.
type StructuralError struct {
	// StepIndex is the zero-based position of the offending step in the
	// authored method, or -1 when the defect is not tied to a single step.
	StepIndex int

	// Msg describes the defect.
	Msg string
}

func (e *StructuralError) Error() string {
	if e.StepIndex >= 0 {
		return fmt.Sprintf("protocol structure: step %d: %s", e.StepIndex, e.Msg)
	}
	return fmt.Sprintf("protocol structure: %s", e.Msg)
}

func structuralf(stepIndex int, format string, args ...any) *StructuralError {
	return &StructuralError{StepIndex: stepIndex, Msg: fmt.Sprintf(format, args...)}
}
