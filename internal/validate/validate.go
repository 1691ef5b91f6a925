// Package validate checks a protocol for cross-step and physical consistency.
//
// Unlike the structural checks performed at construction time, validation
// collects EVERY violation before returning, so a single call surfaces all
// problems at once. Validation is pure: it never mutates the protocol and is
// safe to repeat.
//
// Key types:
//   - [Report] holds the collected [Violation] list plus advisories
//   - [Protocol] validates without a capacity; [ProtocolWithCapacity] also
//     checks C-rate-derived currents against the safety envelope
package validate

import (
	"fmt"
	"math"

	"cyclekit/internal/protocol"
)

// Violation is a single validation failure with step attribution.
type Violation struct {
	// StepIndex is the zero-based position in the authored method, or -1
	// for protocol-level violations.
	StepIndex int

	// Field names the offending parameter, e.g. "until_voltage_V".
	Field string

	// Message describes the failure.
	Message string
}

func (v Violation) String() string {
	if v.StepIndex < 0 {
		return fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("step %d: %s: %s", v.StepIndex, v.Field, v.Message)
}

// Report is the outcome of a validation pass.
type Report struct {
	// Violations are hard failures. A protocol with any violation must not
	// be exported.
	Violations []Violation

	// Advisories are behaviors the caller should know about but that do not
	// block export, e.g. the widened symmetric current limit applied by
	// single-limit targets when the safety bounds are asymmetric.
	Advisories []string
}

// OK reports whether the protocol passed with no violations.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Err converts the report into an error, or nil when the report is clean.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	return &Error{Report: r}
}

// Error is the error form of a failed validation report.
type Error struct {
	Report Report
}

func (e *Error) Error() string {
	if len(e.Report.Violations) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Report.Violations[0])
	}
	return fmt.Sprintf("validation failed with %d violations (first: %s)",
		len(e.Report.Violations), e.Report.Violations[0])
}

// Protocol validates p without knowledge of the sample capacity: C-rate
// quantities that cannot be converted to currents are skipped here and
// re-checked by [ProtocolWithCapacity] inside the export pipeline.
func Protocol(p *protocol.Protocol) Report {
	return run(p, 0)
}

// ProtocolWithCapacity validates p including the currents derived from
// C-rates using the given capacity in mAh.
func ProtocolWithCapacity(p *protocol.Protocol, capacityMAh float64) Report {
	return run(p, capacityMAh)
}

func run(p *protocol.Protocol, capacityMAh float64) Report {
	var r Report
	safety := p.Safety()
	method := p.Method()

	if safety.HasCurrentBounds() && safety.MaxCurrentMA != -safety.MinCurrentMA {
		r.Advisories = append(r.Advisories, fmt.Sprintf(
			"asymmetric current limits [%g, %g] mA: single-limit targets enforce ±%g mA in both directions",
			safety.MinCurrentMA, safety.MaxCurrentMA, safety.AbsCurrentLimitMA()))
	}

	tags := collectTags(method, &r)
	for i, step := range method {
		switch s := step.(type) {
		case protocol.ConstantCurrent:
			checkTermination(i, &r, s.UntilTimeS != 0 || s.UntilVoltageV != 0)
			checkVoltage(i, "until_voltage_V", s.UntilVoltageV, safety, &r)
			checkCurrent(i, "current_mA", currentOf(s.RateC, s.CurrentMA, capacityMAh), safety, &r)
		case protocol.ConstantVoltage:
			checkTermination(i, &r, s.UntilTimeS != 0 || s.UntilRateC != 0 || s.UntilCurrentMA != 0)
			checkVoltage(i, "voltage_V", s.VoltageV, safety, &r)
			checkCurrent(i, "until_current_mA", currentOf(s.UntilRateC, s.UntilCurrentMA, capacityMAh), safety, &r)
		case protocol.Loop:
			checkLoop(i, s, tags, &r)
		}
	}
	return r
}

// collectTags maps tag labels to their step index and records duplicates.
// Duplicates are normally impossible (construction rejects them) but a report
// must still be deterministic if a protocol arrives through another path.
func collectTags(method []protocol.Step, r *Report) map[string]int {
	tags := make(map[string]int)
	for i, step := range method {
		tag, ok := step.(protocol.Tag)
		if !ok {
			continue
		}
		if prev, dup := tags[tag.Label]; dup {
			r.Violations = append(r.Violations, Violation{
				StepIndex: i, Field: "tag",
				Message: fmt.Sprintf("duplicate tag %q (first used at step %d)", tag.Label, prev),
			})
			continue
		}
		tags[tag.Label] = i
	}
	return tags
}

func checkTermination(i int, r *Report, ok bool) {
	if !ok {
		r.Violations = append(r.Violations, Violation{
			StepIndex: i, Field: "termination",
			Message: "step has no termination condition",
		})
	}
}

// currentOf resolves a (rate, absolute) pair into the current the device will
// enforce, preferring the rate when a capacity is known. NaN means the value
// cannot be determined yet.
func currentOf(rateC, currentMA, capacityMAh float64) float64 {
	if rateC != 0 {
		if capacityMAh > 0 {
			return rateC * capacityMAh
		}
		if currentMA != 0 {
			return currentMA
		}
		return math.NaN()
	}
	return currentMA
}

func checkVoltage(i int, field string, v float64, safety protocol.SafetyParams, r *Report) {
	if v == 0 || !safety.HasVoltageBounds() {
		return
	}
	if v > safety.MaxVoltageV || v < safety.MinVoltageV {
		r.Violations = append(r.Violations, Violation{
			StepIndex: i, Field: field,
			Message: fmt.Sprintf("%g V outside safety bounds [%g, %g] V", v, safety.MinVoltageV, safety.MaxVoltageV),
		})
	}
}

func checkCurrent(i int, field string, mA float64, safety protocol.SafetyParams, r *Report) {
	if mA == 0 || math.IsNaN(mA) || !safety.HasCurrentBounds() {
		return
	}
	limit := safety.AbsCurrentLimitMA()
	if math.Abs(mA) > limit {
		r.Violations = append(r.Violations, Violation{
			StepIndex: i, Field: field,
			Message: fmt.Sprintf("%g mA exceeds the enforced current limit of ±%g mA", mA, limit),
		})
	}
}

func checkLoop(i int, s protocol.Loop, tags map[string]int, r *Report) {
	if s.To.IsLabel() {
		tagIdx, ok := tags[s.To.Label]
		if !ok {
			r.Violations = append(r.Violations, Violation{
				StepIndex: i, Field: "loop_to",
				Message: fmt.Sprintf("tag %q is missing", s.To.Label),
			})
			return
		}
		if i <= tagIdx {
			r.Violations = append(r.Violations, Violation{
				StepIndex: i, Field: "loop_to",
				Message: fmt.Sprintf("loops must go backwards, %q points forwards (%d -> %d)", s.To.Label, i, tagIdx),
			})
			return
		}
		if i == tagIdx+1 {
			r.Violations = append(r.Violations, Violation{
				StepIndex: i, Field: "loop_to",
				Message: fmt.Sprintf("loop %q has an empty body: it starts immediately after its tag", s.To.Label),
			})
		}
		return
	}

	target := s.To.Position - 1 // 1-based in authored form
	if target >= i {
		r.Violations = append(r.Violations, Violation{
			StepIndex: i, Field: "loop_to",
			Message: fmt.Sprintf("loops must go backwards, step number %d points at or after the loop", s.To.Position),
		})
	}
}
