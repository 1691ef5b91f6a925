// Package protocol defines the in-memory model of a battery cycling protocol:
// an ordered method of electrical test steps plus global sample, recording
// and safety parameters.
//
// Key types:
//   - [Protocol] is the immutable root entity, built with [New]
//   - [Step] is the closed variant set of method steps
//   - [SampleParams], [RecordParams], [SafetyParams] are the global parameters
//
// Construction checks only locally-decidable invariants (numeric ranges,
// non-empty method, unique tag labels) and rejects defects with a
// [StructuralError]. Cross-step safety compliance belongs to the validate
// package, and loop-target resolution to the sequence package.
//
// The canonical persisted form is JSON with a "step" discriminator per method
// entry; see [Protocol.ToCanonical] and [FromCanonical].
package protocol

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Protocol is a complete cycling protocol. It is immutable once constructed:
// accessors return copies and "modifications" such as [Protocol.WithSample]
// produce new instances, so a base protocol can be shared freely across
// concurrent exports.
type Protocol struct {
	sample SampleParams
	record RecordParams
	safety SafetyParams
	method []Step
}

var fieldValidate = validator.New()

// New builds a Protocol and checks its local invariants. It returns a
// *StructuralError describing the first defect found. Loop targets are NOT
// resolved here: a loop may legally be authored before its tag exists, so
// target existence is checked by the validate and sequence packages.
func New(sample SampleParams, record RecordParams, safety SafetyParams, method []Step) (*Protocol, error) {
	if len(method) == 0 {
		return nil, structuralf(-1, "method must contain at least one step")
	}
	if sample.Name == "" {
		sample.Name = PlaceholderName
	}
	if err := fieldValidate.Struct(sample); err != nil {
		return nil, structuralf(-1, "sample: %v", err)
	}
	if err := fieldValidate.Struct(record); err != nil {
		return nil, structuralf(-1, "record: %v", err)
	}
	if err := fieldValidate.Struct(safety); err != nil {
		return nil, structuralf(-1, "safety: %v", err)
	}
	if safety.HasVoltageBounds() && safety.MaxVoltageV < safety.MinVoltageV {
		return nil, structuralf(-1, "safety: max_voltage_V %g below min_voltage_V %g",
			safety.MaxVoltageV, safety.MinVoltageV)
	}
	if safety.HasCurrentBounds() && safety.MaxCurrentMA < safety.MinCurrentMA {
		return nil, structuralf(-1, "safety: max_current_mA %g below min_current_mA %g",
			safety.MaxCurrentMA, safety.MinCurrentMA)
	}

	seen := make(map[string]int)
	for i, step := range method {
		if step == nil {
			return nil, structuralf(i, "step is incomplete, needs a step type")
		}
		if err := checkStep(step); err != nil {
			return nil, structuralf(i, "%v", err)
		}
		if tag, ok := step.(Tag); ok {
			if prev, dup := seen[tag.Label]; dup {
				return nil, structuralf(i, "duplicate tag %q (first used at step %d)", tag.Label, prev)
			}
			seen[tag.Label] = i
		}
	}

	p := &Protocol{
		sample: sample,
		record: record,
		safety: safety,
		method: make([]Step, len(method)),
	}
	copy(p.method, method)
	return p, nil
}

// checkStep verifies the per-variant invariants that do not depend on any
// other step.
func checkStep(step Step) error {
	switch s := step.(type) {
	case Tag:
		return nil
	case OpenCircuitVoltage:
		if s.UntilTimeS <= 0 {
			return fmt.Errorf("open_circuit_voltage: until_time_s must be positive")
		}
	case ConstantCurrent:
		if s.RateC == 0 && s.CurrentMA == 0 {
			return fmt.Errorf("constant_current: either rate_C or current_mA must be set and non-zero")
		}
		if s.UntilTimeS == 0 && s.UntilVoltageV == 0 {
			return fmt.Errorf("constant_current: either until_time_s or until_voltage_V must be set and non-zero")
		}
		if s.UntilTimeS < 0 || s.UntilVoltageV < 0 {
			return fmt.Errorf("constant_current: termination values must be positive")
		}
	case ConstantVoltage:
		if s.VoltageV == 0 {
			return fmt.Errorf("constant_voltage: voltage_V must be set")
		}
		if s.UntilTimeS == 0 && s.UntilRateC == 0 && s.UntilCurrentMA == 0 {
			return fmt.Errorf("constant_voltage: either until_time_s, until_rate_C, or until_current_mA must be set and non-zero")
		}
		if s.UntilTimeS < 0 {
			return fmt.Errorf("constant_voltage: until_time_s must be positive")
		}
	case ImpedanceSpectroscopy:
		if s.AmplitudeV != 0 && s.AmplitudeMA != 0 {
			return fmt.Errorf("impedance_spectroscopy: cannot set both amplitude_V and amplitude_mA")
		}
		if s.AmplitudeV == 0 && s.AmplitudeMA == 0 {
			return fmt.Errorf("impedance_spectroscopy: either amplitude_V or amplitude_mA must be set")
		}
		for _, f := range []float64{s.StartFrequencyHz, s.EndFrequencyHz} {
			if f < 1e-5 || f > 1e5 {
				return fmt.Errorf("impedance_spectroscopy: frequency %g Hz outside [1e-5, 1e5]", f)
			}
		}
		if s.PointsPerDecade <= 0 {
			return fmt.Errorf("impedance_spectroscopy: points_per_decade must be positive")
		}
		if s.MeasuresPerPoint <= 0 {
			return fmt.Errorf("impedance_spectroscopy: measures_per_point must be positive")
		}
	case Loop:
		if s.CycleCount <= 0 {
			return fmt.Errorf("loop: cycle_count must be positive")
		}
		if !s.To.IsLabel() && s.To.Position <= 0 {
			return fmt.Errorf("loop: target must be a tag label or a positive step number")
		}
	default:
		return fmt.Errorf("unknown step type %q", step.Kind())
	}
	return nil
}

// Sample returns the protocol's sample parameters.
func (p *Protocol) Sample() SampleParams { return p.sample }

// Record returns the protocol's recording parameters.
func (p *Protocol) Record() RecordParams { return p.record }

// Safety returns the protocol's safety limits.
func (p *Protocol) Safety() SafetyParams { return p.safety }

// Method returns a copy of the ordered step sequence.
func (p *Protocol) Method() []Step {
	out := make([]Step, len(p.method))
	copy(out, p.method)
	return out
}

// StepAt returns the step at the given zero-based position in the authored
// method, or nil when out of range.
func (p *Protocol) StepAt(i int) Step {
	if i < 0 || i >= len(p.method) {
		return nil
	}
	return p.method[i]
}

// Len returns the number of authored steps, tags included.
func (p *Protocol) Len() int { return len(p.method) }

// WithSample returns a copy of the protocol with the sample name and/or
// capacity replaced. Empty name and zero capacity leave the respective field
// unchanged.
func (p *Protocol) WithSample(name string, capacityMAh float64) *Protocol {
	q := *p
	if name != "" {
		q.sample.Name = name
	}
	if capacityMAh > 0 {
		q.sample.CapacityMAh = capacityMAh
	}
	return &q
}

// UsesRates reports whether any step expresses a quantity as a C-rate and so
// needs a capacity at export time.
func (p *Protocol) UsesRates() bool {
	for _, step := range p.method {
		switch s := step.(type) {
		case ConstantCurrent:
			if s.RateC != 0 {
				return true
			}
		case ConstantVoltage:
			if s.UntilRateC != 0 {
				return true
			}
		}
	}
	return false
}
