package sequence

import (
	"fmt"

	"cyclekit/internal/protocol"
)

// MissingCapacityError reports a step that expresses a quantity as a C-rate
// while no usable capacity was supplied at export time.
type MissingCapacityError struct {
	// StepIndex is the zero-based position in the authored method.
	StepIndex int

	// Field names the rate-bearing parameter.
	Field string
}

func (e *MissingCapacityError) Error() string {
	return fmt.Sprintf("step %d: %s requires a sample capacity, but none was supplied", e.StepIndex, e.Field)
}

// Convert rewrites every C-rate quantity in the resolved sequence into an
// absolute current using current_mA = rate_C × capacity_mAh, preserving sign.
// The rate values are kept alongside the derived currents: some targets emit
// both forms. Conversion happens once, here, so the codecs never handle
// relative units.
func Convert(steps []ResolvedStep, capacityMAh float64) ([]ResolvedStep, error) {
	out := make([]ResolvedStep, len(steps))
	for i, rs := range steps {
		switch s := rs.Step.(type) {
		case protocol.ConstantCurrent:
			if s.RateC != 0 {
				if capacityMAh <= 0 {
					return nil, &MissingCapacityError{StepIndex: rs.Origin, Field: "rate_C"}
				}
				s.CurrentMA = s.RateC * capacityMAh
			}
			rs.Step = s
		case protocol.ConstantVoltage:
			if s.UntilRateC != 0 {
				if capacityMAh <= 0 {
					return nil, &MissingCapacityError{StepIndex: rs.Origin, Field: "until_rate_C"}
				}
				s.UntilCurrentMA = s.UntilRateC * capacityMAh
			}
			rs.Step = s
		}
		out[i] = rs
	}
	return out, nil
}
