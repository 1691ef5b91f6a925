package protocol

// SampleParams identifies the cell a protocol runs against. A protocol may
// carry a default sample; the export call can override both fields, and must
// supply them when the protocol leaves them blank.
type SampleParams struct {
	// Name is the sample name. The placeholder "$NAME" marks a protocol
	// authored for reuse across samples: exporting it requires an explicit
	// name override.
	Name string `json:"name" validate:"required"`

	// CapacityMAh is the cell capacity in mAh used to convert C-rates into
	// absolute currents. Zero means unknown.
	CapacityMAh float64 `json:"capacity_mAh,omitempty" validate:"gte=0"`
}

// PlaceholderName is the sample-name placeholder accepted in stored
// protocols. It is never a valid name at export time.
const PlaceholderName = "$NAME"

// RecordParams is the global data-logging policy: how often, at minimum, the
// device records a data point during electrical steps.
type RecordParams struct {
	// TimeS is the time in seconds between recorded points. Required.
	TimeS float64 `json:"time_s" validate:"gt=0"`

	// VoltageV records a point whenever the voltage moves by this much.
	VoltageV float64 `json:"voltage_V,omitempty" validate:"gte=0"`

	// CurrentMA records a point whenever the current moves by this much.
	CurrentMA float64 `json:"current_mA,omitempty" validate:"gte=0"`
}

// SafetyParams are global hard limits. Exceeding them cancels the whole
// experiment on the device. Zero means the limit is not set.
type SafetyParams struct {
	MaxVoltageV float64 `json:"max_voltage_V,omitempty"`
	MinVoltageV float64 `json:"min_voltage_V,omitempty"`

	// MaxCurrentMA and MinCurrentMA bound the current. MinCurrentMA is
	// usually negative (discharge). Targets that only support one absolute
	// current limit enforce max(|min|, |max|) symmetrically; see the
	// validator's advisory on asymmetric bounds.
	MaxCurrentMA float64 `json:"max_current_mA,omitempty"`
	MinCurrentMA float64 `json:"min_current_mA,omitempty"`

	// MaxCapacityMAh cancels the experiment when the accumulated charge
	// exceeds this value.
	MaxCapacityMAh float64 `json:"max_capacity_mAh,omitempty" validate:"gte=0"`

	// DelayS is how long limits must be exceeded before cancelling.
	DelayS float64 `json:"delay_s,omitempty" validate:"gte=0"`
}

// HasVoltageBounds reports whether both voltage limits are set.
func (s SafetyParams) HasVoltageBounds() bool {
	return s.MaxVoltageV != 0 || s.MinVoltageV != 0
}

// HasCurrentBounds reports whether any current limit is set.
func (s SafetyParams) HasCurrentBounds() bool {
	return s.MaxCurrentMA != 0 || s.MinCurrentMA != 0
}

// AbsCurrentLimitMA is the single symmetric current limit enforced by targets
// that cannot express asymmetric bounds: the larger magnitude of the two.
func (s SafetyParams) AbsCurrentLimitMA() float64 {
	maxAbs := s.MaxCurrentMA
	if maxAbs < 0 {
		maxAbs = -maxAbs
	}
	minAbs := s.MinCurrentMA
	if minAbs < 0 {
		minAbs = -minAbs
	}
	if minAbs > maxAbs {
		return minAbs
	}
	return maxAbs
}
