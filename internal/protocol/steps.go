package protocol

// StepKind is the canonical discriminator for step variants. It appears as
// the "step" field in the canonical JSON form.
type StepKind string

// The closed set of step kinds. Codecs switch exhaustively over these so
// that adding a kind forces every codec to take a position on it.
const (
	KindTag                   StepKind = "tag"
	KindOpenCircuitVoltage    StepKind = "open_circuit_voltage"
	KindConstantCurrent       StepKind = "constant_current"
	KindConstantVoltage       StepKind = "constant_voltage"
	KindImpedanceSpectroscopy StepKind = "impedance_spectroscopy"
	KindLoop                  StepKind = "loop"
)

// Step is one entry in a protocol method. Implementations are value types;
// copying a Step copies all of its parameters.
//
// Numeric step parameters use zero to mean "not set". A termination value of
// zero would have no physical meaning, so the ambiguity is harmless and keeps
// the model free of pointer fields.
type Step interface {
	// Kind returns the canonical discriminator for this variant.
	Kind() StepKind

	// StepID returns the optional free-form identifier carried by the step.
	StepID() string

	isStep()
}

// Tag is a labeled no-op marker. It has no electrical effect; it exists so a
// Loop can reference a position in the method by name. Tags are removed
// during sequence resolution.
type Tag struct {
	// ID is an optional free-form identifier.
	ID string
	// Label is the tag name referenced by Loop steps.
	Label string
}

func (Tag) Kind() StepKind { return KindTag }
func (s Tag) StepID() string { return s.ID }
func (Tag) isStep() {}

// OpenCircuitVoltage is a rest step during which no current flows. It is the
// only step type after which hardware current-range changes are permitted on
// range-restricted targets.
type OpenCircuitVoltage struct {
	ID string
	// UntilTimeS is the duration of the rest in seconds. Required.
	UntilTimeS float64
}

func (OpenCircuitVoltage) Kind() StepKind { return KindOpenCircuitVoltage }
func (s OpenCircuitVoltage) StepID() string { return s.ID }
func (OpenCircuitVoltage) isStep() {}

// ConstantCurrent applies a fixed current until a termination condition is
// met. The current may be given as a C-rate (RateC, a multiple of the sample
// capacity per hour), an absolute current (CurrentMA), or both. When both are
// set the C-rate wins and CurrentMA is recomputed from it at export time.
//
// Termination conditions are OR conditions evaluated in declaration order:
// the step ends as soon as any one of them is met.
type ConstantCurrent struct {
	ID string
	// RateC is the applied current in C-rate units. Negative discharges.
	RateC float64
	// CurrentMA is the applied current in mA. Negative discharges.
	CurrentMA float64
	// UntilTimeS ends the step after this many seconds.
	UntilTimeS float64
	// UntilVoltageV ends the step when this cell voltage is reached.
	UntilVoltageV float64
}

func (ConstantCurrent) Kind() StepKind { return KindConstantCurrent }
func (s ConstantCurrent) StepID() string { return s.ID }
func (ConstantCurrent) isStep() {}

// Charging reports whether the step charges the cell. The C-rate sign wins
// when both a rate and an absolute current are present.
func (s ConstantCurrent) Charging() bool {
	if s.RateC != 0 {
		return s.RateC > 0
	}
	return s.CurrentMA > 0
}

// ConstantVoltage holds a fixed voltage until a termination condition is met.
// In practice cyclers adjust the current to keep the voltage constant, so the
// usual termination is the current (or C-rate) decaying below a cutoff.
type ConstantVoltage struct {
	ID string
	// VoltageV is the held voltage. Required.
	VoltageV float64
	// UntilTimeS ends the step after this many seconds.
	UntilTimeS float64
	// UntilRateC ends the step when the current falls below this C-rate.
	UntilRateC float64
	// UntilCurrentMA ends the step when the current falls below this value.
	// UntilRateC wins when both are set.
	UntilCurrentMA float64
}

func (ConstantVoltage) Kind() StepKind { return KindConstantVoltage }
func (s ConstantVoltage) StepID() string { return s.ID }
func (ConstantVoltage) isStep() {}

// ImpedanceSpectroscopy is an EIS step. Exactly one of AmplitudeV (PEIS) or
// AmplitudeMA (GEIS) must be set. Only the Biologic target can render it.
type ImpedanceSpectroscopy struct {
	ID string
	// AmplitudeV is the oscillation amplitude in volts (PEIS).
	AmplitudeV float64
	// AmplitudeMA is the oscillation amplitude in mA (GEIS).
	AmplitudeMA float64
	// StartFrequencyHz is the sweep start frequency.
	StartFrequencyHz float64
	// EndFrequencyHz is the sweep end frequency.
	EndFrequencyHz float64
	// PointsPerDecade is how many points to measure per decade of frequency.
	PointsPerDecade int
	// MeasuresPerPoint is how many measurements to average per point.
	MeasuresPerPoint int
	// DriftCorrection compensates for system drift. Doubles measurement time.
	DriftCorrection bool
}

func (ImpedanceSpectroscopy) Kind() StepKind { return KindImpedanceSpectroscopy }
func (s ImpedanceSpectroscopy) StepID() string { return s.ID }
func (ImpedanceSpectroscopy) isStep() {}

// LoopTarget identifies the step a Loop jumps back to, either by tag label or
// by 1-based position in the authored method. Prefer labels: positions break
// when steps are inserted or removed.
type LoopTarget struct {
	// Label is a Tag label. Takes effect when non-empty.
	Label string
	// Position is a 1-based step number in the authored method. Used only
	// when Label is empty.
	Position int
}

// IsLabel reports whether the target is label-based.
func (t LoopTarget) IsLabel() bool { return t.Label != "" }

// Loop repeats execution from its target a fixed number of times.
type Loop struct {
	ID string
	// To is the step to jump back to.
	To LoopTarget
	// CycleCount is the TOTAL number of cycles, so a count of 3 executes the
	// loop body three times. Device formats that count goto events instead
	// subtract one when rendering.
	CycleCount int
}

func (Loop) Kind() StepKind { return KindLoop }
func (s Loop) StepID() string { return s.ID }
func (Loop) isStep() {}
