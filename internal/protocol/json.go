package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The canonical persisted form is a JSON document with one object per method
// step carrying a "step" discriminator. It is the round-trippable archival
// format: FromCanonical(ToCanonical(p)) reproduces an identical Protocol.

// number is a float64 that additionally accepts numeric strings and treats
// the empty string as "not set", matching hand-edited protocol files.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		var v float64
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

// rate is a C-rate that additionally accepts the textual forms handled by
// [ParseCRate], e.g. "C/2" or "D/5".
type rate float64

func (r *rate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseCRate(s)
		if err != nil {
			return err
		}
		*r = rate(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = rate(v)
	return nil
}

// MarshalJSON emits the loop target as a bare string (label) or number
// (1-based position).
func (t LoopTarget) MarshalJSON() ([]byte, error) {
	if t.IsLabel() {
		return json.Marshal(t.Label)
	}
	return json.Marshal(t.Position)
}

// UnmarshalJSON accepts either form.
func (t *LoopTarget) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = LoopTarget{Label: s}
		return nil
	}
	var pos int
	if err := json.Unmarshal(data, &pos); err != nil {
		return fmt.Errorf("loop_to must be a tag label or step number: %w", err)
	}
	*t = LoopTarget{Position: pos}
	return nil
}

// stepDoc is the wire form of a single method step. One struct covers every
// variant; the discriminator decides which fields are meaningful.
type stepDoc struct {
	Step StepKind `json:"step"`
	ID   string   `json:"id,omitempty"`

	// tag
	Tag *string `json:"tag,omitempty"`

	// electrical parameters
	RateC          rate   `json:"rate_C,omitempty"`
	CurrentMA      number `json:"current_mA,omitempty"`
	VoltageV       number `json:"voltage_V,omitempty"`
	UntilTimeS     number `json:"until_time_s,omitempty"`
	UntilVoltageV  number `json:"until_voltage_V,omitempty"`
	UntilRateC     rate   `json:"until_rate_C,omitempty"`
	UntilCurrentMA number `json:"until_current_mA,omitempty"`

	// impedance spectroscopy
	AmplitudeV       number `json:"amplitude_V,omitempty"`
	AmplitudeMA      number `json:"amplitude_mA,omitempty"`
	StartFrequencyHz number `json:"start_frequency_Hz,omitempty"`
	EndFrequencyHz   number `json:"end_frequency_Hz,omitempty"`
	PointsPerDecade  int    `json:"points_per_decade,omitempty"`
	MeasuresPerPoint int    `json:"measures_per_point,omitempty"`
	DriftCorrection  bool   `json:"drift_correction,omitempty"`

	// loop
	LoopTo     *LoopTarget `json:"loop_to,omitempty"`
	CycleCount int         `json:"cycle_count,omitempty"`
}

// document is the wire form of a whole protocol.
type document struct {
	Sample SampleParams `json:"sample"`
	Record RecordParams `json:"record"`
	Safety SafetyParams `json:"safety"`
	Method []stepDoc    `json:"method"`
}

func stepToDoc(step Step) stepDoc {
	doc := stepDoc{Step: step.Kind(), ID: step.StepID()}
	switch s := step.(type) {
	case Tag:
		label := s.Label
		doc.Tag = &label
	case OpenCircuitVoltage:
		doc.UntilTimeS = number(s.UntilTimeS)
	case ConstantCurrent:
		doc.RateC = rate(s.RateC)
		doc.CurrentMA = number(s.CurrentMA)
		doc.UntilTimeS = number(s.UntilTimeS)
		doc.UntilVoltageV = number(s.UntilVoltageV)
	case ConstantVoltage:
		doc.VoltageV = number(s.VoltageV)
		doc.UntilTimeS = number(s.UntilTimeS)
		doc.UntilRateC = rate(s.UntilRateC)
		doc.UntilCurrentMA = number(s.UntilCurrentMA)
	case ImpedanceSpectroscopy:
		doc.AmplitudeV = number(s.AmplitudeV)
		doc.AmplitudeMA = number(s.AmplitudeMA)
		doc.StartFrequencyHz = number(s.StartFrequencyHz)
		doc.EndFrequencyHz = number(s.EndFrequencyHz)
		doc.PointsPerDecade = s.PointsPerDecade
		doc.MeasuresPerPoint = s.MeasuresPerPoint
		doc.DriftCorrection = s.DriftCorrection
	case Loop:
		to := s.To
		doc.LoopTo = &to
		doc.CycleCount = s.CycleCount
	}
	return doc
}

func stepFromDoc(i int, doc stepDoc) (Step, error) {
	switch doc.Step {
	case KindTag:
		var label string
		if doc.Tag != nil {
			label = *doc.Tag
		}
		return Tag{ID: doc.ID, Label: label}, nil
	case KindOpenCircuitVoltage:
		return OpenCircuitVoltage{ID: doc.ID, UntilTimeS: float64(doc.UntilTimeS)}, nil
	case KindConstantCurrent:
		return ConstantCurrent{
			ID:            doc.ID,
			RateC:         float64(doc.RateC),
			CurrentMA:     float64(doc.CurrentMA),
			UntilTimeS:    float64(doc.UntilTimeS),
			UntilVoltageV: float64(doc.UntilVoltageV),
		}, nil
	case KindConstantVoltage:
		return ConstantVoltage{
			ID:             doc.ID,
			VoltageV:       float64(doc.VoltageV),
			UntilTimeS:     float64(doc.UntilTimeS),
			UntilRateC:     float64(doc.UntilRateC),
			UntilCurrentMA: float64(doc.UntilCurrentMA),
		}, nil
	case KindImpedanceSpectroscopy:
		return ImpedanceSpectroscopy{
			ID:               doc.ID,
			AmplitudeV:       float64(doc.AmplitudeV),
			AmplitudeMA:      float64(doc.AmplitudeMA),
			StartFrequencyHz: float64(doc.StartFrequencyHz),
			EndFrequencyHz:   float64(doc.EndFrequencyHz),
			PointsPerDecade:  doc.PointsPerDecade,
			MeasuresPerPoint: doc.MeasuresPerPoint,
			DriftCorrection:  doc.DriftCorrection,
		}, nil
	case KindLoop:
		if doc.LoopTo == nil {
			return nil, structuralf(i, "loop: loop_to is required")
		}
		return Loop{ID: doc.ID, To: *doc.LoopTo, CycleCount: doc.CycleCount}, nil
	case "":
		return nil, structuralf(i, "step is incomplete, needs a step type")
	default:
		return nil, structuralf(i, "unknown step type %q", doc.Step)
	}
}

// ToCanonical serializes the protocol to its canonical JSON form.
func (p *Protocol) ToCanonical() ([]byte, error) {
	doc := document{
		Sample: p.sample,
		Record: p.record,
		Safety: p.safety,
		Method: make([]stepDoc, len(p.method)),
	}
	for i, step := range p.method {
		doc.Method[i] = stepToDoc(step)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protocol: %w", err)
	}
	return append(out, '\n'), nil
}

// FromCanonical parses the canonical JSON form and runs the same structural
// checks as [New].
func FromCanonical(data []byte) (*Protocol, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, structuralf(-1, "invalid protocol document: %v", err)
	}
	method := make([]Step, len(doc.Method))
	for i, sd := range doc.Method {
		step, err := stepFromDoc(i, sd)
		if err != nil {
			return nil, err
		}
		method[i] = step
	}
	return New(doc.Sample, doc.Record, doc.Safety, method)
}
