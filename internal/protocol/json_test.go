package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical_RoundTrip(t *testing.T) {
	p, err := New(
		SampleParams{Name: "cell-01", CapacityMAh: 45},
		RecordParams{TimeS: 10, VoltageV: 0.005},
		SafetyParams{MaxVoltageV: 4.5, MinVoltageV: 2.5, MaxCurrentMA: 100, MinCurrentMA: -100, DelayS: 1},
		[]Step{
			Tag{Label: "start"},
			OpenCircuitVoltage{UntilTimeS: 600},
			ConstantCurrent{RateC: 0.5, UntilVoltageV: 4.2, UntilTimeS: 10800},
			ConstantVoltage{VoltageV: 4.2, UntilRateC: 0.05, UntilTimeS: 3600},
			ConstantCurrent{RateC: -0.5, UntilVoltageV: 3.5, UntilTimeS: 10800},
			ImpedanceSpectroscopy{AmplitudeV: 0.01, StartFrequencyHz: 1e3, EndFrequencyHz: 0.1, PointsPerDecade: 10, MeasuresPerPoint: 2, DriftCorrection: true},
			Loop{To: LoopTarget{Label: "start"}, CycleCount: 100},
			Loop{To: LoopTarget{Position: 2}, CycleCount: 3},
		},
	)
	require.NoError(t, err)

	data, err := p.ToCanonical()
	require.NoError(t, err)

	q, err := FromCanonical(data)
	require.NoError(t, err)
	assert.Equal(t, p, q)

	// Re-serialization is byte-identical.
	data2, err := q.ToCanonical()
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestFromCanonical_StringCoercions(t *testing.T) {
	doc := []byte(`{
  "sample": {"name": "cell-01", "capacity_mAh": 45},
  "record": {"time_s": 10},
  "safety": {},
  "method": [
    {"step": "constant_current", "rate_C": "C/2", "until_voltage_V": "4.2", "until_time_s": 10800},
    {"step": "constant_voltage", "voltage_V": 4.2, "until_rate_C": "D/20", "until_time_s": ""}
  ]
}`)

	p, err := FromCanonical(doc)
	require.NoError(t, err)

	cc, ok := p.StepAt(0).(ConstantCurrent)
	require.True(t, ok)
	assert.InDelta(t, 0.5, cc.RateC, 1e-12)
	assert.InDelta(t, 4.2, cc.UntilVoltageV, 1e-12)

	cv, ok := p.StepAt(1).(ConstantVoltage)
	require.True(t, ok)
	assert.InDelta(t, -0.05, cv.UntilRateC, 1e-12)
	assert.Equal(t, float64(0), cv.UntilTimeS)
}

func TestFromCanonical_MissingStepType(t *testing.T) {
	doc := []byte(`{
  "sample": {"name": "x"},
  "record": {"time_s": 1},
  "safety": {},
  "method": [{"until_time_s": 60}]
}`)

	_, err := FromCanonical(doc)
	var serr *StructuralError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, serr.StepIndex)
	assert.Contains(t, serr.Msg, "needs a step type")
}

func TestFromCanonical_UnknownField(t *testing.T) {
	doc := []byte(`{
  "sample": {"name": "x"},
  "record": {"time_s": 1},
  "safety": {},
  "method": [{"step": "open_circuit_voltage", "until_time_s": 60}],
  "extra": true
}`)

	_, err := FromCanonical(doc)
	var serr *StructuralError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Msg, "invalid protocol document")
}

func TestFromCanonical_LoopTargetForms(t *testing.T) {
	doc := []byte(`{
  "sample": {"name": "x"},
  "record": {"time_s": 1},
  "safety": {},
  "method": [
    {"step": "tag", "tag": "a"},
    {"step": "open_circuit_voltage", "until_time_s": 60},
    {"step": "loop", "loop_to": "a", "cycle_count": 2},
    {"step": "loop", "loop_to": 2, "cycle_count": 2}
  ]
}`)

	p, err := FromCanonical(doc)
	require.NoError(t, err)

	byLabel := p.StepAt(2).(Loop)
	assert.True(t, byLabel.To.IsLabel())
	assert.Equal(t, "a", byLabel.To.Label)

	byPos := p.StepAt(3).(Loop)
	assert.False(t, byPos.To.IsLabel())
	assert.Equal(t, 2, byPos.To.Position)
}
