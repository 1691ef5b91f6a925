package export

import (
	"encoding/json"
	"strconv"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
)

// Tomato 0.2.3 + MPG-2 payload. Safety parameters are configured on the
// instrument, not in the payload, so they are intentionally absent here.
const tomatoDefaultOutput = "C:/tomato_data/"

type tomatoPayload struct {
	Version string         `json:"version"`
	Sample  tomatoSample   `json:"sample"`
	Method  []tomatoStep   `json:"method"`
	Tomato  tomatoSettings `json:"tomato"`
}

type tomatoSample struct {
	Name        string   `json:"name"`
	CapacityMAh *float64 `json:"capacity_mAh"`
}

type tomatoSettings struct {
	UnlockWhenDone bool         `json:"unlock_when_done"`
	Verbosity      string       `json:"verbosity"`
	Output         tomatoOutput `json:"output"`
}

type tomatoOutput struct {
	Path   string `json:"path"`
	Prefix string `json:"prefix"`
}

type tomatoStep struct {
	Device    string `json:"device"`
	Technique string `json:"technique"`

	MeasureEveryDt float64 `json:"measure_every_dt,omitempty"`
	MeasureEveryDI float64 `json:"measure_every_dI,omitempty"`
	MeasureEveryDE float64 `json:"measure_every_dE,omitempty"`
	IRange         string  `json:"I_range,omitempty"`
	ERange         string  `json:"E_range,omitempty"`

	// Current is a C-rate string like "0.5C" / "0.5D", or amps as a number.
	Current  any     `json:"current,omitempty"`
	VoltageV float64 `json:"voltage,omitempty"`
	TimeS    float64 `json:"time,omitempty"`

	LimitVoltageMax float64 `json:"limit_voltage_max,omitempty"`
	LimitVoltageMin float64 `json:"limit_voltage_min,omitempty"`
	LimitCurrentMin any     `json:"limit_current_min,omitempty"`
	LimitCurrentMax any     `json:"limit_current_max,omitempty"`

	Goto   *int `json:"goto,omitempty"`
	NGotos *int `json:"n_gotos,omitempty"`
}

func renderTomato(p *protocol.Protocol, steps []sequence.ResolvedStep, ctx Context) ([]byte, error) {
	sample := p.Sample()
	output := ctx.TomatoOutput
	if output == "" {
		output = tomatoDefaultOutput
	}

	payload := tomatoPayload{
		Version: "0.1",
		Sample:  tomatoSample{Name: sample.Name},
		Method:  make([]tomatoStep, 0, len(steps)),
		Tomato: tomatoSettings{
			UnlockWhenDone: true,
			Verbosity:      "DEBUG",
			Output:         tomatoOutput{Path: output, Prefix: sample.Name},
		},
	}
	if sample.CapacityMAh != 0 {
		cap := sample.CapacityMAh
		payload.Sample.CapacityMAh = &cap
	}

	record := p.Record()
	for _, rs := range steps {
		ts := tomatoStep{Device: "MPG2", Technique: string(rs.Step.Kind())}
		switch rs.Step.(type) {
		case protocol.OpenCircuitVoltage, protocol.ConstantCurrent, protocol.ConstantVoltage:
			ts.MeasureEveryDt = record.TimeS
			ts.MeasureEveryDI = record.CurrentMA
			ts.MeasureEveryDE = record.VoltageV
			ts.IRange = "10 mA"
			ts.ERange = "+-5.0 V"
		}

		switch s := rs.Step.(type) {
		case protocol.OpenCircuitVoltage:
			ts.TimeS = s.UntilTimeS

		case protocol.ConstantCurrent:
			if s.RateC != 0 {
				ts.Current = tomatoRate(s.RateC)
			} else {
				ts.Current = s.CurrentMA / 1000 // amps
			}
			ts.TimeS = s.UntilTimeS
			if s.UntilVoltageV != 0 {
				if s.Charging() {
					ts.LimitVoltageMax = s.UntilVoltageV
				} else {
					ts.LimitVoltageMin = s.UntilVoltageV
				}
			}

		case protocol.ConstantVoltage:
			ts.VoltageV = s.VoltageV
			ts.TimeS = s.UntilTimeS
			switch {
			case s.UntilRateC > 0:
				ts.LimitCurrentMin = tomatoRate(s.UntilRateC)
			case s.UntilRateC < 0:
				ts.LimitCurrentMax = tomatoRate(s.UntilRateC)
			case s.UntilCurrentMA > 0:
				ts.LimitCurrentMin = s.UntilCurrentMA / 1000
			case s.UntilCurrentMA < 0:
				ts.LimitCurrentMax = s.UntilCurrentMA / 1000
			}

		case protocol.Loop:
			target := rs.Target
			repeats := s.CycleCount - 1 // gotos, one fewer than cycles
			ts.Goto = &target
			ts.NGotos = &repeats

		default:
			return nil, &UnsupportedFeatureError{Format: FormatTomato, StepIndex: rs.Origin, Kind: rs.Step.Kind()}
		}
		payload.Method = append(payload.Method, ts)
	}

	out, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return nil, encodingf(FormatTomato, -1, "serialize: %v", err)
	}
	return append(out, '\n'), nil
}

// tomatoRate renders a signed C-rate as the driver's "0.5C" / "0.5D" form.
func tomatoRate(rateC float64) string {
	suffix := "C"
	if rateC < 0 {
		suffix = "D"
		rateC = -rateC
	}
	return strconv.FormatFloat(rateC, 'f', -1, 64) + suffix
}
