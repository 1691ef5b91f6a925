package export

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
)

// The Biologic target renders an EC-Lab settings file (.mps) using the
// Modulo Bat technique: a fixed header followed by a table with one 20-wide
// column per step.
//
// Device constraints enforced here:
//   - one absolute current limit, max(|min|, |max|), applied in both
//     directions (the instrument cannot express asymmetric bounds)
//   - voltages must lie inside the potential control range (default [0, 5] V)
//   - the current range (hardware gain) can only change on a step directly
//     following a Rest (OCV) step; anywhere else is a hard error
//   - the file must be Windows-1252 encoded: in UTF-8 the µ of "µA" reads
//     back as a different prefix and silently rescales currents on replay
const (
	biologicDefaultMinV = 0.0
	biologicDefaultMaxV = 5.0
)

// biologicIRanges is the instrument's current-range ladder: the chosen range
// is the smallest whose full scale covers the step current.
var biologicIRanges = []struct {
	maxMA float64
	label string
}{
	{0.01, "10 µA"},
	{0.1, "100 µA"},
	{1, "1 mA"},
	{10, "10 mA"},
	{100, "100 mA"},
}

func biologicIRange(currentMA float64) (string, bool) {
	abs := currentMA
	if abs < 0 {
		abs = -abs
	}
	for _, r := range biologicIRanges {
		if abs <= r.maxMA {
			return r.label, true
		}
	}
	return "", false
}

// mpsColumns is the row order of the settings table. The instrument parses
// by row label but EC-Lab writes them in exactly this order.
var mpsColumns = []string{
	"Ns", "ctrl_type", "Apply I/C", "current/potential",
	"ctrl1_val", "ctrl1_val_unit", "ctrl1_val_vs",
	"ctrl2_val", "ctrl2_val_unit", "ctrl2_val_vs",
	"ctrl3_val", "ctrl3_val_unit", "ctrl3_val_vs",
	"N", "charge/discharge", "charge/discharge_1", "Apply I/C_1", "N1",
	"ctrl4_val", "ctrl4_val_unit",
	"ctrl5_val", "ctrl5_val_unit",
	"ctrl_tM", "ctrl_seq", "ctrl_repeat", "ctrl_trigger",
	"ctrl_TO_t", "ctrl_TO_t_unit", "ctrl_Nd", "ctrl_Na", "ctrl_corr",
	"lim_nb",
	"lim1_type", "lim1_comp", "lim1_Q", "lim1_value", "lim1_value_unit", "lim1_action", "lim1_seq",
	"lim2_type", "lim2_comp", "lim2_Q", "lim2_value", "lim2_value_unit", "lim2_action", "lim2_seq",
	"rec_nb",
	"rec1_type", "rec1_value", "rec1_value_unit",
	"rec2_type", "rec2_value", "rec2_value_unit",
	"E range min (V)", "E range max (V)",
	"I Range", "I Range min", "I Range max", "I Range init",
	"auto rest", "Bandwidth",
}

func defaultMpsStep(i int, minV, maxV float64) map[string]string {
	return map[string]string{
		"Ns":                 strconv.Itoa(i),
		"ctrl_type":          "",
		"Apply I/C":          "I",
		"current/potential":  "current",
		"ctrl1_val":          "",
		"ctrl1_val_unit":     "",
		"ctrl1_val_vs":       "",
		"ctrl2_val":          "",
		"ctrl2_val_unit":     "",
		"ctrl2_val_vs":       "",
		"ctrl3_val":          "",
		"ctrl3_val_unit":     "",
		"ctrl3_val_vs":       "",
		"N":                  "0.00",
		"charge/discharge":   "Charge",
		"charge/discharge_1": "Charge",
		"Apply I/C_1":        "I",
		"N1":                 "0.00",
		"ctrl4_val":          "",
		"ctrl4_val_unit":     "",
		"ctrl5_val":          "",
		"ctrl5_val_unit":     "",
		"ctrl_tM":            "0",
		"ctrl_seq":           "0",
		"ctrl_repeat":        "0",
		"ctrl_trigger":       "Falling Edge",
		"ctrl_TO_t":          "0.000",
		"ctrl_TO_t_unit":     "d",
		"ctrl_Nd":            "6",
		"ctrl_Na":            "2",
		"ctrl_corr":          "0",
		"lim_nb":             "0",
		"lim1_type":          "Time",
		"lim1_comp":          ">",
		"lim1_Q":             "",
		"lim1_value":         "0.000",
		"lim1_value_unit":    "s",
		"lim1_action":        "Next sequence",
		"lim1_seq":           strconv.Itoa(i + 1),
		"lim2_type":          "",
		"lim2_comp":          "",
		"lim2_Q":             "",
		"lim2_value":         "",
		"lim2_value_unit":    "",
		"lim2_action":        "Next sequence",
		"lim2_seq":           strconv.Itoa(i + 1),
		"rec_nb":             "0",
		"rec1_type":          "",
		"rec1_value":         "",
		"rec1_value_unit":    "",
		"rec2_type":          "",
		"rec2_value":         "",
		"rec2_value_unit":    "",
		"E range min (V)":    fmt.Sprintf("%.3f", minV),
		"E range max (V)":    fmt.Sprintf("%.3f", maxV),
		"I Range":            "Auto",
		"I Range min":        "Unset",
		"I Range max":        "Unset",
		"I Range init":       "Unset",
		"auto rest":          "1",
		"Bandwidth":          "5",
	}
}

func renderBiologic(p *protocol.Protocol, steps []sequence.ResolvedStep, ctx Context) ([]byte, error) {
	minV, maxV := ctx.MinVoltageV, ctx.MaxVoltageV
	if minV == 0 && maxV == 0 {
		minV, maxV = biologicDefaultMinV, biologicDefaultMaxV
	}
	if maxV <= minV {
		return nil, encodingf(FormatBiologic, -1, "potential control range [%g, %g] V is empty", minV, maxV)
	}

	record := p.Record()
	cols := make([]map[string]string, 0, len(steps))
	rangeCheck := newRangeTracker()

	for _, rs := range steps {
		col := defaultMpsStep(rs.Index, minV, maxV)
		switch s := rs.Step.(type) {
		case protocol.OpenCircuitVoltage:
			col["ctrl_type"] = "Rest"
			col["lim_nb"] = "1"
			col["lim1_value"] = fmt.Sprintf("%.3f", s.UntilTimeS)
			col["rec_nb"] = "1"
			col["rec1_type"] = "Time"
			col["rec1_value"] = fmt.Sprintf("%.3f", record.TimeS)
			col["rec1_value_unit"] = "s"

		case protocol.ConstantCurrent:
			if err := biologicCC(col, s, record, minV, maxV, rs); err != nil {
				return nil, err
			}
			if err := rangeCheck.require(rs, col["I Range"]); err != nil {
				return nil, err
			}

		case protocol.ConstantVoltage:
			if err := biologicCV(col, s, record, minV, maxV, rs, prevStep(steps, rs.Index)); err != nil {
				return nil, err
			}
			if col["I Range"] != "Auto" {
				if err := rangeCheck.require(rs, col["I Range"]); err != nil {
					return nil, err
				}
			}

		case protocol.ImpedanceSpectroscopy:
			if err := biologicEIS(col, s, rs); err != nil {
				return nil, err
			}
			if col["ctrl_type"] == "GEIS" {
				if err := rangeCheck.require(rs, col["I Range"]); err != nil {
					return nil, err
				}
			}

		case protocol.Loop:
			col["ctrl_type"] = "Loop"
			col["ctrl_seq"] = strconv.Itoa(rs.Target)
			col["ctrl_repeat"] = strconv.Itoa(s.CycleCount - 1) // repeats, not total cycles

		default:
			return nil, &UnsupportedFeatureError{Format: FormatBiologic, StepIndex: rs.Origin, Kind: rs.Step.Kind()}
		}
		rangeCheck.observe(rs)
		cols = append(cols, col)
	}

	var b strings.Builder
	for _, line := range biologicHeader(p, minV, maxV) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, key := range mpsColumns {
		b.WriteString(pad20(key))
		for _, col := range cols {
			b.WriteString(pad20(col[key]))
		}
		b.WriteString("\n")
	}

	encoded, err := charmap.Windows1252.NewEncoder().String(b.String())
	if err != nil {
		return nil, encodingf(FormatBiologic, -1, "artifact is not representable in Windows-1252: %v", err)
	}
	return []byte(encoded), nil
}

func biologicHeader(p *protocol.Protocol, minV, maxV float64) []string {
	safety := p.Safety()
	lines := []string{
		"EC-LAB SETTING FILE",
		"",
		"Number of linked techniques : 1",
		"Device : MPG-2",
		"CE vs. WE compliance from -10 V to 10 V",
		"Electrode connection : standard",
		"Potential control : Ewe",
		fmt.Sprintf("Ewe ctrl range : min = %.2f V, max = %.2f V", minV, maxV),
		"Safety Limits :",
	}
	if safety.HasCurrentBounds() {
		// One absolute limit in both directions; the instrument has no
		// separate charge and discharge bounds.
		limit := safety.AbsCurrentLimitMA()
		lines = append(lines,
			fmt.Sprintf("\tImax = %.3f mA", limit),
			fmt.Sprintf("\tImin = %.3f mA", -limit),
		)
	}
	lines = append(lines,
		"\tDo not start on E overload",
		fmt.Sprintf("Comments : %s", p.Sample().Name),
		"Cycle Definition : Charge/Discharge alternance",
		"Do not turn to OCV between techniques",
		"",
		"Technique : 1",
		"Modulo Bat",
	)
	return lines
}

func biologicCC(col map[string]string, s protocol.ConstantCurrent, record protocol.RecordParams, minV, maxV float64, rs sequence.ResolvedStep) error {
	currentMA := s.CurrentMA
	col["ctrl_type"] = "CC"
	col["ctrl1_val_vs"] = "<None>"
	if abs(currentMA) < 1 {
		col["ctrl1_val"] = fmt.Sprintf("%.3f", currentMA*1e3)
		col["ctrl1_val_unit"] = "uA"
	} else {
		col["ctrl1_val"] = fmt.Sprintf("%.3f", currentMA)
		col["ctrl1_val_unit"] = "mA"
	}

	irange, ok := biologicIRange(currentMA)
	if !ok {
		return encodingf(FormatBiologic, rs.Origin, "I range not supported for %g mA", currentMA)
	}
	col["I Range"] = irange

	lim := 0
	if s.UntilTimeS != 0 {
		lim++
		setLim(col, lim, "Time", ">", s.UntilTimeS, "s")
	}
	if s.UntilVoltageV != 0 {
		if s.UntilVoltageV < minV || s.UntilVoltageV > maxV {
			return encodingf(FormatBiologic, rs.Origin, "voltage outside of range: %g V not in [%g, %g] V", s.UntilVoltageV, minV, maxV)
		}
		comp := ">"
		if currentMA < 0 {
			comp = "<"
		}
		lim++
		setLim(col, lim, "Ewe", comp, s.UntilVoltageV, "V")
	}
	col["lim_nb"] = strconv.Itoa(lim)

	rec := 0
	if record.TimeS != 0 {
		rec++
		setRec(col, rec, "Time", record.TimeS, "s")
	}
	if record.VoltageV != 0 {
		rec++
		setRec(col, rec, "Ewe", record.VoltageV, "V")
	}
	col["rec_nb"] = strconv.Itoa(rec)
	return nil
}

func biologicCV(col map[string]string, s protocol.ConstantVoltage, record protocol.RecordParams, minV, maxV float64, rs sequence.ResolvedStep, prev protocol.Step) error {
	if s.VoltageV < minV || s.VoltageV > maxV {
		return encodingf(FormatBiologic, rs.Origin, "voltage outside of range: %g V not in [%g, %g] V", s.VoltageV, minV, maxV)
	}
	col["ctrl_type"] = "CV"
	col["ctrl1_val"] = fmt.Sprintf("%.3f", s.VoltageV)
	col["ctrl1_val_unit"] = "V"
	col["ctrl1_val_vs"] = "Ref"

	lim := 0
	if s.UntilTimeS != 0 {
		lim++
		setLim(col, lim, "Time", ">", s.UntilTimeS, "s")
	}
	if s.UntilCurrentMA != 0 {
		lim++
		setLim(col, lim, "|I|", "<", abs(s.UntilCurrentMA), "mA")
	}
	col["lim_nb"] = strconv.Itoa(lim)

	// A CV directly continuing a CC at the same cutoff keeps the CC's fixed
	// current range instead of Auto, so the hold starts in a sane gain.
	if cc, ok := prev.(protocol.ConstantCurrent); ok && cc.UntilVoltageV == s.VoltageV && cc.CurrentMA != 0 {
		if irange, ok := biologicIRange(cc.CurrentMA); ok {
			col["I Range"] = irange
		}
	}

	rec := 0
	if record.TimeS != 0 {
		rec++
		setRec(col, rec, "Time", record.TimeS, "s")
	}
	if record.CurrentMA != 0 {
		rec++
		setRec(col, rec, "I", record.CurrentMA, "mA")
	}
	col["rec_nb"] = strconv.Itoa(rec)
	return nil
}

func biologicEIS(col map[string]string, s protocol.ImpedanceSpectroscopy, rs sequence.ResolvedStep) error {
	switch {
	case s.AmplitudeV != 0:
		col["ctrl_type"] = "PEIS"
		switch {
		case s.AmplitudeV >= 0.1:
			col["ctrl1_val"] = fmt.Sprintf("%.3f", s.AmplitudeV)
			col["ctrl1_val_unit"] = "V"
		case s.AmplitudeV >= 0.001:
			col["ctrl1_val"] = fmt.Sprintf("%.3f", s.AmplitudeV*1e3)
			col["ctrl1_val_unit"] = "mV"
		default:
			col["ctrl1_val"] = fmt.Sprintf("%.3f", s.AmplitudeV*1e6)
			col["ctrl1_val_unit"] = "uV"
		}
	default:
		col["ctrl_type"] = "GEIS"
		switch {
		case s.AmplitudeMA >= 1000:
			col["ctrl1_val"] = fmt.Sprintf("%.3f", s.AmplitudeMA/1000)
			col["ctrl1_val_unit"] = "A"
		case s.AmplitudeMA >= 1:
			col["ctrl1_val"] = fmt.Sprintf("%.3f", s.AmplitudeMA)
			col["ctrl1_val_unit"] = "mA"
		default:
			col["ctrl1_val"] = fmt.Sprintf("%.3f", s.AmplitudeMA*1000)
			col["ctrl1_val_unit"] = "uA"
		}
		// The galvanostatic range needs headroom for both half-cycles:
		// a 1 mA range supports at most 0.5 mA amplitude.
		irange, ok := biologicIRange(abs(s.AmplitudeMA) * 2)
		if !ok {
			return encodingf(FormatBiologic, rs.Origin, "I range not supported for %g mA", s.AmplitudeMA)
		}
		col["I Range"] = irange
	}

	freqs := []struct {
		val  float64
		ctrl int
	}{{s.StartFrequencyHz, 2}, {s.EndFrequencyHz, 3}}
	for _, f := range freqs {
		valKey := fmt.Sprintf("ctrl%d_val", f.ctrl)
		unitKey := fmt.Sprintf("ctrl%d_val_unit", f.ctrl)
		switch {
		case f.val >= 1e3:
			col[valKey] = fmt.Sprintf("%.3f", f.val/1e3)
			col[unitKey] = "kHz"
		case f.val >= 1:
			col[valKey] = fmt.Sprintf("%.3f", f.val)
			col[unitKey] = "Hz"
		case f.val >= 1e-3:
			col[valKey] = fmt.Sprintf("%.3f", f.val*1e3)
			col[unitKey] = "mHz"
		default:
			col[valKey] = fmt.Sprintf("%.6f", f.val*1e3)
			col[unitKey] = "mHz"
		}
	}
	col["ctrl_Nd"] = strconv.Itoa(s.PointsPerDecade)
	col["ctrl_Na"] = strconv.Itoa(s.MeasuresPerPoint)
	if s.DriftCorrection {
		col["ctrl_corr"] = "1"
	}
	return nil
}

// rangeTracker enforces the firmware rule that the fixed current range can
// only change on the step directly after a Rest step.
type rangeTracker struct {
	current  string
	prevRest bool
	first    bool
}

func newRangeTracker() *rangeTracker {
	return &rangeTracker{first: true, prevRest: true}
}

// require records that rs needs the fixed range label and fails when that
// demands a change at a disallowed transition.
func (t *rangeTracker) require(rs sequence.ResolvedStep, label string) error {
	if t.first || label == t.current {
		t.current = label
		t.first = false
		return nil
	}
	if !t.prevRest {
		return encodingf(FormatBiologic, rs.Origin,
			"current range change from %q to %q is only allowed directly after an open-circuit-voltage step",
			t.current, label)
	}
	t.current = label
	return nil
}

// observe must be called for every rendered step so the tracker knows
// whether the previous step was a Rest.
func (t *rangeTracker) observe(rs sequence.ResolvedStep) {
	_, isRest := rs.Step.(protocol.OpenCircuitVoltage)
	t.prevRest = isRest
}

func prevStep(steps []sequence.ResolvedStep, index int) protocol.Step {
	if index <= 0 || index > len(steps) {
		return nil
	}
	return steps[index-1].Step
}

func setLim(col map[string]string, n int, typ, comp string, value float64, unit string) {
	col[fmt.Sprintf("lim%d_type", n)] = typ
	col[fmt.Sprintf("lim%d_comp", n)] = comp
	col[fmt.Sprintf("lim%d_value", n)] = fmt.Sprintf("%.3f", value)
	col[fmt.Sprintf("lim%d_value_unit", n)] = unit
}

func setRec(col map[string]string, n int, typ string, value float64, unit string) {
	col[fmt.Sprintf("rec%d_type", n)] = typ
	col[fmt.Sprintf("rec%d_value", n)] = fmt.Sprintf("%.3f", value)
	col[fmt.Sprintf("rec%d_value_unit", n)] = unit
}

// pad20 pads a cell to 20 characters. Width is counted in runes, not bytes:
// "10 µA" is a 2-byte µ in UTF-8 but a single byte after the Windows-1252
// encoding pass, and the instrument wants exactly 20 bytes per column.
func pad20(s string) string {
	n := utf8.RuneCountInString(s)
	if n >= 20 {
		return s
	}
	return s + strings.Repeat(" ", 20-n)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
