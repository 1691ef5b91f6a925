package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
)

func mustProtocol(t *testing.T, sample protocol.SampleParams, safety protocol.SafetyParams, method []protocol.Step) *protocol.Protocol {
	t.Helper()
	p, err := protocol.New(sample, protocol.RecordParams{TimeS: 10}, safety, method)
	require.NoError(t, err)
	return p
}

// goldenProtocol is one CC/CV/CC cycle looped 100 times, authored with
// C-rates and a placeholder sample name.
func goldenProtocol(t *testing.T) *protocol.Protocol {
	t.Helper()
	return mustProtocol(t,
		protocol.SampleParams{Name: protocol.PlaceholderName},
		protocol.SafetyParams{},
		[]protocol.Step{
			protocol.Tag{Label: "cycle"},
			protocol.ConstantCurrent{RateC: 0.5, UntilVoltageV: 4.2, UntilTimeS: 10800},
			protocol.ConstantVoltage{VoltageV: 4.2, UntilRateC: 0.05, UntilTimeS: 3600},
			protocol.ConstantCurrent{RateC: -0.5, UntilVoltageV: 3.5, UntilTimeS: 10800},
			protocol.Loop{To: protocol.LoopTarget{Label: "cycle"}, CycleCount: 100},
		})
}

func goldenContext() Context {
	return Context{
		SampleName:  "golden_cell",
		CapacityMAh: 45,
		GeneratedAt: time.Date(2024, 6, 24, 12, 0, 0, 0, time.UTC),
	}
}

func readGolden(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestExport_BiologicGolden(t *testing.T) {
	artifact, err := New().Export(goldenProtocol(t), FormatBiologic, goldenContext())
	require.NoError(t, err)
	assert.Equal(t, string(readGolden(t, "golden.mps")), string(artifact.Bytes))
}

func TestExport_TomatoGolden(t *testing.T) {
	artifact, err := New().Export(goldenProtocol(t), FormatTomato, goldenContext())
	require.NoError(t, err)
	assert.Equal(t, string(readGolden(t, "golden_tomato.json")), string(artifact.Bytes))
}

func TestExport_BiologicEncodesWindows1252(t *testing.T) {
	// A 0.005 mA step selects the "10 µA" range; in Windows-1252 the µ is
	// the single byte 0xB5, never the UTF-8 pair 0xC2 0xB5.
	p := mustProtocol(t,
		protocol.SampleParams{Name: "cp1252"},
		protocol.SafetyParams{},
		[]protocol.Step{
			protocol.ConstantCurrent{CurrentMA: 0.005, UntilTimeS: 60},
		})
	artifact, err := New().Export(p, FormatBiologic, Context{})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(artifact.Bytes, []byte{0xB5, 'A'}))
	assert.False(t, bytes.Contains(artifact.Bytes, []byte{0xC2, 0xB5}))
}

func TestExport_BiologicColumnWidths(t *testing.T) {
	// "10 µA" is 6 runes but 7 UTF-8 bytes; after the Windows-1252 pass
	// every cell, µ-range rows included, must come out 20 bytes wide.
	p := mustProtocol(t,
		protocol.SampleParams{Name: "widths"},
		protocol.SafetyParams{},
		[]protocol.Step{
			protocol.ConstantCurrent{CurrentMA: 0.005, UntilTimeS: 60},
		})
	artifact, err := New().Export(p, FormatBiologic, Context{})
	require.NoError(t, err)

	lines := strings.Split(string(artifact.Bytes), "\n")
	require.Greater(t, len(lines), len(mpsColumns))
	table := lines[len(lines)-1-len(mpsColumns) : len(lines)-1]

	sawRange := false
	for _, line := range table {
		assert.Len(t, line, 40, "row %q", line[:7])
		if strings.HasPrefix(line, "I Range             10 \xb5A") {
			sawRange = true
		}
	}
	assert.True(t, sawRange)
}

func TestExport_BiologicRangeChange(t *testing.T) {
	base := protocol.SampleParams{Name: "ranges"}

	t.Run("change without rest is rejected", func(t *testing.T) {
		p := mustProtocol(t, base, protocol.SafetyParams{}, []protocol.Step{
			protocol.ConstantCurrent{CurrentMA: 0.005, UntilTimeS: 60},
			protocol.ConstantCurrent{CurrentMA: 5, UntilTimeS: 60},
		})
		_, err := New().Export(p, FormatBiologic, Context{})
		var encErr *EncodingError
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, 1, encErr.StepIndex)
	})

	t.Run("change after rest is allowed", func(t *testing.T) {
		p := mustProtocol(t, base, protocol.SafetyParams{}, []protocol.Step{
			protocol.ConstantCurrent{CurrentMA: 0.005, UntilTimeS: 60},
			protocol.OpenCircuitVoltage{UntilTimeS: 60},
			protocol.ConstantCurrent{CurrentMA: 5, UntilTimeS: 60},
		})
		_, err := New().Export(p, FormatBiologic, Context{})
		require.NoError(t, err)
	})
}

func TestExport_BiologicVoltageOutsideRange(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "overvolt"}, protocol.SafetyParams{}, []protocol.Step{
		protocol.ConstantCurrent{CurrentMA: 5, UntilVoltageV: 6},
	})
	_, err := New().Export(p, FormatBiologic, Context{})
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Contains(t, encErr.Msg, "voltage outside of range")
}

func TestExport_BiologicCurrentTooLarge(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "big"}, protocol.SafetyParams{}, []protocol.Step{
		protocol.ConstantCurrent{CurrentMA: 500, UntilTimeS: 60},
	})
	_, err := New().Export(p, FormatBiologic, Context{})
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Contains(t, encErr.Msg, "I range not supported")
}

func TestExport_NewareStructure(t *testing.T) {
	artifact, err := New().Export(goldenProtocol(t), FormatNeware, goldenContext())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(artifact.Bytes))

	config := doc.FindElement("//config")
	require.NotNil(t, config)
	assert.Equal(t, "Step File", config.SelectAttrValue("type", ""))
	assert.Equal(t, "17", config.SelectAttrValue("version", ""))
	assert.Equal(t, "20240624120000", config.SelectAttrValue("date", ""))
	assert.NotEmpty(t, config.SelectAttrValue("Guid", ""))

	// 45 mAh converts to 162000 mAs.
	mult := doc.FindElement("//Head_Info/MultCap")
	require.NotNil(t, mult)
	assert.Equal(t, "162000.000000", mult.SelectAttrValue("Value", ""))

	stepInfo := doc.FindElement("//Step_Info")
	require.NotNil(t, stepInfo)
	assert.Equal(t, "5", stepInfo.SelectAttrValue("Num", "")) // 4 steps + end

	var types []string
	for _, el := range stepInfo.ChildElements() {
		types = append(types, el.SelectAttrValue("Step_Type", ""))
	}
	assert.Equal(t, []string{"1", "3", "2", "5", "6"}, types)

	// The loop points at the 1-based step number of the cycle start and
	// carries the full cycle count.
	assert.Equal(t, "1", doc.FindElement("//Step4/Limit/Other/Start_Step").SelectAttrValue("Value", ""))
	assert.Equal(t, "100", doc.FindElement("//Step4/Limit/Other/Cycle_Count").SelectAttrValue("Value", ""))

	// Authored rates are kept alongside the converted currents.
	assert.Equal(t, "0.500000", doc.FindElement("//Step1/Limit/Main/Rate").SelectAttrValue("Value", ""))
	assert.Equal(t, "22.500000", doc.FindElement("//Step1/Limit/Main/Curr").SelectAttrValue("Value", ""))
}

func TestExport_NewareDeterministic(t *testing.T) {
	first, err := New().Export(goldenProtocol(t), FormatNeware, goldenContext())
	require.NoError(t, err)
	second, err := New().Export(goldenProtocol(t), FormatNeware, goldenContext())
	require.NoError(t, err)
	assert.Equal(t, first.Bytes, second.Bytes)
}

func TestExport_PyBaMMUnroll(t *testing.T) {
	artifact, err := New().Export(goldenProtocol(t), FormatPyBaMM, goldenContext())
	require.NoError(t, err)
	require.Len(t, artifact.Lines, 300) // 3-step body, 100 cycles

	assert.Equal(t, "Charge at 0.5C for 3 hours until 4.2 V", artifact.Lines[0])
	assert.Equal(t, "Hold at 4.2 V for 1 hours until 0.05C", artifact.Lines[1])
	assert.Equal(t, "Discharge at 0.5C for 3 hours until 3.5 V", artifact.Lines[2])
	assert.Equal(t, artifact.Lines[0], artifact.Lines[297])
	assert.Equal(t, artifact.Lines[2], artifact.Lines[299])
}

func TestExport_PyBaMMNestedLoopsMultiply(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "nested"}, protocol.SafetyParams{}, []protocol.Step{
		protocol.Tag{Label: "outer"},
		protocol.Tag{Label: "inner"},
		protocol.OpenCircuitVoltage{UntilTimeS: 1},
		protocol.Loop{To: protocol.LoopTarget{Label: "inner"}, CycleCount: 12},
		protocol.Loop{To: protocol.LoopTarget{Label: "outer"}, CycleCount: 34},
	})
	artifact, err := New().Export(p, FormatPyBaMM, Context{})
	require.NoError(t, err)
	assert.Len(t, artifact.Lines, 12*34)
	assert.Equal(t, "Rest for 1 seconds", artifact.Lines[0])
}

func TestExport_PyBaMMUnrollGuard(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "runaway"}, protocol.SafetyParams{}, []protocol.Step{
		protocol.Tag{Label: "a"},
		protocol.OpenCircuitVoltage{UntilTimeS: 1},
		protocol.Loop{To: protocol.LoopTarget{Label: "a"}, CycleCount: 20000},
	})
	_, err := New().Export(p, FormatPyBaMM, Context{})
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Contains(t, encErr.Msg, "loop definition error")
}

func TestExport_BattINFOGrouping(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "ld"}, protocol.SafetyParams{}, []protocol.Step{
		protocol.OpenCircuitVoltage{UntilTimeS: 60},
		protocol.Tag{Label: "cycle"},
		protocol.ConstantCurrent{RateC: 1, UntilVoltageV: 4.2},
		protocol.Loop{To: protocol.LoopTarget{Label: "cycle"}, CycleCount: 5},
	})
	artifact, err := New().Export(p, FormatBattINFO, Context{CapacityMAh: 10, IncludeLDContext: true})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(artifact.Bytes, &doc))
	assert.Equal(t, "Resting", doc["@type"])
	assert.Contains(t, doc, "@context")

	next, ok := doc["hasNext"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "IterativeWorkflow", next["@type"])

	iterations := next["hasInput"].([]any)[0].(map[string]any)
	assert.Equal(t, "NumberOfIterations", iterations["@type"])
	assert.Equal(t, float64(5), iterations["hasNumericalPart"].(map[string]any)["hasNumberValue"])

	task, ok := next["hasTask"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Charging", task["@type"])
	inputs := task["hasInput"].([]any)
	require.Len(t, inputs, 3) // current, rate, voltage cutoff
	assert.Equal(t, "ElectricCurrent", inputs[0].(map[string]any)["@type"])
	assert.Equal(t, float64(10), inputs[0].(map[string]any)["hasNumericalPart"].(map[string]any)["hasNumberValue"])
	assert.Equal(t, "CRate", inputs[1].(map[string]any)["@type"])
}

func TestExport_MissingCapacity(t *testing.T) {
	for _, format := range Formats() {
		t.Run(string(format), func(t *testing.T) {
			_, err := New().Export(goldenProtocol(t), format, Context{SampleName: "x"})
			var missing *sequence.MissingCapacityError
			require.ErrorAs(t, err, &missing)
		})
	}
}

func TestExport_PlaceholderNameRejected(t *testing.T) {
	p := goldenProtocol(t)
	for _, format := range []Format{FormatBiologic, FormatNeware, FormatTomato} {
		t.Run(string(format), func(t *testing.T) {
			_, err := New().Export(p, format, Context{CapacityMAh: 45})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "sample name")
		})
	}
	// PyBaMM artifacts carry no sample identity.
	_, err := New().Export(p, FormatPyBaMM, Context{CapacityMAh: 45})
	require.NoError(t, err)
}

func TestExport_ImpedanceUnsupportedOutsideBiologic(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "eis"}, protocol.SafetyParams{}, []protocol.Step{
		protocol.ImpedanceSpectroscopy{
			AmplitudeV:       0.01,
			StartFrequencyHz: 10000,
			EndFrequencyHz:   0.1,
			PointsPerDecade:  6,
			MeasuresPerPoint: 2,
		},
	})
	for _, format := range []Format{FormatNeware, FormatTomato, FormatPyBaMM, FormatBattINFO} {
		t.Run(string(format), func(t *testing.T) {
			_, err := New().Export(p, format, Context{})
			var unsupported *UnsupportedFeatureError
			require.ErrorAs(t, err, &unsupported)
			assert.Equal(t, protocol.KindImpedanceSpectroscopy, unsupported.Kind)
		})
	}

	t.Run("biologic renders PEIS", func(t *testing.T) {
		artifact, err := New().Export(p, FormatBiologic, Context{})
		require.NoError(t, err)
		assert.Contains(t, string(artifact.Bytes), "PEIS")
	})
}

func TestExport_AsymmetricBoundsAdvisory(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "asym"},
		protocol.SafetyParams{MinCurrentMA: -5, MaxCurrentMA: 10},
		[]protocol.Step{
			protocol.ConstantCurrent{CurrentMA: 2, UntilTimeS: 60},
		})
	artifact, err := New().Export(p, FormatBiologic, Context{})
	require.NoError(t, err)
	require.Len(t, artifact.Advisories, 1)
	assert.Contains(t, artifact.Advisories[0], "±10")

	// The header enforces the widened symmetric envelope.
	text := string(artifact.Bytes)
	assert.Contains(t, text, "Imax = 10.000 mA")
	assert.Contains(t, text, "Imin = -10.000 mA")
}

func TestExport_ValidationFailureBlocksRender(t *testing.T) {
	p := mustProtocol(t, protocol.SampleParams{Name: "unsafe"},
		protocol.SafetyParams{MinVoltageV: 3.0, MaxVoltageV: 4.0},
		[]protocol.Step{
			protocol.ConstantCurrent{CurrentMA: 5, UntilVoltageV: 4.5},
		})
	_, err := New().Export(p, FormatBiologic, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4.5")
}

func TestExport_SavePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "golden.mps")
	artifact, err := New().Export(goldenProtocol(t), FormatBiologic, func() Context {
		ctx := goldenContext()
		ctx.SavePath = path
		return ctx
	}())
	require.NoError(t, err)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, artifact.Bytes, written)
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats() {
		got, err := ParseFormat(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
		assert.NotEmpty(t, f.Ext())
	}
	_, err := ParseFormat("csv")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown format"))
}
