package export

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
)

// Neware BTS step-file units: volts ×10000, seconds ×1000 (ms), capacity
// mAh ×3600 (mAs). Step_Type codes: 1 CC charge, 2 CC discharge, 3 CV
// charge, 19 CV discharge, 4 rest, 5 loop, 6 end.
const (
	newareClientVersion = "BTS Client 8.0.0.478(2024.06.24)(R3)"
	newareDateLayout    = "20060102150405"
)

// newareGUIDSpace namespaces the deterministic step-file GUID so two exports
// of the same protocol produce the same file.
var newareGUIDSpace = uuid.MustParse("1b671a64-40d5-491e-99b0-da01ff1f3341")

func renderNeware(p *protocol.Protocol, steps []sequence.ResolvedStep, ctx Context) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	canonical, err := p.ToCanonical()
	if err != nil {
		return nil, fmt.Errorf("canonical form for GUID: %w", err)
	}

	root := doc.CreateElement("root")
	config := root.CreateElement("config")
	config.CreateAttr("type", "Step File")
	config.CreateAttr("version", "17")
	config.CreateAttr("client_version", newareClientVersion)
	config.CreateAttr("date", ctx.GeneratedAt.Format(newareDateLayout))
	config.CreateAttr("Guid", uuid.NewSHA1(newareGUIDSpace, canonical).String())

	sample := p.Sample()
	head := config.CreateElement("Head_Info")
	newareValue(head, "Operate", "66")
	newareValue(head, "Scale", "1")
	start := newareValue(head, "Start_Step", "1")
	start.CreateAttr("Hide_Ctrl_Step", "0")
	newareValue(head, "Creator", "cyclekit")
	newareValue(head, "Remark", sample.Name)
	// RateType 103 is the non-C-rate mode; it stores more precise currents
	// than 105 even when rates were authored.
	newareValue(head, "RateType", "103")
	if sample.CapacityMAh != 0 {
		newareValue(head, "MultCap", newareFloat(sample.CapacityMAh*3600))
	}

	whole := config.CreateElement("Whole_Prt")
	newareSafety(whole, p.Safety())
	newareRecord(whole, p.Record())

	stepInfo := config.CreateElement("Step_Info")
	stepInfo.CreateAttr("Num", strconv.Itoa(len(steps)+1)) // +1 for the end step

	for _, rs := range steps {
		num := rs.Index + 1
		if err := newareStep(stepInfo, rs, num, prevStep(steps, rs.Index)); err != nil {
			return nil, err
		}
	}
	end := stepInfo.CreateElement(fmt.Sprintf("Step%d", len(steps)+1))
	end.CreateAttr("Step_ID", strconv.Itoa(len(steps)+1))
	end.CreateAttr("Step_Type", "6")

	smbus := config.CreateElement("SMBUS")
	info := smbus.CreateElement("SMBUS_Info")
	info.CreateAttr("Num", "0")
	info.CreateAttr("AdjacentInterval", "0")

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, encodingf(FormatNeware, -1, "serialize: %v", err)
	}
	return out, nil
}

func newareStep(parent *etree.Element, rs sequence.ResolvedStep, num int, prev protocol.Step) error {
	switch s := rs.Step.(type) {
	case protocol.ConstantCurrent:
		typ := "2"
		if s.Charging() {
			typ = "1"
		}
		main := newareStepMain(parent, num, typ, "Main")
		if s.RateC != 0 {
			newareValue(main, "Rate", newareFloat(abs(s.RateC)))
		}
		newareValue(main, "Curr", newareFloat(abs(s.CurrentMA)))
		if s.UntilTimeS != 0 {
			newareValue(main, "Time", newareFloat(s.UntilTimeS*1000))
		}
		if s.UntilVoltageV != 0 {
			newareValue(main, "Stop_Volt", newareFloat(s.UntilVoltageV*10000))
		}

	case protocol.ConstantVoltage:
		// Charge hold is 3, discharge hold is 19; when the cutoff carries no
		// sign the step defaults to charge.
		typ := "3"
		if s.UntilRateC < 0 || (s.UntilRateC == 0 && s.UntilCurrentMA < 0) {
			typ = "19"
		}
		main := newareStepMain(parent, num, typ, "Main")
		newareValue(main, "Volt", newareFloat(s.VoltageV*10000))
		if s.UntilTimeS != 0 {
			newareValue(main, "Time", newareFloat(s.UntilTimeS*1000))
		}
		if s.UntilRateC != 0 {
			newareValue(main, "Stop_Rate", newareFloat(abs(s.UntilRateC)))
		}
		if s.UntilCurrentMA != 0 {
			newareValue(main, "Stop_Curr", newareFloat(abs(s.UntilCurrentMA)))
		}
		// A hold continuing a CC at the same voltage inherits its current so
		// the cycler seeds the hold at the right level.
		if cc, ok := prev.(protocol.ConstantCurrent); ok && cc.UntilVoltageV == s.VoltageV && cc.CurrentMA != 0 {
			if cc.RateC != 0 {
				newareValue(main, "Rate", newareFloat(abs(cc.RateC)))
			}
			newareValue(main, "Curr", newareFloat(abs(cc.CurrentMA)))
		}

	case protocol.OpenCircuitVoltage:
		main := newareStepMain(parent, num, "4", "Main")
		newareValue(main, "Time", newareFloat(s.UntilTimeS*1000))

	case protocol.Loop:
		other := newareStepMain(parent, num, "5", "Other")
		newareValue(other, "Start_Step", strconv.Itoa(rs.Target+1))
		newareValue(other, "Cycle_Count", strconv.Itoa(s.CycleCount))

	default:
		return &UnsupportedFeatureError{Format: FormatNeware, StepIndex: rs.Origin, Kind: rs.Step.Kind()}
	}
	return nil
}

// newareStepMain creates <StepN Step_ID Step_Type><Limit><section/> and
// returns the section element the step's values hang off.
func newareStepMain(parent *etree.Element, num int, stepType, section string) *etree.Element {
	step := parent.CreateElement(fmt.Sprintf("Step%d", num))
	step.CreateAttr("Step_ID", strconv.Itoa(num))
	step.CreateAttr("Step_Type", stepType)
	limit := step.CreateElement("Limit")
	return limit.CreateElement(section)
}

func newareSafety(parent *etree.Element, safety protocol.SafetyParams) {
	protect := parent.CreateElement("Protect")
	main := protect.CreateElement("Main")
	volt := main.CreateElement("Volt")
	if safety.MaxVoltageV != 0 {
		newareValue(volt, "Upper", newareFloat(safety.MaxVoltageV*10000))
	}
	if safety.MinVoltageV != 0 {
		newareValue(volt, "Lower", newareFloat(safety.MinVoltageV*10000))
	}
	curr := main.CreateElement("Curr")
	if safety.MaxCurrentMA != 0 {
		newareValue(curr, "Upper", newareFloat(safety.MaxCurrentMA))
	}
	if safety.MinCurrentMA != 0 {
		newareValue(curr, "Lower", newareFloat(safety.MinCurrentMA))
	}
	if safety.DelayS != 0 {
		newareValue(main, "Delay_Time", newareFloat(safety.DelayS*1000))
	}
	cap := main.CreateElement("Cap")
	if safety.MaxCapacityMAh != 0 {
		newareValue(cap, "Upper", newareFloat(safety.MaxCapacityMAh*3600))
	}
}

func newareRecord(parent *etree.Element, record protocol.RecordParams) {
	rec := parent.CreateElement("Record")
	main := rec.CreateElement("Main")
	if record.TimeS != 0 {
		newareValue(main, "Time", newareFloat(record.TimeS*1000))
	}
	if record.VoltageV != 0 {
		newareValue(main, "Volt", newareFloat(record.VoltageV*10000))
	}
	if record.CurrentMA != 0 {
		newareValue(main, "Curr", newareFloat(record.CurrentMA))
	}
}

func newareValue(parent *etree.Element, name, value string) *etree.Element {
	el := parent.CreateElement(name)
	el.CreateAttr("Value", value)
	return el
}

// newareFloat matches the cycler's six-decimal fixed notation.
func newareFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
