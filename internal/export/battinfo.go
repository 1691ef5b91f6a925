package export

import (
	"encoding/json"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
)

// BattINFO JSON-LD: each technique is a node in a hasNext-linked chain, and
// each loop becomes an IterativeWorkflow node whose hasTask chain holds the
// loop body. Quantities follow the EMMO RealData shape.

type ldNode struct {
	// Type is a string or, for termination quantities, a list of strings.
	Type     any          `json:"@type"`
	HasInput []ldQuantity `json:"hasInput,omitempty"`
	HasTask  *ldNode      `json:"hasTask,omitempty"`
	HasNext  *ldNode      `json:"hasNext,omitempty"`
	Context  []string     `json:"@context,omitempty"`
}

type ldQuantity struct {
	Type               any    `json:"@type"`
	HasNumericalPart   ldReal `json:"hasNumericalPart"`
	HasMeasurementUnit string `json:"hasMeasurementUnit"`
}

type ldReal struct {
	Type           string  `json:"@type"`
	HasNumberValue float64 `json:"hasNumberValue"`
}

func ldValue(typ any, value float64, unit string) ldQuantity {
	return ldQuantity{
		Type:               typ,
		HasNumericalPart:   ldReal{Type: "RealData", HasNumberValue: value},
		HasMeasurementUnit: unit,
	}
}

// ldTask is one grouped entry: either a single resolved step or an iterative
// block with its own body.
type ldTask struct {
	stepIndex int // -1 for iterative blocks
	cycles    int
	body      []ldTask
}

func renderBattINFO(steps []sequence.ResolvedStep, ctx Context) ([]byte, error) {
	tasks := groupIterative(steps, 0, len(steps))
	root, err := buildChain(tasks, steps)
	if err != nil {
		return nil, err
	}
	if ctx.IncludeLDContext {
		root.Context = []string{"https://w3id.org/emmo/domain/battery/context"}
	}
	out, err := json.MarshalIndent(root, "", "    ")
	if err != nil {
		return nil, encodingf(FormatBattINFO, -1, "serialize: %v", err)
	}
	return append(out, '\n'), nil
}

// groupIterative walks steps[start:end] backwards: a loop swallows its body
// span [target, loop) into a nested iterative block, so only the outermost
// structure remains at each level. Loop nesting was checked upstream.
func groupIterative(steps []sequence.ResolvedStep, start, end int) []ldTask {
	var rev []ldTask
	for i := end - 1; i >= start; i-- {
		loop, ok := steps[i].Step.(protocol.Loop)
		if !ok {
			rev = append(rev, ldTask{stepIndex: i})
			continue
		}
		target := steps[i].Target
		rev = append(rev, ldTask{
			stepIndex: -1,
			cycles:    loop.CycleCount,
			body:      groupIterative(steps, target, i),
		})
		i = target // body consumed; the i-- above moves past it
	}
	for l, r := 0, len(rev)-1; l < r; l, r = l+1, r-1 {
		rev[l], rev[r] = rev[r], rev[l]
	}
	return rev
}

// buildChain converts grouped tasks into the hasNext-linked node chain.
func buildChain(tasks []ldTask, steps []sequence.ResolvedStep) (*ldNode, error) {
	if len(tasks) == 0 {
		return nil, encodingf(FormatBattINFO, -1, "empty task group")
	}
	var node *ldNode
	if task := tasks[0]; task.stepIndex >= 0 {
		n, err := battinfoTechnique(steps[task.stepIndex])
		if err != nil {
			return nil, err
		}
		node = n
	} else {
		body, err := buildChain(task.body, steps)
		if err != nil {
			return nil, err
		}
		node = &ldNode{
			Type: "IterativeWorkflow",
			HasInput: []ldQuantity{
				ldValue("NumberOfIterations", float64(task.cycles), "UnitOne"),
			},
			HasTask: body,
		}
	}
	if len(tasks) > 1 {
		next, err := buildChain(tasks[1:], steps)
		if err != nil {
			return nil, err
		}
		node.HasNext = next
	}
	return node, nil
}

func battinfoTechnique(rs sequence.ResolvedStep) (*ldNode, error) {
	switch s := rs.Step.(type) {
	case protocol.OpenCircuitVoltage:
		return &ldNode{
			Type:     "Resting",
			HasInput: []ldQuantity{ldValue("Duration", s.UntilTimeS, "Second")},
		}, nil

	case protocol.ConstantCurrent:
		var inputs []ldQuantity
		if s.CurrentMA != 0 {
			inputs = append(inputs, ldValue("ElectricCurrent", abs(s.CurrentMA), "MilliAmpere"))
		}
		if s.RateC != 0 {
			inputs = append(inputs, ldValue("CRate", abs(s.RateC), "CRateUnit"))
		}
		typ, limit := "Discharging", "LowerVoltageLimit"
		if s.Charging() {
			typ, limit = "Charging", "UpperVoltageLimit"
		}
		if s.UntilVoltageV != 0 {
			inputs = append(inputs, ldValue([]string{limit, "TerminationQuantity"}, s.UntilVoltageV, "Volt"))
		}
		if s.UntilTimeS != 0 {
			inputs = append(inputs, ldValue("Duration", s.UntilTimeS, "Second"))
		}
		return &ldNode{Type: typ, HasInput: inputs}, nil

	case protocol.ConstantVoltage:
		inputs := []ldQuantity{ldValue("Voltage", s.VoltageV, "Volt")}
		if s.UntilCurrentMA != 0 {
			inputs = append(inputs, ldValue(
				[]string{"LowerCurrentLimit", "TerminationQuantity"}, abs(s.UntilCurrentMA), "MilliAmpere"))
		}
		if s.UntilRateC != 0 {
			inputs = append(inputs, ldValue(
				[]string{"LowerCRateLimit", "TerminationQuantity"}, abs(s.UntilRateC), "CRateUnit"))
		}
		if s.UntilTimeS != 0 {
			inputs = append(inputs, ldValue("Duration", s.UntilTimeS, "Second"))
		}
		return &ldNode{Type: "Hold", HasInput: inputs}, nil

	default:
		return nil, &UnsupportedFeatureError{Format: FormatBattINFO, StepIndex: rs.Origin, Kind: rs.Step.Kind()}
	}
}
