package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
)

// pybammMaxIterations bounds the unroll simulation. A protocol that walks
// more steps than this almost certainly has a loop definition error.
const pybammMaxIterations = 10000

// renderPyBaMM turns the resolved sequence into a PyBaMM experiment: a flat
// list of instruction strings with every loop unrolled.
func renderPyBaMM(steps []sequence.ResolvedStep) ([]string, error) {
	texts := make([]string, len(steps))
	loops := map[int]protocol.Loop{}
	for _, rs := range steps {
		switch s := rs.Step.(type) {
		case protocol.OpenCircuitVoltage:
			texts[rs.Index] = fmt.Sprintf("Rest for %s seconds", trimFloat(s.UntilTimeS))
		case protocol.ConstantCurrent:
			texts[rs.Index] = pybammCC(s)
		case protocol.ConstantVoltage:
			texts[rs.Index] = pybammCV(s)
		case protocol.Loop:
			loops[rs.Index] = s
		default:
			return nil, &UnsupportedFeatureError{Format: FormatPyBaMM, StepIndex: rs.Origin, Kind: rs.Step.Kind()}
		}
	}

	order, err := unrollLoops(steps, loops)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(order))
	for _, i := range order {
		out = append(out, texts[i])
	}
	return out, nil
}

// unrollLoops simulates the jump sequence and returns the visit order of the
// non-loop steps. Each loop body runs exactly CycleCount times; an outer jump
// back over an inner loop resets the inner loop's counter so nested loops
// multiply.
func unrollLoops(steps []sequence.ResolvedStep, loops map[int]protocol.Loop) ([]int, error) {
	done := map[int]int{}
	var order []int
	i, total := 0, 0
	for i < len(steps) {
		if loop, ok := loops[i]; ok {
			if done[i] < loop.CycleCount-1 {
				target := steps[i].Target
				for j := range loops {
					if j < i && j >= target {
						done[j] = 0
					}
				}
				done[i]++
				i = target
			} else {
				i++
			}
		} else {
			order = append(order, i)
			i++
		}
		total++
		if total > pybammMaxIterations {
			return nil, encodingf(FormatPyBaMM, -1,
				"unrolled protocol exceeds %d steps, likely a loop definition error", pybammMaxIterations)
		}
	}
	return order, nil
}

func pybammCC(s protocol.ConstantCurrent) string {
	var b strings.Builder
	verb := "Charge"
	if !s.Charging() {
		verb = "Discharge"
	}
	if s.RateC != 0 {
		fmt.Fprintf(&b, "%s at %sC", verb, trimFloat(abs(s.RateC)))
	} else {
		fmt.Fprintf(&b, "%s at %s mA", verb, trimFloat(abs(s.CurrentMA)))
	}
	b.WriteString(pybammDuration(s.UntilTimeS))
	if s.UntilVoltageV != 0 {
		fmt.Fprintf(&b, " until %s V", trimFloat(s.UntilVoltageV))
	}
	return b.String()
}

func pybammCV(s protocol.ConstantVoltage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hold at %s V", trimFloat(s.VoltageV))
	b.WriteString(pybammDuration(s.UntilTimeS))
	var cutoffs []string
	if s.UntilRateC != 0 {
		cutoffs = append(cutoffs, fmt.Sprintf("until %sC", trimFloat(abs(s.UntilRateC))))
	} else if s.UntilCurrentMA != 0 {
		cutoffs = append(cutoffs, fmt.Sprintf("until %s mA", trimFloat(abs(s.UntilCurrentMA))))
	}
	if len(cutoffs) > 0 {
		b.WriteString(" " + strings.Join(cutoffs, " or "))
	}
	return b.String()
}

// pybammDuration folds whole hours and minutes into the larger unit.
func pybammDuration(seconds float64) string {
	if seconds == 0 {
		return ""
	}
	switch {
	case math.Mod(seconds, 3600) == 0:
		return fmt.Sprintf(" for %d hours", int(seconds/3600))
	case math.Mod(seconds, 60) == 0:
		return fmt.Sprintf(" for %d minutes", int(seconds/60))
	default:
		return fmt.Sprintf(" for %s seconds", trimFloat(seconds))
	}
}

func pybammBytes(lines []string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

// trimFloat renders a float without trailing zeros: 0.5 -> "0.5", 45 -> "45".
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
