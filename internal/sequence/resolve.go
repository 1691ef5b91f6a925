// Package sequence turns an authored protocol method into the concrete step
// sequence the format codecs consume.
//
// Resolution removes Tag steps, assigns zero-based indices to the surviving
// steps, and rewrites every Loop target (tag label or 1-based authored
// position) into a resolved index. Conversion then rewrites C-rate quantities
// into absolute currents using the capacity supplied at export time, so the
// codecs only ever see absolute units.
//
// Key types:
//   - [ResolvedStep] is one step with its resolved position and loop target
//   - [UnresolvedReferenceError], [MissingCapacityError] attribute failures
//     to a specific authored step
//   - [Cache] memoizes resolved+converted sequences across exports
package sequence

import (
	"fmt"
	"sort"

	"cyclekit/internal/protocol"
)

// ResolvedStep is a protocol step with its position in the resolved sequence.
// Resolved sequences are created fresh per export and never persisted.
type ResolvedStep struct {
	// Index is the zero-based position in the resolved (tag-free) sequence.
	Index int

	// Origin is the zero-based position in the authored method, used for
	// error attribution.
	Origin int

	// Step is the step itself. Never a Tag.
	Step protocol.Step

	// Target is the resolved zero-based loop target for Loop steps, -1
	// otherwise.
	Target int
}

// UnresolvedReferenceError reports a loop whose target cannot be resolved:
// the tag is missing, duplicated, or the jump does not go backwards.
type UnresolvedReferenceError struct {
	// StepIndex is the zero-based position of the loop in the authored method.
	StepIndex int

	Msg string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("step %d: unresolved loop reference: %s", e.StepIndex, e.Msg)
}

func unresolvedf(stepIndex int, format string, args ...any) *UnresolvedReferenceError {
	return &UnresolvedReferenceError{StepIndex: stepIndex, Msg: fmt.Sprintf(format, args...)}
}

// Resolve produces the ordered resolved sequence for p. Tag steps are
// dropped; a tag resolves to the index of the first non-tag step at or after
// it. Loops must jump strictly backwards to a non-empty body.
func Resolve(p *protocol.Protocol) ([]ResolvedStep, error) {
	method := p.Method()

	// First pass: assign indices and collect tag positions. newIndex[i] is
	// the resolved index of authored step i, or for a tag the resolved index
	// of the step that follows it.
	newIndex := make([]int, len(method))
	tags := make(map[string]int)
	dup := make(map[string]bool)
	n := 0
	for i, step := range method {
		newIndex[i] = n
		if tag, ok := step.(protocol.Tag); ok {
			if _, seen := tags[tag.Label]; seen {
				dup[tag.Label] = true
				continue
			}
			tags[tag.Label] = n
			continue
		}
		n++
	}

	// Second pass: emit resolved steps with rewritten loop targets.
	resolved := make([]ResolvedStep, 0, n)
	for i, step := range method {
		if _, ok := step.(protocol.Tag); ok {
			continue
		}
		rs := ResolvedStep{Index: newIndex[i], Origin: i, Step: step, Target: -1}
		if loop, ok := step.(protocol.Loop); ok {
			target, err := resolveTarget(i, loop, tags, dup, newIndex)
			if err != nil {
				return nil, err
			}
			if target >= rs.Index {
				return nil, unresolvedf(i, "loops must go backwards, target resolves to index %d at or after the loop (index %d)",
					target, rs.Index)
			}
			rs.Target = target
		}
		resolved = append(resolved, rs)
	}
	return resolved, nil
}

func resolveTarget(i int, loop protocol.Loop, tags map[string]int, dup map[string]bool, newIndex []int) (int, error) {
	if loop.To.IsLabel() {
		if dup[loop.To.Label] {
			// Construction rejects duplicate tags, but resolution of a
			// protocol that arrived through another path must still fail
			// deterministically instead of picking an occurrence.
			return 0, unresolvedf(i, "tag %q is ambiguous: defined more than once", loop.To.Label)
		}
		target, ok := tags[loop.To.Label]
		if !ok {
			return 0, unresolvedf(i, "tag %q is missing", loop.To.Label)
		}
		return target, nil
	}
	pos := loop.To.Position - 1 // authored positions are 1-based
	if pos < 0 || pos >= len(newIndex) {
		return 0, unresolvedf(i, "step number %d is out of range", loop.To.Position)
	}
	return newIndex[pos], nil
}

// CheckLoopNesting rejects intersecting loops: two loops whose ranges overlap
// without one being fully nested inside the other. Such protocols have no
// well-defined device behavior. The input must already be resolved.
func CheckLoopNesting(steps []ResolvedStep) error {
	type span struct {
		start, end, origin int
	}
	var loops []span
	for _, rs := range steps {
		if _, ok := rs.Step.(protocol.Loop); ok {
			loops = append(loops, span{start: rs.Target, end: rs.Index, origin: rs.Origin})
		}
	}
	sort.Slice(loops, func(a, b int) bool {
		if loops[a].start != loops[b].start {
			return loops[a].start < loops[b].start
		}
		return loops[a].end < loops[b].end
	})

	for i := 0; i < len(loops); i++ {
		for j := i + 1; j < len(loops); j++ {
			if loops[j].start > loops[i].end {
				break
			}
			// Overlapping: fully nested is fine, crossing is not.
			if (loops[i].start < loops[j].start && loops[i].end < loops[j].end) ||
				(loops[i].start > loops[j].start && loops[i].end > loops[j].end) {
				return unresolvedf(loops[j].origin, "loop intersects the loop at step %d", loops[i].origin)
			}
		}
	}
	return nil
}
