// Package export renders a protocol into device- or simulator-specific
// artifacts. One file per target format:
//
//   - biologic.go: EC-Lab settings text (.mps), Windows-1252 encoded
//   - neware.go: BTS step-file XML
//   - tomato.go: tomato 0.2.3 flat-instruction JSON
//   - pybamm.go: PyBaMM experiment string list
//   - battinfo.go: BattINFO JSON-LD
//
// Every render is a pure function of the protocol and the [Context]:
// identical inputs produce byte-identical artifacts, since these files are
// diffed and archived by experimenters. A codec either produces a complete
// artifact or fails with an error naming the offending step; it never emits
// a partial file.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cyclekit/internal/protocol"
	"cyclekit/internal/sequence"
	"cyclekit/internal/validate"
)

// Format identifies a target codec.
type Format string

const (
	FormatBiologic Format = "biologic"
	FormatNeware   Format = "neware"
	FormatTomato   Format = "tomato"
	FormatPyBaMM   Format = "pybamm"
	FormatBattINFO Format = "battinfo"
)

// Formats lists every supported format in stable order.
func Formats() []Format {
	return []Format{FormatBiologic, FormatNeware, FormatTomato, FormatPyBaMM, FormatBattINFO}
}

// ParseFormat resolves a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (supported: biologic, neware, tomato, pybamm, battinfo)", s)
}

// Ext returns the conventional file extension for the format's artifact.
func (f Format) Ext() string {
	switch f {
	case FormatBiologic:
		return ".mps"
	case FormatNeware:
		return ".xml"
	case FormatTomato:
		return ".json"
	case FormatPyBaMM:
		return ".txt"
	case FormatBattINFO:
		return ".jsonld"
	}
	return ""
}

// Context is the per-export parameter bundle. It is owned by a single export
// call and never embedded back into the protocol.
type Context struct {
	// SampleName overrides the protocol's sample name. Required when the
	// protocol carries the placeholder name and the target embeds the name.
	SampleName string

	// CapacityMAh overrides the protocol's sample capacity, in mAh. Required
	// whenever any step uses C-rates.
	CapacityMAh float64

	// SavePath additionally writes the artifact to this path, in the
	// format's mandated encoding. Empty returns the artifact in memory only.
	SavePath string

	// GeneratedAt is the timestamp embedded in headers of formats that carry
	// one (Neware). It is an explicit input so exports stay reproducible.
	GeneratedAt time.Time

	// MinVoltageV / MaxVoltageV set the Biologic potential control range.
	// Both zero selects the default range of [0, 5] V.
	MinVoltageV float64
	MaxVoltageV float64

	// TomatoOutput is the data output directory written into tomato
	// payloads. Empty selects the tomato default.
	TomatoOutput string

	// IncludeLDContext attaches the @context array to BattINFO output.
	IncludeLDContext bool
}

// Artifact is a complete rendered export.
type Artifact struct {
	Format Format

	// Bytes is the exact artifact in the format's mandated encoding. For
	// Biologic this is Windows-1252; everything else is UTF-8.
	Bytes []byte

	// Lines is the instruction list for the PyBaMM format, nil otherwise.
	Lines []string

	// Advisories carries non-blocking validator findings, e.g. the widened
	// symmetric current limit on asymmetric safety bounds.
	Advisories []string
}

// UnsupportedFeatureError reports a step variant the target format cannot
// represent.
type UnsupportedFeatureError struct {
	Format    Format
	StepIndex int
	Kind      protocol.StepKind
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("step %d: %s does not support step type %q", e.StepIndex, e.Format, e.Kind)
}

// EncodingError reports a target-format constraint violated at render time,
// e.g. a current-range change at a disallowed step transition, or text that
// cannot be encoded in the target's character set.
type EncodingError struct {
	Format    Format
	StepIndex int // -1 when not tied to a step
	Msg       string
}

func (e *EncodingError) Error() string {
	if e.StepIndex >= 0 {
		return fmt.Sprintf("step %d: %s: %s", e.StepIndex, e.Format, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Format, e.Msg)
}

func encodingf(f Format, stepIndex int, format string, args ...any) *EncodingError {
	return &EncodingError{Format: f, StepIndex: stepIndex, Msg: fmt.Sprintf(format, args...)}
}

// Exporter renders protocols. It is safe for concurrent use: the underlying
// protocol model is immutable and the resolve cache serializes itself.
type Exporter struct {
	cache *sequence.Cache
}

// New creates an Exporter with a default-sized resolve cache.
func New() *Exporter {
	cache, err := sequence.NewCache(sequence.DefaultCacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which NewCache corrects.
		panic(err)
	}
	return &Exporter{cache: cache}
}

// Export renders p to the requested format. On success the artifact is
// complete; when ctx.SavePath is set it has also been written to disk. On
// failure no file is touched and no partial artifact is returned.
func (e *Exporter) Export(p *protocol.Protocol, format Format, ctx Context) (*Artifact, error) {
	p = p.WithSample(ctx.SampleName, ctx.CapacityMAh)
	sample := p.Sample()

	if needsSampleName(format) && (sample.Name == "" || sample.Name == protocol.PlaceholderName) {
		return nil, fmt.Errorf("%s: a sample name must be provided when the protocol uses a blank or placeholder name", format)
	}

	report := validate.ProtocolWithCapacity(p, sample.CapacityMAh)
	if err := report.Err(); err != nil {
		return nil, err
	}

	steps, err := e.cache.Converted(p, sample.CapacityMAh)
	if err != nil {
		return nil, err
	}
	if err := sequence.CheckLoopNesting(steps); err != nil {
		return nil, err
	}

	artifact := &Artifact{Format: format, Advisories: report.Advisories}
	switch format {
	case FormatBiologic:
		artifact.Bytes, err = renderBiologic(p, steps, ctx)
	case FormatNeware:
		artifact.Bytes, err = renderNeware(p, steps, ctx)
	case FormatTomato:
		artifact.Bytes, err = renderTomato(p, steps, ctx)
	case FormatPyBaMM:
		artifact.Lines, err = renderPyBaMM(steps)
		if err == nil {
			artifact.Bytes = pybammBytes(artifact.Lines)
		}
	case FormatBattINFO:
		artifact.Bytes, err = renderBattINFO(steps, ctx)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if ctx.SavePath != "" {
		if err := writeArtifact(ctx.SavePath, artifact.Bytes); err != nil {
			return nil, err
		}
	}
	return artifact, nil
}

// needsSampleName reports whether the format embeds the sample name and so
// refuses placeholder names. PyBaMM and BattINFO artifacts carry no sample
// identity.
func needsSampleName(f Format) bool {
	switch f {
	case FormatBiologic, FormatNeware, FormatTomato:
		return true
	}
	return false
}

func writeArtifact(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
