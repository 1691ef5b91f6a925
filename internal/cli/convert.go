package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cyclekit/internal/export"
)

func newConvertCommand(app *App) *cobra.Command {
	var (
		formats      []string
		outputDir    string
		sampleName   string
		capacityMAh  float64
		minVoltage   float64
		maxVoltage   float64
		tomatoOutput string
		ldContext    bool
	)

	cmd := &cobra.Command{
		Use:   "convert <protocol-file>",
		Short: "Render a protocol into device-specific formats",
		Long: `Render a protocol file into one or more target formats.

The protocol's sample name and capacity can be overridden per conversion,
and must be supplied when the protocol uses the $NAME placeholder or
C-rate steps without a stored capacity.`,
		Example: `  cyclekit convert cycling.json --format biologic --capacity 45 --name cell_042
  cyclekit convert cycling.yaml -f neware -f tomato -o exports/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			p, err := loadProtocol(path)
			if err != nil {
				app.Logger.Error(err.Error())
				return NewExitError(1)
			}

			if len(formats) == 0 {
				formats = app.Config.DefaultFormats
			}
			targets := make([]export.Format, 0, len(formats))
			for _, name := range formats {
				f, err := export.ParseFormat(name)
				if err != nil {
					app.Logger.Error(err.Error())
					return NewExitError(2)
				}
				targets = append(targets, f)
			}
			if outputDir == "" {
				outputDir = app.Config.OutputDir
			}
			if minVoltage == 0 && maxVoltage == 0 {
				minVoltage = app.Config.Biologic.MinVoltageV
				maxVoltage = app.Config.Biologic.MaxVoltageV
			}
			if tomatoOutput == "" {
				tomatoOutput = app.Config.Tomato.OutputPath
			}

			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			generatedAt := time.Now().UTC()
			for _, format := range targets {
				savePath := filepath.Join(outputDir, base+format.Ext())
				ctx := export.Context{
					SampleName:       sampleName,
					CapacityMAh:      capacityMAh,
					SavePath:         savePath,
					GeneratedAt:      generatedAt,
					MinVoltageV:      minVoltage,
					MaxVoltageV:      maxVoltage,
					TomatoOutput:     tomatoOutput,
					IncludeLDContext: ldContext,
				}
				artifact, err := app.Exporter.Export(p, format, ctx)
				if err != nil {
					app.Logger.Error("export failed", "format", format, "err", err)
					return NewExitError(1)
				}
				for _, advisory := range artifact.Advisories {
					app.Logger.Warn(advisory, "format", format)
				}
				fmt.Fprintf(app.Out, "%s %s %s (%d bytes)\n",
					styleOK.Render("✓"), styleFormat.Render(string(format)), savePath, len(artifact.Bytes))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&formats, "format", "f", nil,
		"target format(s): biologic, neware, tomato, pybamm, battinfo")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory to write artifacts into")
	cmd.Flags().StringVarP(&sampleName, "name", "n", "", "sample name override")
	cmd.Flags().Float64VarP(&capacityMAh, "capacity", "c", 0, "sample capacity in mAh (required for C-rate steps)")
	cmd.Flags().Float64Var(&minVoltage, "min-voltage", 0, "Biologic potential control minimum in V")
	cmd.Flags().Float64Var(&maxVoltage, "max-voltage", 0, "Biologic potential control maximum in V")
	cmd.Flags().StringVar(&tomatoOutput, "tomato-output", "", "data output directory written into tomato payloads")
	cmd.Flags().BoolVar(&ldContext, "ld-context", false, "attach the @context array to BattINFO output")
	return cmd
}
