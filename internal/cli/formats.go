package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cyclekit/internal/export"
)

var formatDescriptions = map[export.Format]string{
	export.FormatBiologic: "Biologic EC-Lab Modulo Bat settings (Windows-1252 text)",
	export.FormatNeware:   "Neware BTS step file (XML)",
	export.FormatTomato:   "tomato 0.2.3 + MPG2 payload (JSON)",
	export.FormatPyBaMM:   "PyBaMM experiment instruction list (text)",
	export.FormatBattINFO: "BattINFO / EMMO ontology document (JSON-LD)",
}

func newFormatsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported target formats",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, f := range export.Formats() {
				fmt.Fprintf(app.Out, "%s  %-6s %s\n",
					styleFormat.Render(fmt.Sprintf("%-9s", string(f))),
					f.Ext(), formatDescriptions[f])
			}
		},
	}
}
