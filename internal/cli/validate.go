package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cyclekit/internal/validate"
)

func newValidateCommand(app *App) *cobra.Command {
	var capacityMAh float64

	cmd := &cobra.Command{
		Use:   "validate <protocol-file>",
		Short: "Check a protocol against safety bounds and loop structure",
		Long: `Validate a protocol file and print every violation, not just the first.

Passing --capacity additionally checks C-rate steps against the protocol's
current safety bounds using the converted absolute currents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProtocol(args[0])
			if err != nil {
				app.Logger.Error(err.Error())
				return NewExitError(1)
			}

			capacity := capacityMAh
			if capacity == 0 {
				capacity = p.Sample().CapacityMAh
			}
			report := validate.ProtocolWithCapacity(p, capacity)

			if capacity == 0 && p.UsesRates() {
				fmt.Fprintf(app.Out, "%s protocol uses C-rates; pass --capacity to check the converted currents\n",
					styleWarn.Render("!"))
			}
			for _, v := range report.Violations {
				fmt.Fprintf(app.Out, "%s %s\n", styleBad.Render("✗"), v)
			}
			for _, a := range report.Advisories {
				fmt.Fprintf(app.Out, "%s %s\n", styleWarn.Render("!"), a)
			}
			if !report.OK() {
				fmt.Fprintf(app.Out, "\n%s\n", styleBad.Render(
					fmt.Sprintf("%d violation(s) in %d step(s)", len(report.Violations), p.Len())))
				return NewExitError(1)
			}
			fmt.Fprintf(app.Out, "%s protocol is valid (%d steps)\n", styleOK.Render("✓"), p.Len())
			return nil
		},
	}

	cmd.Flags().Float64VarP(&capacityMAh, "capacity", "c", 0, "sample capacity in mAh for C-rate bound checks")
	return cmd
}
