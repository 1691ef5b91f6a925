// Package cli implements the cyclekit command line interface.
//
// Commands:
//   - convert:  render a protocol file into one or more target formats
//   - validate: check a protocol against safety bounds and loop structure
//   - formats:  list the supported target formats
//
// Protocol files are read in the canonical JSON form or as YAML with the
// same field names. All commands return [ExitError] codes instead of
// calling os.Exit, which keeps command behavior testable.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"cyclekit/internal/config"
	"cyclekit/internal/export"
)

// App bundles the dependencies commands need.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	Exporter *export.Exporter

	// Out is where command output is written. Defaults to os.Stdout;
	// tests redirect it.
	Out io.Writer
}

// ExecuteResult carries the outcome of a CLI run for callers that must not
// terminate the process (tests, embedding).
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// NewApp builds an App from configuration.
func NewApp(cfg *config.Config) *App {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		Level:           parseLogLevel(cfg.LogLevel),
	})
	return &App{
		Config:   cfg,
		Logger:   logger,
		Exporter: export.New(),
		Out:      os.Stdout,
	}
}

func parseLogLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// NewRootCommand builds the cyclekit root command with all subcommands.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "cyclekit",
		Short: "Battery cycling protocol converter",
		Long: `cyclekit models battery cycling protocols and converts them into
device-specific formats: Biologic EC-Lab (.mps), Neware BTS (.xml),
tomato (.json), PyBaMM experiment strings, and BattINFO JSON-LD.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newConvertCommand(app),
		newValidateCommand(app),
		newFormatsCommand(app),
	)
	return root
}

// RunWithConfig executes the CLI against args without touching the process.
func RunWithConfig(cfg *config.Config, args []string) ExecuteResult {
	app := NewApp(cfg)
	root := NewRootCommand(app)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		app.Logger.Error(err.Error())
		return ExecuteResult{ExitCode: 2, Err: err}
	}
	return ExecuteResult{}
}

// Execute is the process entry point: load config, run, exit.
func Execute() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	result := RunWithConfig(cfg, os.Args[1:])
	os.Exit(result.ExitCode)
}
