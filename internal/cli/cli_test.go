package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclekit/internal/config"
)

// runCLI executes the root command against args and captures command output.
func runCLI(t *testing.T, cfg *config.Config, args ...string) (int, string) {
	t.Helper()
	app := NewApp(cfg)
	var buf bytes.Buffer
	app.Out = &buf

	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0, buf.String()
	}
	if code, ok := IsExitError(err); ok {
		return code, buf.String()
	}
	return 2, buf.String()
}

func TestConvert_WritesArtifacts(t *testing.T) {
	cfg := config.DefaultConfig()
	dir := t.TempDir()

	code, out := runCLI(t, cfg,
		"convert", "testdata/cycling.json",
		"-f", "biologic", "-f", "pybamm",
		"-c", "45", "-n", "cell_042",
		"-o", dir)
	require.Equal(t, 0, code, out)

	mps, err := os.ReadFile(filepath.Join(dir, "cycling.mps"))
	require.NoError(t, err)
	assert.Contains(t, string(mps), "Comments : cell_042")

	txt, err := os.ReadFile(filepath.Join(dir, "cycling.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(txt), "Charge at 0.5C")
}

func TestConvert_DefaultFormatFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DefaultFormats = []string{"tomato"}
	dir := t.TempDir()

	code, _ := runCLI(t, cfg,
		"convert", "testdata/cycling.json", "-c", "45", "-n", "cell", "-o", dir)
	require.Equal(t, 0, code)
	assert.FileExists(t, filepath.Join(dir, "cycling.json"))
}

func TestConvert_YAMLInput(t *testing.T) {
	cfg := config.DefaultConfig()
	dir := t.TempDir()

	// The YAML file stores rates as "C/2" / "D/2" strings and carries its
	// own sample name and capacity.
	code, _ := runCLI(t, cfg,
		"convert", "testdata/cycling.yaml", "-f", "neware", "-o", dir)
	require.Equal(t, 0, code)

	xml, err := os.ReadFile(filepath.Join(dir, "cycling.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(xml), `Remark Value="yaml_cell"`)
	// C/2 of 45 mAh is 22.5 mA.
	assert.Contains(t, string(xml), "22.500000")
}

func TestConvert_MissingCapacityFails(t *testing.T) {
	cfg := config.DefaultConfig()
	code, _ := runCLI(t, cfg,
		"convert", "testdata/cycling.json", "-f", "biologic", "-n", "cell", "-o", t.TempDir())
	assert.Equal(t, 1, code)
}

func TestConvert_UnknownFormat(t *testing.T) {
	cfg := config.DefaultConfig()
	code, _ := runCLI(t, cfg,
		"convert", "testdata/cycling.json", "-f", "csv", "-c", "45", "-n", "x")
	assert.Equal(t, 2, code)
}

func TestValidate_CleanProtocol(t *testing.T) {
	cfg := config.DefaultConfig()
	code, out := runCLI(t, cfg, "validate", "testdata/cycling.json", "-c", "45")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "protocol is valid")
}

func TestValidate_WarnsWhenRatesUncheckable(t *testing.T) {
	cfg := config.DefaultConfig()
	code, out := runCLI(t, cfg, "validate", "testdata/cycling.json")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "pass --capacity")
	assert.Contains(t, out, "protocol is valid")
}

func TestValidate_ReportsViolations(t *testing.T) {
	cfg := config.DefaultConfig()
	code, out := runCLI(t, cfg, "validate", "testdata/unsafe.json")
	require.Equal(t, 1, code)
	assert.Contains(t, out, "outside safety bounds")
	assert.Contains(t, out, "violation(s)")
}

func TestValidate_UnreadableFile(t *testing.T) {
	cfg := config.DefaultConfig()
	code, _ := runCLI(t, cfg, "validate", "testdata/does-not-exist.json")
	assert.Equal(t, 1, code)
}

func TestFormats_ListsAll(t *testing.T) {
	cfg := config.DefaultConfig()
	code, out := runCLI(t, cfg, "formats")
	require.Equal(t, 0, code)
	for _, name := range []string{"biologic", "neware", "tomato", "pybamm", "battinfo"} {
		assert.Contains(t, out, name)
	}
}

func TestRunWithConfig_UnknownCommand(t *testing.T) {
	result := RunWithConfig(config.DefaultConfig(), []string{"frobnicate"})
	assert.Equal(t, 2, result.ExitCode)
	assert.Error(t, result.Err)
}
