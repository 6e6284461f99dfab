package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/printer"
)

// run executes the root command with args and returns printer output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	restore := printer.SetOutput(&out, &errOut)
	defer restore()

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String() + errOut.String(), err
}

// fileConfig writes a config that persists routes to a temporary file.
func fileConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "patchbay.yml")
	data := "version: \"1.0\"\nrouting:\n  store: file\n  path: " + filepath.Join(dir, "routes.json") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, err := run(t)
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "patchbay")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := run(t, "--unknown-flag", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	for _, name := range []string{"serve", "validate", "routes", "outputs", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "today")
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "patchbay 1.2.3 (commit: abc123, built: today)")
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid command", func(t *testing.T) {
		out, err := run(t, "validate", "doorway#1.threshold: 89")
		require.NoError(t, err)
		assert.Contains(t, out, "doorway#1.threshold = 89 (0.701V)")
	})

	t.Run("out of range", func(t *testing.T) {
		out, err := run(t, "validate", "doorway#1.threshold: 200")
		require.Error(t, err)
		assert.Equal(t, "invalid command", err.Error())
		assert.Contains(t, out, "out_of_range")
	})

	t.Run("routing variable", func(t *testing.T) {
		out, err := run(t, "validate", "--variable", "cadet1#2.inputJack#1")
		validateVariable = false
		require.NoError(t, err)
		assert.Contains(t, out, "cadet1#2.inputJack#1 is routable")
	})
}

func TestOutputsCommand(t *testing.T) {
	out, err := run(t, "outputs")
	require.NoError(t, err)
	assert.Contains(t, out, "es9out#1 .. es9out#8")
	assert.Contains(t, out, "esx8cv#1.out#1 .. esx8cv#6.out#8")
}

func TestRoutesCommands_FileStore(t *testing.T) {
	cfg := fileConfig(t)
	t.Cleanup(func() { configPath = defaultConfigPath })

	out, err := run(t, "--config", cfg, "routes", "add", "ES9OUT#1", "doorway#1.threshold")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Added route es9out#1 → doorway#1.threshold")

	out, err = run(t, "--config", cfg, "routes", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "es9out#1")
	assert.Contains(t, out, "doorway#1.threshold")

	_, err = run(t, "--config", cfg, "routes", "add", "es9out#99", "doorway#1.threshold")
	require.Error(t, err)
	assert.Equal(t, "invalid hardware output", err.Error())

	_, err = run(t, "--config", cfg, "routes", "add", "es9out#2", "doorway#1.bogus")
	require.Error(t, err)
	assert.Equal(t, "invalid routing variable", err.Error())

	out, err = run(t, "--config", cfg, "routes", "remove", "es9out#1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed route for es9out#1")

	out, err = run(t, "--config", cfg, "routes", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No routes configured.")
}

func TestLoadConfig_MissingExplicitPath(t *testing.T) {
	var errOut bytes.Buffer
	defer printer.SetOutput(nil, &errOut)()

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Equal(t, "invalid configuration", err.Error())
}
