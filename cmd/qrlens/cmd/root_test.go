package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/testutil"
)

// execute runs a fresh root command and captures both streams.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeQR renders text as a PNG QR symbol in dir.
func writeQR(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testutil.SaveImage(t, testutil.MustEncodeQR(t, text, testutil.QROptions{Level: "M"}).Image(4, 4), path)
	return path
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "qrlens", root.Use)
	assert.NotEmpty(t, root.Short)
	assert.NotEmpty(t, root.Long)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"image", "pdf", "frames", "serve", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandHelp(t *testing.T) {
	out, _, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "qrlens finds QR symbols")
}

func TestRootCommandNoArgsShowsHelp(t *testing.T) {
	out, _, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	out, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "qrlens "), out)

	out, _, err = execute(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"go"`)
}

func TestRootCommandInvalidFlag(t *testing.T) {
	_, stderr, err := execute(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, stderr, "unknown flag")
}

func TestRootCommandConfigErrors(t *testing.T) {
	dir := t.TempDir()
	img := writeQR(t, dir, "a.png", "X")

	_, _, err := execute(t, "image", img, "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file does not exist")

	_, _, err = execute(t, "image", img, "--log-level", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	_, _, err = execute(t, "image", img, "--backend", "tesseract")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder.backend")
}

func TestLoggerSetup(t *testing.T) {
	dir := t.TempDir()
	img := writeQR(t, dir, "a.png", "LOGS")

	_, stderr, err := execute(t, "image", img, "--verbose", "--log-format", "text")
	require.NoError(t, err)
	assert.Contains(t, stderr, "level=DEBUG")

	_, stderr, err = execute(t, "image", img, "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, stderr, `"level":"DEBUG"`)
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qrlens.yaml")

	out, _, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "log_level: info")
	assert.Contains(t, string(data), "frames_per_second")

	_, _, err = execute(t, "config", "init", path)
	require.Error(t, err, "refuses to overwrite")
	_, _, err = execute(t, "config", "init", path, "--force")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nserver:\n  port: 9999\n"), 0o600))
	out, _, err = execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# loaded from "+path)
	assert.Contains(t, out, "log_level: warn")
	assert.Contains(t, out, "port: 9999")

	t.Run("show reports invalid values without failing", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600))
		out, stderr, err := execute(t, "config", "show", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "port: 0")
		assert.Contains(t, stderr, "invalid server port")
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))
		t.Setenv("QRLENS_LOG_LEVEL", "error")
		out, _, err := execute(t, "config", "show", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "log_level: error")
	})
}
