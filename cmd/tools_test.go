package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcpgate/internal/tools"
)

func runTools(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { toolsConfigPath, toolsCatalogFile = "", "" })

	c := newToolsCmd()
	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	c.SetArgs(args)
	err := c.Execute()
	return buf.String(), err
}

func TestToolsListFallsBackToBuiltins(t *testing.T) {
	out, err := runTools(t, "list", "--config-path", t.TempDir())
	require.NoError(t, err)

	assert.Contains(t, out, "builtin")
	for _, d := range tools.DefaultCatalog() {
		assert.Contains(t, out, d.Name)
	}
	assert.Contains(t, out, "snippetname:string*")
}

func TestToolsListReadsCatalogFromConfigPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yaml"), []byte(`
tools:
  - name: weather
    description: Current weather.
    parameters:
      - name: city
        type: string
        required: true
    backend:
      kind: http
      url: https://functions.example.com/api/weather
      timeout: 5s
`), 0o600))

	out, err := runTools(t, "list", "--config-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "http")
	assert.Contains(t, out, "5s")
	assert.NotContains(t, out, "hello_mcp")
}

func TestToolsListExplicitMissingFile(t *testing.T) {
	_, err := runTools(t, "list", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestToolsValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("tools:\n  - name: hello_mcp\n    backend:\n      kind: builtin\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tools:\n  - name: hello_mcp\n    backend:\n      kind: builtin\n  - name: hello_mcp\n    backend:\n      kind: builtin\n"), 0o600))

	out, err := runTools(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 tools)")

	out, err = runTools(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "invalid:")
	assert.Equal(t, ExitCodeInvalidCatalog, getExitCode(err))
}
