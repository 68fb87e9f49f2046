package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the command tree with args and captured output.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := newCLI(&out, &errOut)
	root := c.root()
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.Error(t, validateFormat("yaml"))
}

func TestSynth_JSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	db := filepath.Join(dir, "state", "x.db")
	writeFile(t, filepath.Join(dir, "src", "a.xpy"), "#$define V 1\n")
	writeFile(t, filepath.Join(dir, "src", "b.xpy"), "v = $a.V$\n")

	stdout, _, err := runCLI(t, "synth", "--db", db, "--format", "json", filepath.Join(dir, "src"))
	require.NoError(t, err)

	var result struct {
		Command string    `json:"command"`
		Results CLIReport `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, "synth", result.Command)
	assert.Equal(t, 2, result.Results.Processed)
	assert.NotEmpty(t, result.Results.RunID)

	out, err := os.ReadFile(filepath.Join(dir, "src", "b.py"))
	require.NoError(t, err)
	assert.Equal(t, "v = 1\n", string(out))

	// Second run skips both files.
	stdout, _, err = runCLI(t, "synth", "--db", db, "--format", "json", filepath.Join(dir, "src"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 2, result.Results.Skipped)

	stdout, _, err = runCLI(t, "synth", "--db", db, "--format", "json", "--force", filepath.Join(dir, "src"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, 2, result.Results.Processed)
}

func TestSynth_FailureExitsNonZero(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	db := filepath.Join(dir, "x.db")
	writeFile(t, filepath.Join(dir, "src", "bad.xpy"), "x = $MISSING$\n")
	writeFile(t, filepath.Join(dir, "src", "good.xpy"), "y = 1\n")

	stdout, _, err := runCLI(t, "synth", "--db", db, "--format", "text", filepath.Join(dir, "src"))
	require.Error(t, err)
	assert.Contains(t, stdout, "UNKNOWN_SYMBOL")
	assert.Contains(t, stdout, "bad.xpy:1:5")
	assert.Contains(t, stdout, "1 processed, 0 skipped, 1 failed")
	assert.FileExists(t, filepath.Join(dir, "src", "good.py"))
}

func TestSynth_InvalidFormat(t *testing.T) {
	t.Parallel()
	_, _, err := runCLI(t, "synth", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSynth_ConfigFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "keep.xpy"), "k = 1\n")
	writeFile(t, filepath.Join(src, "gen", "skip.xpy"), "s = 1\n")
	writeFile(t, filepath.Join(src, "tool.xrb"), "#$define N 2\nputs $N$\n")
	cfgPath := filepath.Join(dir, "xsynth.toml")
	writeFile(t, cfgPath, `
sources = ["`+filepath.ToSlash(src)+`"]
db = "`+filepath.ToSlash(filepath.Join(dir, "x.db"))+`"
exclude = ["gen/**"]
parallel = false

[extensions]
xrb = "rb"
`)

	_, _, err := runCLI(t, "synth", "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(src, "keep.py"))
	assert.NoFileExists(t, filepath.Join(src, "gen", "skip.py"))

	out, err := os.ReadFile(filepath.Join(src, "tool.rb"))
	require.NoError(t, err)
	assert.Equal(t, "puts 2\n", string(out))
}

func TestStatus(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	db := filepath.Join(dir, "x.db")
	writeFile(t, filepath.Join(dir, "a.xpy"), "#$define V 1\n#$define W 2\n")

	_, _, err := runCLI(t, "synth", "--db", db, dir)
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "status", "--db", db, "--format", "json")
	require.NoError(t, err)
	var result struct {
		Results CLIStatus `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.NotNil(t, result.Results.LastRun)
	assert.Equal(t, 1, result.Results.LastRun.Processed)
	require.Len(t, result.Results.Records, 1)
	assert.Equal(t, "a", result.Results.Records[0].Module)
	assert.Equal(t, []string{"V", "W"}, result.Results.Records[0].Symbols)

	stdout, _, err = runCLI(t, "status", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Records (1)")
	assert.Contains(t, stdout, "MODULE")
}

func TestStatus_EmptyStore(t *testing.T) {
	t.Parallel()
	db := filepath.Join(t.TempDir(), "x.db")
	stdout, _, err := runCLI(t, "status", "--db", db, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"records": []`)
	assert.NotContains(t, stdout, "last_run")
}
