package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xsynth.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDecode_Defaults(t *testing.T) {
	cfg, err := Decode(New())
	require.NoError(t, err)

	assert.Equal(t, []string{"."}, cfg.Sources)
	assert.Equal(t, ".xsynth.db", cfg.DB)
	assert.True(t, cfg.Incremental)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 0, cfg.Workers)
	assert.Empty(t, cfg.Exclude)
	assert.Empty(t, cfg.Prelude)
	assert.False(t, cfg.ReadOnlyOutput)
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
sources = ["src", "lib/extra.xpy"]
db = "build/state.db"
incremental = false
workers = 4
exclude = ["gen/**"]
prelude = "prelude.risor"
read_only_output = true

[extensions]
xrb = "rb"

[watch]
debounce = "1s"
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"src", "lib/extra.xpy"}, cfg.Sources)
	assert.Equal(t, "build/state.db", cfg.DB)
	assert.False(t, cfg.Incremental)
	assert.True(t, cfg.Parallel)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"gen/**"}, cfg.Exclude)
	assert.Equal(t, "prelude.risor", cfg.Prelude)
	assert.True(t, cfg.ReadOnlyOutput)
	assert.Equal(t, map[string]string{"xrb": "rb"}, cfg.Extensions)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestLoad_NoFileInWorkingDirectory(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, ".xsynth.db", cfg.DB)
}

func TestLoad_FileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "xsynth.toml"), []byte(`db = "here.db"`), 0o644))
	chdir(t, dir)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "here.db", cfg.DB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `db = "file.db"`)
	t.Setenv("XSYNTH_DB", "env.db")
	t.Setenv("XSYNTH_WATCH_DEBOUNCE", "50ms")
	t.Setenv("XSYNTH_PARALLEL", "false")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.DB)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
	assert.False(t, cfg.Parallel)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, `db = [unterminated`)
	_, err := Load(New(), path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{DB: "x.db", Sources: []string{"."}}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty db", func(c *Config) { c.DB = " " }, "db must not be empty"},
		{"negative workers", func(c *Config) { c.Workers = -1 }, "workers"},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = -time.Second }, "watch.debounce"},
		{"bad glob", func(c *Config) { c.Exclude = []string{"[oops"} }, "exclude pattern"},
		{"empty extension", func(c *Config) { c.Extensions = map[string]string{"xrb": ""} }, "must not be empty"},
		{"identity extension", func(c *Config) { c.Extensions = map[string]string{"py": ".py"} }, "onto itself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
