package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pythonSource = `import os

class Greeter:
    def greet(self, name):
        return "hi " + name

    def wave(self):
        pass

def main():
    Greeter().greet("x")
`

const javascriptSource = `class Widget {
  render() {
    return 1;
  }
}

function build() {
  return new Widget();
}

function* ids() {
  yield 1;
}
`

// =============================================================================
// Definitions
// =============================================================================

func TestDefinitions_Python(t *testing.T) {
	t.Parallel()
	defs, err := Definitions(context.Background(), []byte(pythonSource), "python")
	require.NoError(t, err)

	assert.Equal(t, []Definition{
		{Kind: DefClass, Name: "Greeter", Line: 3},
		{Kind: DefFunction, Name: "greet", Line: 4},
		{Kind: DefFunction, Name: "wave", Line: 7},
		{Kind: DefFunction, Name: "main", Line: 10},
	}, defs)
}

func TestDefinitions_JavaScript(t *testing.T) {
	t.Parallel()
	defs, err := Definitions(context.Background(), []byte(javascriptSource), "javascript")
	require.NoError(t, err)

	assert.Equal(t, []Definition{
		{Kind: DefClass, Name: "Widget", Line: 1},
		{Kind: DefFunction, Name: "render", Line: 2},
		{Kind: DefFunction, Name: "build", Line: 7},
		{Kind: DefFunction, Name: "ids", Line: 11},
	}, defs)
}

func TestDefinitions_ToleratesMarkersAndDirectives(t *testing.T) {
	t.Parallel()
	src := "#$ define X 1\nclass Foo:\n    def bar(self):\n        return \"$X$\"\n"
	defs, err := Definitions(context.Background(), []byte(src), "python")
	require.NoError(t, err)

	require.Len(t, defs, 2)
	assert.Equal(t, "Foo", defs[0].Name)
	assert.Equal(t, 2, defs[0].Line)
	assert.Equal(t, "bar", defs[1].Name)
}

func TestDefinitions_UnsupportedLanguage(t *testing.T) {
	t.Parallel()
	_, err := Definitions(context.Background(), []byte("x"), "cobol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestLanguageForTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ext  string
		lang string
		ok   bool
	}{
		{".py", "python", true},
		{".js", "javascript", true},
		{".mjs", "javascript", true},
		{".txt", "", false},
	}
	for _, tt := range tests {
		lang, ok := LanguageForTarget(tt.ext)
		assert.Equal(t, tt.ok, ok, tt.ext)
		assert.Equal(t, tt.lang, lang, tt.ext)
	}
}

// =============================================================================
// Builtins
// =============================================================================

func TestBuiltins_Sticky(t *testing.T) {
	t.Parallel()
	defs := []Definition{
		{Kind: DefClass, Name: "A", Line: 3},
		{Kind: DefFunction, Name: "f", Line: 4},
		{Kind: DefFunction, Name: "g", Line: 9},
	}
	b := NewBuiltins(nil, defs)

	_, ok := b.Builtin(BuiltinClassName, 2)
	assert.False(t, ok, "no class above line 2")

	v, ok := b.Builtin(BuiltinClassName, 3)
	require.True(t, ok)
	assert.Equal(t, "A", v)

	v, ok = b.Builtin(BuiltinDefName, 8)
	require.True(t, ok)
	assert.Equal(t, "f", v, "def name persists after the block ends")

	v, ok = b.Builtin(BuiltinDefName, 100)
	require.True(t, ok)
	assert.Equal(t, "g", v)

	v, ok = b.Builtin(BuiltinClassName, 100)
	require.True(t, ok)
	assert.Equal(t, "A", v)
}

func TestBuiltins_StaticValues(t *testing.T) {
	t.Parallel()
	values := map[string]string{BuiltinModule: "m", "VERSION": "2"}
	b := NewBuiltins(values, nil)
	values["VERSION"] = "changed"

	v, ok := b.Builtin("VERSION", 1)
	require.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = b.Builtin("missing", 1)
	assert.False(t, ok)

	assert.Equal(t, []string{"VERSION", BuiltinModule}, b.Names())
}

// =============================================================================
// Runtime
// =============================================================================

func TestRuntime_BuiltinsWithoutPrelude(t *testing.T) {
	t.Parallel()
	rt, err := NewRuntime()
	require.NoError(t, err)
	assert.Empty(t, rt.PreludeHash())

	b, err := rt.Builtins(context.Background(), FileInfo{
		Path:      "/src/pkg/greeter.xpy",
		Module:    "greeter",
		SourceExt: ".xpy",
		TargetExt: ".py",
		Content:   []byte(pythonSource),
	})
	require.NoError(t, err)

	v, ok := b.Builtin(BuiltinModule, 1)
	require.True(t, ok)
	assert.Equal(t, "greeter", v)

	v, ok = b.Builtin(BuiltinFile, 1)
	require.True(t, ok)
	assert.Equal(t, "greeter.xpy", v)

	v, ok = b.Builtin(BuiltinDefName, 5)
	require.True(t, ok)
	assert.Equal(t, "greet", v)
}

func TestRuntime_UnknownTargetHasNoDefinitions(t *testing.T) {
	t.Parallel()
	rt, err := NewRuntime()
	require.NoError(t, err)

	b, err := rt.Builtins(context.Background(), FileInfo{
		Path:      "notes.xtxt",
		Module:    "notes",
		TargetExt: ".txt",
		Content:   []byte("class Foo:\n"),
	})
	require.NoError(t, err)

	_, ok := b.Builtin(BuiltinClassName, 1)
	assert.False(t, ok)
}

func TestRuntime_PreludeFromDisk(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prelude.risor")
	script := `{"BANNER": "generated from " + module, "EXT": target_ext, "COUNT": 3}`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	rt, err := NewRuntime(WithPrelude(path))
	require.NoError(t, err)
	assert.Len(t, rt.PreludeHash(), 64)

	b, err := rt.Builtins(context.Background(), FileInfo{
		Path: "a.xpy", Module: "a", SourceExt: ".xpy", TargetExt: ".py",
	})
	require.NoError(t, err)

	v, ok := b.Builtin("BANNER", 1)
	require.True(t, ok)
	assert.Equal(t, "generated from a", v)

	v, ok = b.Builtin("EXT", 1)
	require.True(t, ok)
	assert.Equal(t, ".py", v)

	v, ok = b.Builtin("COUNT", 1)
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestRuntime_PreludeFromFS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"scripts/prelude.risor": {Data: []byte(`{"WHO": file_path}`)},
	}
	rt, err := NewRuntime(WithRuntimeFS(fsys), WithPrelude("/scripts/prelude.risor"))
	require.NoError(t, err)

	b, err := rt.Builtins(context.Background(), FileInfo{Path: "x/y.xjs", Module: "y"})
	require.NoError(t, err)
	v, ok := b.Builtin("WHO", 1)
	require.True(t, ok)
	assert.Equal(t, "x/y.xjs", v)
}

func TestRuntime_PreludeNilResult(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"p.risor": {Data: []byte(`nil`)}}
	rt, err := NewRuntime(WithRuntimeFS(fsys), WithPrelude("p.risor"))
	require.NoError(t, err)

	b, err := rt.Builtins(context.Background(), FileInfo{Path: "a.xpy", Module: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{BuiltinFile, BuiltinModule}, b.Names())
}

func TestRuntime_PreludeMustReturnMap(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"p.risor": {Data: []byte(`42`)}}
	rt, err := NewRuntime(WithRuntimeFS(fsys), WithPrelude("p.risor"))
	require.NoError(t, err)

	_, err = rt.Builtins(context.Background(), FileInfo{Path: "a.xpy", Module: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must evaluate to a map")
}

func TestRuntime_PreludeMissing(t *testing.T) {
	t.Parallel()
	_, err := NewRuntime(WithPrelude(filepath.Join(t.TempDir(), "nope.risor")))
	require.Error(t, err)
}

func TestRuntime_PreludeHashChangesWithSource(t *testing.T) {
	t.Parallel()
	a, err := NewRuntime(WithRuntimeFS(fstest.MapFS{"p.risor": {Data: []byte(`{}`)}}), WithPrelude("p.risor"))
	require.NoError(t, err)
	b, err := NewRuntime(WithRuntimeFS(fstest.MapFS{"p.risor": {Data: []byte(`{"A": "1"}`)}}), WithPrelude("p.risor"))
	require.NoError(t, err)
	assert.NotEqual(t, a.PreludeHash(), b.PreludeHash())
}
