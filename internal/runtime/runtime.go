package runtime

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/object"
)

// Runtime computes the built-in symbols of a source file: fixed names,
// tree-sitter derived class/def names, and values returned by an optional
// Risor prelude script.
type Runtime struct {
	preludePath string
	prelude     string
	fsys        fs.FS
	logger      *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithPrelude sets the path of a Risor script evaluated once per file.
// The script must evaluate to a map (or nil); each entry becomes a
// built-in symbol.
func WithPrelude(path string) RuntimeOption {
	return func(r *Runtime) {
		r.preludePath = path
	}
}

// WithRuntimeFS loads the prelude from fsys instead of from disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger exposed to the prelude as `log`.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime and loads the prelude, if configured.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.preludePath != "" {
		src, err := r.LoadScript(r.preludePath)
		if err != nil {
			return nil, err
		}
		r.prelude = src
	}
	return r, nil
}

// LoadScript reads a .risor file and returns its source code.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", path, err)
	}
	return string(data), nil
}

// PreludeHash returns a hex SHA-256 of the prelude source, or "" when no
// prelude is configured. Changing the prelude invalidates every output.
func (r *Runtime) PreludeHash() string {
	if r.prelude == "" {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(r.prelude)))
}

// FileInfo describes the file whose built-ins are requested.
type FileInfo struct {
	Path      string
	Module    string
	SourceExt string
	TargetExt string
	Content   []byte
}

// Builtins computes the built-in symbols for one file.
func (r *Runtime) Builtins(ctx context.Context, fi FileInfo) (*Builtins, error) {
	values := map[string]string{
		BuiltinModule: fi.Module,
		BuiltinFile:   filepath.Base(fi.Path),
	}
	if r.prelude != "" {
		extra, err := r.evalPrelude(ctx, fi)
		if err != nil {
			return nil, err
		}
		for k, v := range extra {
			values[k] = v
		}
	}

	var defs []Definition
	if lang, ok := LanguageForTarget(fi.TargetExt); ok {
		var err error
		defs, err = Definitions(ctx, fi.Content, lang)
		if err != nil {
			return nil, err
		}
	}
	return NewBuiltins(values, defs), nil
}

func (r *Runtime) evalPrelude(ctx context.Context, fi FileInfo) (map[string]string, error) {
	globals := map[string]any{
		"module":     fi.Module,
		"file_path":  fi.Path,
		"source_ext": fi.SourceExt,
		"target_ext": fi.TargetExt,
		"log":        mustProxy(&logObject{logger: r.logger, file: fi.Path}),
	}
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	sort.Strings(names)

	var opts []risor.Option
	for _, name := range names {
		opts = append(opts, risor.WithGlobal(name, globals[name]))
	}

	result, err := risor.Eval(ctx, r.prelude, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: prelude %s: %w", r.preludePath, err)
	}
	return preludeValues(result)
}

// preludeValues converts the prelude result into built-in values. Strings
// are used verbatim; other values use their Risor inspection form.
func preludeValues(result object.Object) (map[string]string, error) {
	if result == nil || result == object.Nil {
		return nil, nil
	}
	m, ok := result.(*object.Map)
	if !ok {
		return nil, fmt.Errorf("runtime: prelude must evaluate to a map, got %s", result.Type())
	}
	values := make(map[string]string, len(m.Value()))
	for k, v := range m.Value() {
		if s, ok := v.(*object.String); ok {
			values[k] = s.Value()
			continue
		}
		values[k] = v.Inspect()
	}
	return values, nil
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
