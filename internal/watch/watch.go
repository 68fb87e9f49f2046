// Package watch re-synthesizes sources when they change on disk. Events
// are debounced, and every file that referenced a changed module is
// re-run along with it.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"

	"github.com/jward/xsynth"
)

// Engine is the part of *xsynth.Engine the watcher drives.
type Engine interface {
	Supported(path string) bool
	ProcessFiles(ctx context.Context, paths []string) (*xsynth.Report, error)
}

// Store is the part of the dependency store used to plan reruns.
type Store interface {
	Dependents(ctx context.Context, module string) ([]string, error)
	Forget(ctx context.Context, path string) error
}

// Watcher turns filesystem events into synthesis runs.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	engine    Engine
	store     Store
	debounce  time.Duration
	patterns  []string
	excludes  []glob.Glob
	logger    *slog.Logger
	onReport  func(*xsynth.Report, error)

	pending map[string]bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithExclude adds glob patterns for paths that never trigger a run.
// New fails if a pattern does not compile.
func WithExclude(patterns ...string) Option {
	return func(w *Watcher) {
		w.patterns = append(w.patterns, patterns...)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// OnReport registers a callback invoked after every run.
func OnReport(fn func(*xsynth.Report, error)) Option {
	return func(w *Watcher) {
		w.onReport = fn
	}
}

// New creates a Watcher. Call Run to start it.
func New(engine Engine, store Store, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		fsWatcher: fsw,
		engine:    engine,
		store:     store,
		debounce:  200 * time.Millisecond,
		logger:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		pending:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range w.patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch: exclude pattern %q: %w", p, err)
		}
		w.excludes = append(w.excludes, g)
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

// Run watches roots recursively until ctx is cancelled or the underlying
// watcher is closed. Roots are made absolute so event paths match the
// store's records.
func (w *Watcher) Run(ctx context.Context, roots ...string) error {
	roots, err := absPaths(roots)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := w.watchRecursive(root); err != nil {
			return err
		}
	}
	w.logger.Info("watching", "roots", roots)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.flush(ctx)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handle records a relevant event and reports whether a run is due.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				return false
			}
			return w.enqueueExisting(event.Name)
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if w.skipFile(event.Name) {
		return false
	}
	w.pending[event.Name] = true
	return true
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skipDir(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// enqueueExisting queues the sources of a directory that appeared after
// watching started (e.g. moved into place).
func (w *Watcher) enqueueExisting(dir string) bool {
	added := false
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.skipFile(path) {
			w.pending[path] = true
			added = true
		}
		return nil
	})
	return added
}

func (w *Watcher) skipDir(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || name == "__pycache__" || name == "node_modules" || strings.HasSuffix(name, "venv") {
		return true
	}
	return w.excluded(path)
}

func (w *Watcher) skipFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !w.engine.Supported(path) {
		return true
	}
	return w.excluded(path)
}

func (w *Watcher) excluded(path string) bool {
	slash := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, g := range w.excludes {
		if g.Match(slash) || g.Match(base) {
			return true
		}
	}
	return false
}

// flush runs synthesis for the pending paths and their dependents.
func (w *Watcher) flush(ctx context.Context) {
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	w.pending = make(map[string]bool)
	sort.Strings(changed)

	report, err := w.Sync(ctx, changed)
	if err != nil {
		w.logger.Error("watch run failed", "error", err)
	} else if report != nil {
		w.logger.Info("watch run finished",
			"processed", report.Processed, "skipped", report.Skipped, "failed", report.Failed)
	}
	if w.onReport != nil {
		w.onReport(report, err)
	}
}

// Sync processes changed paths and everything that depends on them.
// Relative paths are taken from the working directory. Removed sources
// have their records forgotten so dependents fail with an unknown module
// instead of using stale values.
func (w *Watcher) Sync(ctx context.Context, changed []string) (*xsynth.Report, error) {
	changed, err := absPaths(changed)
	if err != nil {
		return nil, err
	}
	for _, p := range changed {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := w.store.Forget(ctx, p); err != nil {
			return nil, err
		}
		w.logger.Info("source removed", "file", p)
	}

	plan, err := Plan(ctx, w.store, changed)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, p := range plan {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return w.engine.ProcessFiles(ctx, paths)
}

// Plan returns changed plus every recorded file that transitively
// references one of their modules, sorted and deduplicated.
func Plan(ctx context.Context, store Store, changed []string) ([]string, error) {
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	queue := append([]string(nil), changed...)
	for _, p := range changed {
		seen[p] = true
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		mod := xsynth.ModuleName(p)
		if visited[mod] {
			continue
		}
		visited[mod] = true

		deps, err := store.Dependents(ctx, mod)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}

	plan := make([]string, 0, len(seen))
	for p := range seen {
		plan = append(plan, p)
	}
	sort.Strings(plan)
	return plan, nil
}

func absPaths(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		out[i] = abs
	}
	return out, nil
}
