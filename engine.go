package xsynth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	synthrt "github.com/jward/xsynth/internal/runtime"
	"github.com/jward/xsynth/internal/store"
	"github.com/jward/xsynth/internal/synth"
)

// preludeHashKey is the metadata key holding the hash of the prelude used
// to build the current outputs.
const preludeHashKey = "prelude_hash"

// DefaultExtensions maps source extensions to the extension of the
// generated host-language file.
var DefaultExtensions = map[string]string{
	".xpy": ".py",
	".xjs": ".js",
}

// Engine orchestrates synthesis: discovery, change detection, dependency
// ordering, per-file synthesis, output writing, and dependency recording.
type Engine struct {
	store   *store.Store
	runtime *synthrt.Runtime
	logger  *slog.Logger

	extensions  map[string]string
	excludes    []string
	excludeGlob []glob.Glob
	prelude     string

	incremental bool
	parallel    bool
	workers     int
	readOnly    bool
	force       bool

	// preludeChanged forces a full rebuild until the next finished run
	// records the current prelude hash.
	preludeChanged bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithIncremental controls the staleness check. When true (default),
// files whose fingerprint matches their record, whose output exists, and
// whose dependencies have not been reprocessed since are skipped.
func WithIncremental(incremental bool) Option {
	return func(e *Engine) {
		e.incremental = incremental
	}
}

// WithParallel controls parallel synthesis. When true (default), files in
// the same dependency level are synthesized by a worker pool while a
// single committer records results. Set to false for serial mode.
func WithParallel(parallel bool) Option {
	return func(e *Engine) {
		e.parallel = parallel
	}
}

// WithWorkers sets the worker pool size. Values below 1 mean
// runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithExtensions adds or overrides source → output extension mappings.
func WithExtensions(exts map[string]string) Option {
	return func(e *Engine) {
		for src, dst := range exts {
			e.extensions[normalizeExt(src)] = normalizeExt(dst)
		}
	}
}

// WithExclude adds glob patterns (gobwas/glob syntax, '/' separated)
// matched against paths relative to the discovery root.
func WithExclude(patterns ...string) Option {
	return func(e *Engine) {
		e.excludes = append(e.excludes, patterns...)
	}
}

// WithPrelude sets a Risor script whose returned map supplies extra
// built-in symbols for every file.
func WithPrelude(path string) Option {
	return func(e *Engine) {
		e.prelude = path
	}
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithReadOnlyOutput marks generated files read-only so they are not
// edited by hand.
func WithReadOnlyOutput(readOnly bool) Option {
	return func(e *Engine) {
		e.readOnly = readOnly
	}
}

// WithForce reprocesses every file regardless of its record.
func WithForce(force bool) Option {
	return func(e *Engine) {
		e.force = force
	}
}

// New creates an Engine backed by a SQLite database at dbPath.
// store.MemoryPath keeps the dependency records in memory.
func New(dbPath string, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:      slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
		extensions:  maps.Clone(DefaultExtensions),
		incremental: true,
		parallel:    true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = runtime.NumCPU()
	}

	for _, p := range e.excludes {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("xsynth: exclude pattern %q: %w", p, err)
		}
		e.excludeGlob = append(e.excludeGlob, g)
	}

	rt, err := synthrt.NewRuntime(synthrt.WithPrelude(e.prelude), synthrt.WithRuntimeLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("xsynth: load prelude: %w", err)
	}
	e.runtime = rt

	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("xsynth: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("xsynth: migrate: %w", err)
	}
	e.store = s

	stored, err := s.GetMetadata(context.Background(), preludeHashKey)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("xsynth: read metadata: %w", err)
	}
	e.preludeChanged = stored != rt.PreludeHash()
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// OutputPath returns the generated file path for a source path, or false
// when the extension is not a known source extension.
func (e *Engine) OutputPath(path string) (string, bool) {
	ext := filepath.Ext(path)
	target, ok := e.extensions[ext]
	if !ok {
		return "", false
	}
	return strings.TrimSuffix(path, ext) + target, true
}

// Supported reports whether path has a known source extension.
func (e *Engine) Supported(path string) bool {
	_, ok := e.extensions[filepath.Ext(path)]
	return ok
}

// ModuleName returns the module name of a source file: its base name
// without extension.
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Status is the outcome of one file in a run.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// FileResult describes what happened to one source file.
type FileResult struct {
	Path              string
	OutputPath        string
	Module            string
	Status            Status
	Symbols           int
	ReferencedModules []string
	Warnings          []*synth.Error
	Err               error
}

// Report summarizes a run. Results are sorted by path.
type Report struct {
	RunID     string
	Results   []*FileResult
	Processed int
	Skipped   int
	Failed    int
}

func (r *Report) add(res *FileResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusProcessed:
		r.Processed++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
}

// Err returns an error describing the failed files, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("xsynth: synthesis had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// workItem holds everything needed to synthesize one file.
type workItem struct {
	path        string
	module      string
	outputPath  string
	sourceExt   string
	targetExt   string
	content     []byte
	fingerprint string
	uses        []string // modules referenced by qualified markers (pre-scan)
}

func (it *workItem) result(status Status) *FileResult {
	return &FileResult{
		Path:       it.path,
		OutputPath: it.outputPath,
		Module:     it.module,
		Status:     status,
	}
}

func (it *workItem) failed(err error) *FileResult {
	res := it.result(StatusFailed)
	res.Err = err
	return res
}

// ProcessFile synthesizes a single file. The returned error is the file's
// failure, if any, or a storage error that aborted the run.
func (e *Engine) ProcessFile(ctx context.Context, path string) (*FileResult, error) {
	report, err := e.ProcessFiles(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	res := report.Results[0]
	return res, res.Err
}

// ProcessFiles synthesizes the given source files. Files are pre-scanned
// for qualified references and processed in dependency order; files in a
// cycle fail with a dependency cycle error. Per-file failures are
// collected in the Report. A storage error or context cancellation aborts
// the run and is returned alongside the partial Report.
func (e *Engine) ProcessFiles(ctx context.Context, paths []string) (*Report, error) {
	run, err := e.store.BeginRun(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: run.ID}
	log := e.logger.With("run", run.ID)
	start := time.Now()

	var items []*workItem
	for _, path := range normalizePaths(paths) {
		item, err := e.prepare(path)
		if err != nil {
			log.Error("synthesis failed", "file", path, "error", err)
			report.add(&FileResult{Path: path, Module: ModuleName(path), Status: StatusFailed, Err: err})
			continue
		}
		items = append(items, item)
	}

	levels, cycles := buildGraph(items).schedule()
	for _, cycle := range cycles {
		if err := e.failCycle(ctx, items, cycle, report, log); err != nil {
			return e.finish(report), err
		}
	}
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return e.finish(report), err
		}
		batch := make([]*workItem, len(level))
		for i, idx := range level {
			batch[i] = items[idx]
		}
		if err := e.processLevel(ctx, run.ID, batch, report, log); err != nil {
			return e.finish(report), err
		}
	}

	e.finish(report)
	run.Processed, run.Skipped, run.Failed = report.Processed, report.Skipped, report.Failed
	if err := e.store.FinishRun(ctx, run); err != nil {
		return report, err
	}
	if e.preludeChanged {
		if err := e.store.SetMetadata(ctx, preludeHashKey, e.runtime.PreludeHash()); err != nil {
			return report, err
		}
		e.preludeChanged = false
	}
	log.Info("run finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
	return report, nil
}

// ProcessDirectory discovers source files under roots and synthesizes
// them. Records of files under roots that were not discovered (deleted,
// moved, or now excluded) are forgotten first.
func (e *Engine) ProcessDirectory(ctx context.Context, roots ...string) (*Report, error) {
	paths, err := e.Discover(roots...)
	if err != nil {
		return nil, err
	}
	if err := e.prune(ctx, roots, paths); err != nil {
		return nil, err
	}
	return e.ProcessFiles(ctx, paths)
}

// prune forgets recorded paths under roots that are not in found.
func (e *Engine) prune(ctx context.Context, roots, found []string) error {
	keep := make(map[string]bool, len(found))
	for _, p := range found {
		keep[p] = true
	}
	abs := normalizePaths(roots)

	recorded, err := e.store.Paths(ctx)
	if err != nil {
		return err
	}
	for _, p := range recorded {
		if keep[p] || !underAny(p, abs) {
			continue
		}
		if err := e.store.Forget(ctx, p); err != nil {
			return err
		}
		e.logger.Info("source removed", "file", p)
	}
	return nil
}

// underAny reports whether path is one of roots or inside one of them.
func underAny(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

func (e *Engine) finish(r *Report) *Report {
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].Path < r.Results[j].Path })
	return r
}

// prepare reads and fingerprints one file and pre-scans it for qualified
// references.
func (e *Engine) prepare(path string) (*workItem, error) {
	ext := filepath.Ext(path)
	out, ok := e.OutputPath(path)
	if !ok {
		return nil, fmt.Errorf("xsynth: %s: unsupported extension %q", path, ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("xsynth: read file: %w", err)
	}
	return &workItem{
		path:        path,
		module:      ModuleName(path),
		outputPath:  out,
		sourceExt:   ext,
		targetExt:   filepath.Ext(out),
		content:     content,
		fingerprint: store.Fingerprint(content),
		uses:        synth.QualifiedModules(content),
	}, nil
}

// failCycle fails every file of a dependency cycle and forgets their
// records so files depending on them see an unknown module.
func (e *Engine) failCycle(ctx context.Context, items []*workItem, cycle []int, report *Report, log *slog.Logger) error {
	names := make([]string, len(cycle))
	for i, idx := range cycle {
		names[i] = items[idx].module
	}
	chain := strings.Join(append(names, names[0]), " -> ")
	for _, idx := range cycle {
		it := items[idx]
		if err := e.store.Forget(ctx, it.path); err != nil {
			return err
		}
		err := &synth.Error{
			Kind: synth.KindDependencyCycle,
			File: it.path,
			Msg:  "dependency cycle: " + chain,
		}
		log.Error("synthesis failed", "file", it.path, "error", err)
		report.add(it.failed(err))
	}
	return nil
}

// upToDate reports whether it can be skipped: its fingerprint matches the
// record, the recorded output still exists, and every module it referenced
// resolves to a single record processed no later than this one.
func (e *Engine) upToDate(ctx context.Context, it *workItem) (bool, error) {
	if !e.incremental || e.force || e.preludeChanged {
		return false, nil
	}
	stale, err := e.store.IsStale(ctx, it.path, it.fingerprint)
	if err != nil || stale {
		return false, err
	}
	rec, err := e.store.Lookup(ctx, it.path)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.OutputPath != it.outputPath {
		return false, nil
	}
	if _, err := os.Stat(it.outputPath); err != nil {
		return false, nil
	}
	for _, mod := range rec.ReferencedModules {
		deps, err := e.store.RecordsByModule(ctx, mod)
		if err != nil {
			return false, err
		}
		if len(deps) != 1 || deps[0].LastProcessed.After(rec.LastProcessed) {
			return false, nil
		}
	}
	return true, nil
}

// synthesize runs the pipeline for one file and writes its output. It
// does not touch the store except for qualified lookups.
func (e *Engine) synthesize(ctx context.Context, it *workItem) (*synth.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	builtins, err := e.runtime.Builtins(ctx, synthrt.FileInfo{
		Path:      it.path,
		Module:    it.module,
		SourceExt: it.sourceExt,
		TargetExt: it.targetExt,
		Content:   it.content,
	})
	if err != nil {
		return nil, &synth.Error{Kind: synth.KindPrelude, File: it.path, Msg: "computing built-ins", Err: err}
	}

	out, err := synth.Synthesize(synth.Input{
		Path:     it.path,
		Content:  it.content,
		Modules:  &storeModules{ctx: ctx, store: e.store},
		Builtins: builtins,
	})
	if err != nil {
		return nil, err
	}
	if err := e.writeOutput(it.outputPath, out.Content); err != nil {
		return nil, fmt.Errorf("xsynth: write %s: %w", it.outputPath, err)
	}
	return out, nil
}

// writeOutput replaces path atomically: content goes to a temporary file
// in the same directory which is then renamed over path.
func (e *Engine) writeOutput(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if e.readOnly {
		mode = 0o444
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// commit records a successfully synthesized file.
func (e *Engine) commit(ctx context.Context, runID string, it *workItem, out *synth.Output) (*FileResult, error) {
	rec := &store.Record{
		Path:              it.path,
		Module:            it.module,
		OutputPath:        it.outputPath,
		Fingerprint:       it.fingerprint,
		RunID:             runID,
		LastProcessed:     time.Now(),
		ReferencedModules: out.ReferencedModules,
	}
	for _, sym := range out.Table.Symbols() {
		rec.Symbols = append(rec.Symbols, store.SymbolRecord{Name: sym.Name, Value: sym.Value, Line: sym.Line})
	}
	if err := e.store.Record(ctx, rec); err != nil {
		return nil, err
	}

	res := it.result(StatusProcessed)
	res.Symbols = len(rec.Symbols)
	res.ReferencedModules = out.ReferencedModules
	res.Warnings = out.Warnings
	return res, nil
}

// storeModules resolves qualified references against committed records.
type storeModules struct {
	ctx   context.Context
	store *store.Store
}

func (m *storeModules) ResolveQualified(module, name string) (string, error) {
	recs, err := m.store.RecordsByModule(m.ctx, module)
	if err != nil {
		return "", err
	}
	switch len(recs) {
	case 0:
		return "", synth.Errorf(synth.KindUnknownModule, "module %q has not been processed", module)
	case 1:
	default:
		paths := make([]string, len(recs))
		for i, r := range recs {
			paths[i] = r.Path
		}
		return "", synth.Errorf(synth.KindUnknownModule, "module %q is ambiguous: %s", module, strings.Join(paths, ", "))
	}

	sym, err := m.store.Symbol(m.ctx, recs[0].ID, name)
	if errors.Is(err, store.ErrNotFound) {
		return "", synth.Errorf(synth.KindUnknownSymbol, "module %q does not define %q", module, name)
	}
	if err != nil {
		return "", err
	}
	return sym.Value, nil
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

// normalizePaths makes paths absolute and drops duplicates, keeping order.
func normalizePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		} else {
			p = filepath.Clean(p)
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
