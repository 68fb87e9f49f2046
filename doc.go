// Package xsynth is a line-oriented source preprocessor. Source files
// (.xpy, .xjs, ...) carry "#$define NAME value" directive lines and
// $NAME$ substitution markers; xsynth writes the derived host-language
// files (.py, .js) and records per-file dependency state in SQLite so
// repeated runs skip unchanged files and resolve cross-file references.
//
// # Markers
//
// A marker is $name$, $'name$ or $"name$. The quoted forms wrap the value
// in single or double quotes. A name may be qualified with a module,
// $module.name$, where the module is another source file's base name
// without extension. Markers are resolved left to right and substituted
// values are never rescanned.
//
// Unqualified names resolve against the file's own definitions, then the
// built-ins: __module__, __file__, __class_name__ and __def_name__ (the
// enclosing class or function found with tree-sitter), plus any values
// returned by the optional Risor prelude script.
//
// # Usage
//
//	e, err := xsynth.New("xsynth.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	report, err := e.ProcessDirectory(ctx, "src")
//	if err != nil { ... } // storage failure or cancellation
//	if err := report.Err(); err != nil { ... } // per-file failures
//
// # Ordering
//
// [Engine.ProcessFiles] pre-scans the batch for $module.name$ markers,
// builds a dependency graph, and processes it level by level. Files in
// one level are synthesized in parallel; records are committed by a
// single goroutine. A qualified reference only sees committed records, so
// a file whose dependency failed or was never processed fails with an
// unknown module error. Files on a dependency cycle fail without being
// processed.
//
// # Incremental runs
//
// With incremental mode on (the default) a file is skipped when its
// content fingerprint matches its record, its output exists, and none of
// the modules it references were reprocessed after it.
package xsynth
