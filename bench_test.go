package xsynth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	synthrt "github.com/jward/xsynth/internal/runtime"
	"github.com/jward/xsynth/internal/synth"
)

// benchPythonSource is a realistic source file with definitions, quoted
// and qualified markers, and class/def built-ins.
const benchPythonSource = `#$define TABLE users
#$define FIELDS id, username, email, created_at
#$define VERSION 2.4.1
import sqlite3


class Repository:
    table = $'TABLE$

    def __init__(self, conn):
        self.conn = conn

    def columns(self):
        return [$"FIELDS$]

    def fetch(self, user_id):
        cur = self.conn.execute(
            "SELECT $FIELDS$ FROM $TABLE$ WHERE id = ?", (user_id,)
        )
        return cur.fetchone()

    def describe(self):
        return "$__class_name__$.$__def_name__$ v$VERSION$ ($consts.APP$)"


def main():
    repo = Repository(sqlite3.connect(":memory:"))
    print(repo.describe(), $'__module__$)
`

// setupBenchTree writes n modules that each reference a shared consts
// module.
func setupBenchTree(b *testing.B, n int) (string, []string) {
	b.Helper()
	dir := b.TempDir()
	paths := []string{filepath.Join(dir, "consts.xpy")}
	if err := os.WriteFile(paths[0], []byte("#$define APP bench\n"), 0o644); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("repo%03d.xpy", i))
		src := strings.ReplaceAll(benchPythonSource, "Repository", fmt.Sprintf("Repository%d", i))
		if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
			b.Fatal(err)
		}
		paths = append(paths, p)
	}
	return dir, paths
}

func benchmarkProcessFiles(b *testing.B, parallel bool) {
	ctx := context.Background()
	dir, paths := setupBenchTree(b, 50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		dbPath := filepath.Join(dir, fmt.Sprintf("bench%d.db", i))
		e, err := New(dbPath, WithParallel(parallel))
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
		report, err := e.ProcessFiles(ctx, paths)
		if err != nil {
			e.Close()
			b.Fatal(err)
		}
		if err := report.Err(); err != nil {
			e.Close()
			b.Fatal(err)
		}
		b.StopTimer()
		e.Close()
		b.StartTimer()
	}
}

// BenchmarkProcessFiles_Parallel measures a cold run over 51 files with
// the worker pool.
func BenchmarkProcessFiles_Parallel(b *testing.B) {
	benchmarkProcessFiles(b, true)
}

// BenchmarkProcessFiles_Serial measures the same run on one goroutine.
func BenchmarkProcessFiles_Serial(b *testing.B) {
	benchmarkProcessFiles(b, false)
}

// BenchmarkProcessFiles_Incremental measures a warm run where every file
// is skipped by the staleness check.
func BenchmarkProcessFiles_Incremental(b *testing.B) {
	ctx := context.Background()
	dir, paths := setupBenchTree(b, 50)
	e, err := New(filepath.Join(dir, "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()
	if _, err := e.ProcessFiles(ctx, paths); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		report, err := e.ProcessFiles(ctx, paths)
		if err != nil {
			b.Fatal(err)
		}
		if report.Skipped != len(paths) {
			b.Fatalf("skipped %d of %d", report.Skipped, len(paths))
		}
	}
}

// BenchmarkSynthesize measures the per-file pipeline without the store.
func BenchmarkSynthesize(b *testing.B) {
	src := []byte(strings.ReplaceAll(benchPythonSource, "$consts.APP$", "bench"))
	e, err := New(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		builtins, err := e.runtime.Builtins(context.Background(), synthrt.FileInfo{
			Path: "bench.xpy", Module: "bench", SourceExt: ".xpy", TargetExt: ".py", Content: src,
		})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := synth.Synthesize(synth.Input{Path: "bench.xpy", Content: src, Builtins: builtins}); err != nil {
			b.Fatal(err)
		}
	}
}
