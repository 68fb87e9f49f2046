package xsynth

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":          true,
	".pytest_cache": true,
	"__pycache__":   true,
	"node_modules":  true,
}

// skipFiles are file names never treated as sources.
var skipFiles = map[string]bool{
	".DS_Store": true,
}

// Discover returns the source files under roots, sorted and deduplicated.
// A root may also name a single file. Inside a git work tree, git
// ls-files is used so .gitignore is respected; otherwise the tree is
// walked, skipping hidden and tool directories, virtualenvs, symlinks,
// and configured excludes.
func (e *Engine) Discover(roots ...string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("xsynth: discover: %w", err)
		}
		if !info.IsDir() {
			if e.Supported(root) {
				add(root)
			}
			continue
		}

		found, err := e.gitListFiles(root)
		if err != nil {
			found, err = e.walkListFiles(root)
			if err != nil {
				return nil, err
			}
		}
		for _, p := range found {
			add(p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// gitListFiles uses git ls-files to list tracked and untracked (but not
// ignored) files under root.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		rel := strings.TrimSpace(line)
		if rel == "" || e.ignored(rel) {
			continue
		}
		path := filepath.Join(root, rel)
		if info, err := os.Lstat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used when git
// is not available.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDir(d.Name()) || e.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !e.ignored(rel) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("xsynth: walk directory: %w", err)
	}
	return paths, nil
}

// ignored reports whether the slash-separated relative path rel should be
// left out: unsupported extension, ignored file or directory, or excluded.
func (e *Engine) ignored(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if skipDir(dir) {
			return true
		}
	}
	name := parts[len(parts)-1]
	if skipFiles[name] || strings.HasSuffix(name, ".pyc") {
		return true
	}
	if !e.Supported(name) {
		return true
	}
	return e.excluded(rel)
}

// excluded matches rel and its base name against the exclude globs.
func (e *Engine) excluded(rel string) bool {
	base := filepath.Base(rel)
	for _, g := range e.excludeGlob {
		if g.Match(rel) || g.Match(base) {
			return true
		}
	}
	return false
}

func skipDir(name string) bool {
	return skipDirs[name] || strings.HasPrefix(name, ".") || strings.HasSuffix(name, "venv")
}
