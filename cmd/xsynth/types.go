package main

import (
	"context"
	"errors"
	"time"

	"github.com/jward/xsynth"
	"github.com/jward/xsynth/internal/store"
	"github.com/jward/xsynth/internal/synth"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIReport is a JSON-friendly run report.
type CLIReport struct {
	RunID     string          `json:"run_id"`
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Files     []CLIFileResult `json:"files"`
}

// CLIFileResult is the outcome of one file.
type CLIFileResult struct {
	Path     string          `json:"path"`
	Output   string          `json:"output,omitempty"`
	Module   string          `json:"module"`
	Status   string          `json:"status"`
	Symbols  int             `json:"symbols"`
	Modules  []string        `json:"referenced_modules,omitempty"`
	Warnings []CLIDiagnostic `json:"warnings,omitempty"`
	Error    *CLIDiagnostic  `json:"error,omitempty"`
}

// CLIDiagnostic is an error or warning tied to a source location.
type CLIDiagnostic struct {
	Kind    string `json:"kind,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// CLIRecord is a JSON-friendly dependency record.
type CLIRecord struct {
	Path          string    `json:"path"`
	Module        string    `json:"module"`
	Output        string    `json:"output"`
	Fingerprint   string    `json:"fingerprint"`
	RunID         string    `json:"run_id"`
	LastProcessed time.Time `json:"last_processed"`
	Symbols       []string  `json:"symbols"`
	Modules       []string  `json:"referenced_modules"`
}

// CLIRun summarizes a recorded run.
type CLIRun struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
}

// CLIStatus is the result of the status command.
type CLIStatus struct {
	LastRun *CLIRun     `json:"last_run,omitempty"`
	Records []CLIRecord `json:"records"`
}

func toCLIReport(r *xsynth.Report) CLIReport {
	out := CLIReport{
		RunID:     r.RunID,
		Processed: r.Processed,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Files:     make([]CLIFileResult, 0, len(r.Results)),
	}
	for _, res := range r.Results {
		fr := CLIFileResult{
			Path:    res.Path,
			Output:  res.OutputPath,
			Module:  res.Module,
			Status:  string(res.Status),
			Symbols: res.Symbols,
			Modules: res.ReferencedModules,
		}
		for _, w := range res.Warnings {
			fr.Warnings = append(fr.Warnings, toDiagnostic(w))
		}
		if res.Err != nil {
			d := toDiagnostic(res.Err)
			fr.Error = &d
		}
		out.Files = append(out.Files, fr)
	}
	return out
}

func toDiagnostic(err error) CLIDiagnostic {
	se, ok := synth.AsError(err)
	if !ok {
		return CLIDiagnostic{Message: err.Error()}
	}
	msg := se.Msg
	if se.Err != nil {
		msg += ": " + se.Err.Error()
	}
	return CLIDiagnostic{
		Kind:    string(se.Kind),
		File:    se.File,
		Line:    se.Line,
		Column:  se.Column,
		Message: msg,
	}
}

func loadStatus(ctx context.Context, s *store.Store) (CLIStatus, error) {
	status := CLIStatus{Records: []CLIRecord{}}

	run, err := s.LastRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return status, err
	default:
		status.LastRun = &CLIRun{
			ID:         run.ID,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Processed:  run.Processed,
			Skipped:    run.Skipped,
			Failed:     run.Failed,
		}
	}

	recs, err := s.Records(ctx)
	if err != nil {
		return status, err
	}
	for _, r := range recs {
		status.Records = append(status.Records, CLIRecord{
			Path:          r.Path,
			Module:        r.Module,
			Output:        r.OutputPath,
			Fingerprint:   r.Fingerprint,
			RunID:         r.RunID,
			LastProcessed: r.LastProcessed,
			Symbols:       r.SymbolNames(),
			Modules:       r.ReferencedModules,
		})
	}
	return status, nil
}
