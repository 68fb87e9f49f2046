package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/jward/xsynth"
)

var (
	processedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	skippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748B"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24"))
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Bold(true)
)

// validateFormat checks the --format flag value.
func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid format %q: must be json or text", format)
	}
}

// outputResult writes a CLIResult in the selected format to stdout.
func (c *cli) outputResult(result CLIResult) error {
	if c.flagFormat == "text" {
		return outputResultText(c.stdout, result)
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (c *cli) outputReport(command string, r *xsynth.Report) error {
	return c.outputResult(CLIResult{Command: command, Results: toCLIReport(r)})
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func (c *cli) outputError(command string, err error) error {
	c.errorHandled = true
	if c.flagFormat == "text" {
		fmt.Fprintf(c.stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIReport:
		formatReportText(w, v)
	case CLIStatus:
		formatStatusText(w, v)
	default:
		fmt.Fprintf(w, "%v\n", v)
	}
	return nil
}

// formatReportText prints one line per file, followed by its diagnostics
// and a summary.
func formatReportText(w io.Writer, r CLIReport) {
	for _, f := range r.Files {
		var status string
		switch xsynth.Status(f.Status) {
		case xsynth.StatusProcessed:
			status = processedStyle.Render(f.Status)
		case xsynth.StatusSkipped:
			status = skippedStyle.Render(f.Status)
		default:
			status = failedStyle.Render(f.Status)
		}
		fmt.Fprintf(w, "%s %s\n", status, f.Path)
		for _, d := range f.Warnings {
			fmt.Fprintf(w, "  %s %s\n", warningStyle.Render("warning"), formatDiagnostic(d))
		}
		if f.Error != nil {
			fmt.Fprintf(w, "  %s %s\n", failedStyle.Render("error"), formatDiagnostic(*f.Error))
		}
	}
	fmt.Fprintf(w, "%d processed, %d skipped, %d failed\n", r.Processed, r.Skipped, r.Failed)
}

func formatDiagnostic(d CLIDiagnostic) string {
	loc := d.File
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, d.Line)
		if d.Column > 0 {
			loc = fmt.Sprintf("%s:%d", loc, d.Column)
		}
	}
	msg := d.Message
	if d.Kind != "" {
		msg = fmt.Sprintf("[%s] %s", d.Kind, msg)
	}
	if loc != "" {
		msg = loc + ": " + msg
	}
	return msg
}

// formatStatusText prints the last run and the recorded files as aligned
// columns.
func formatStatusText(w io.Writer, s CLIStatus) {
	if s.LastRun != nil {
		fmt.Fprintln(w, titleStyle.Render("Last run"))
		fmt.Fprintf(w, "  %s started %s: %d processed, %d skipped, %d failed\n",
			s.LastRun.ID, s.LastRun.StartedAt.Format("2006-01-02 15:04:05"),
			s.LastRun.Processed, s.LastRun.Skipped, s.LastRun.Failed)
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Records (%d)", len(s.Records))))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSYMBOLS\tUSES\tPATH")
	for _, r := range s.Records {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", r.Module, len(r.Symbols), len(r.Modules), r.Path)
	}
	tw.Flush()
}
