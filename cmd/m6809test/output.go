package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"github.com/715d/m6809test/pkg/classify"
	"github.com/715d/m6809test/pkg/conformance"
)

func writeResults(w io.Writer, report *conformance.Report, cfg *Config) error {
	if cfg.JSON {
		return report.WriteJSON(w)
	}
	_, err := io.WriteString(w, formatTextOutput(report, cfg))
	return err
}

// formatTextOutput lists every case, then the cases that need attention,
// then a one-line summary.
func formatTextOutput(report *conformance.Report, cfg *Config) string {
	var output strings.Builder

	for _, c := range report.Cases {
		writeCase(&output, c)
		if cfg.Verbose {
			writeDiagnostics(&output, c)
		}
	}

	if attention := report.Attention(); len(attention) > 0 {
		output.WriteString("\nNeeds attention:\n")
		for _, c := range attention {
			output.WriteString("  ")
			writeCase(&output, c)
		}
	}

	output.WriteString("\n")
	output.WriteString(summaryLine(report))
	output.WriteString("\n")
	return output.String()
}

func writeCase(b *strings.Builder, c conformance.CaseResult) {
	label := strings.ToUpper(string(c.Verdict))
	if c.Verdict == classify.Pass {
		fmt.Fprintf(b, "%-10s %s\n", label, c.Path)
		return
	}
	fmt.Fprintf(b, "%-10s %s: %s\n", label, c.Path, c.Reason)
}

// writeDiagnostics shows the captured output behind a non-passing verdict.
func writeDiagnostics(b *strings.Builder, c conformance.CaseResult) {
	if c.Verdict == classify.Pass {
		return
	}
	if c.Note != "" {
		fmt.Fprintf(b, "           note: %s\n", c.Note)
	}
	if c.Build != nil {
		for _, s := range c.Build.Stages {
			if text := strings.TrimSpace(s.Stderr); text != "" {
				fmt.Fprintf(b, "           %s stderr:\n%s\n", s.Name, indent(text, 13))
			}
		}
	}
	if c.Execution != nil {
		if text := strings.TrimSpace(c.Execution.Stderr); text != "" {
			fmt.Fprintf(b, "           emulator stderr:\n%s\n", indent(text, 13))
		}
	}
}

func indent(text string, n int) string {
	pad := strings.Repeat(" ", n)
	return pad + strings.ReplaceAll(text, "\n", "\n"+pad)
}

// summaryLine reads like "7 cases in 1.2s: 5 passed, 0 failed, 2 expected
// failures, 0 regressions, and 0 harness errors".
func summaryLine(report *conformance.Report) string {
	total := len(report.Cases)
	parts := []string{
		humanize.Comma(int64(report.Counts[classify.Pass])) + " passed",
		humanize.Comma(int64(report.Counts[classify.Fail])) + " failed",
		english.Plural(report.Counts[classify.ExpectedFailure], "expected failure", ""),
		english.Plural(report.Counts[classify.Regression], "regression", ""),
		english.Plural(report.Counts[classify.HarnessError], "harness error", ""),
	}
	return fmt.Sprintf("%s %s in %s: %s",
		humanize.Comma(int64(total)),
		english.PluralWord(total, "case", ""),
		report.Duration.Round(time.Millisecond),
		english.OxfordWordSeries(parts, "and"))
}

func writeChanges(w io.Writer, changes []conformance.Change, cfg *Config) error {
	if cfg.JSON {
		if changes == nil {
			changes = []conformance.Change{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(changes)
	}

	var output strings.Builder
	for _, c := range changes {
		output.WriteString(c.String())
		output.WriteString("\n")
	}
	if len(changes) == 0 {
		output.WriteString("no verdict changes\n")
	} else {
		fmt.Fprintf(&output, "%s changed\n", english.Plural(len(changes), "case", ""))
	}
	_, err := io.WriteString(w, output.String())
	return err
}
