package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"trialcheck/domain/verdict"
)

// Markdown renders the human-readable summary of a run.
func Markdown(report *verdict.VerificationReport) []byte {
	var b bytes.Buffer
	outcome := "PASS"
	if !report.Overall {
		outcome = "FAIL"
	}

	fmt.Fprintf(&b, "# Verification report %s\n\n", report.RunID)
	fmt.Fprintf(&b, "**Overall: %s**\n\n", outcome)
	fmt.Fprintf(&b, "- Service: `%s`\n", report.BaseURL)
	fmt.Fprintf(&b, "- Seed: %d\n", report.Seed)
	fmt.Fprintf(&b, "- Started: %s\n", report.StartedAt)
	fmt.Fprintf(&b, "- Duration: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "- Scenarios: %d passed, %d failed, %d errored\n", report.PassCount, report.FailCount, report.ErrorCount)
	if report.WorstScenarioID != "" {
		fmt.Fprintf(&b, "- Largest deviation: %s in `%s` (%s)\n", num(report.MaxDeviation), report.WorstScenarioID, report.WorstMetric)
	}

	b.WriteString("\n## Deviation summary\n\n")
	b.WriteString("| Mean | Median | P95 | Max | Max utilisation |\n")
	b.WriteString("|---:|---:|---:|---:|---:|\n")
	s := report.Summary
	fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
		num(s.MeanDeviation), num(s.MedianDeviation), num(s.P95Deviation), num(s.MaxDeviation), num(s.MaxUtilisation))

	b.WriteString("\n## By calculator\n\n")
	b.WriteString("| Calculator | Scenarios | Pass | Fail | Error | Metrics | Mean deviation | Max deviation |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|---:|\n")
	for _, k := range ByKind(report) {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %s | %s |\n",
			k.Kind, k.Scenarios, k.Passed, k.Failed, k.Errored, k.Records, num(k.MeanDeviation), num(k.MaxDeviation))
	}

	failures := report.Failures()
	if len(failures) == 0 {
		b.WriteString("\nAll scenarios passed.\n")
		return b.Bytes()
	}
	b.WriteString("\n## Failures\n")
	for _, v := range failures {
		fmt.Fprintf(&b, "\n### %s (%s): %s\n\n", v.ScenarioID, v.Kind, v.Status)
		if v.Error != "" {
			fmt.Fprintf(&b, "%s\n\n", escape(v.Error))
		}
		var failed []verdict.DeviationRecord
		for _, r := range v.Records {
			if !r.Passed {
				failed = append(failed, r)
			}
		}
		if len(failed) == 0 {
			continue
		}
		b.WriteString("| Metric | Check | Reference | Observed | Deviation | Threshold | Note |\n")
		b.WriteString("|---|---|---:|---:|---:|---:|---|\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s (%s) | %s |\n",
				r.Label(), r.Check, num(r.Reference), num(r.Observed), num(r.Deviation), num(r.Threshold), r.Mode, escape(r.Note))
		}
	}
	return b.Bytes()
}

// HTML renders the Markdown summary as a standalone HTML page.
func HTML(report *verdict.VerificationReport) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: fmt.Sprintf("trialcheck %s", report.RunID),
	})
	return markdown.ToHTML(Markdown(report), p, renderer)
}

func num(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

// escape keeps free text from breaking table cells.
func escape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
