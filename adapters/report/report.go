// Package report renders verification reports as Markdown, HTML, CSV and XLSX.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"trialcheck/domain/scenario"
	"trialcheck/domain/verdict"
	"trialcheck/internal"
	apperrors "trialcheck/internal/errors"
)

// Format is an output format for a rendered report.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
	FormatXLSX     Format = "xlsx"
	FormatJSON     Format = "json"
)

// AllFormats lists every supported format in rendering order.
func AllFormats() []Format {
	return []Format{FormatMarkdown, FormatHTML, FormatCSV, FormatXLSX, FormatJSON}
}

// ParseFormats parses a comma-separated format list such as "md,csv".
func ParseFormats(list string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(list, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		if f == "markdown" {
			f = FormatMarkdown
		}
		if f == "" || seen[f] {
			continue
		}
		switch f {
		case FormatMarkdown, FormatHTML, FormatCSV, FormatXLSX, FormatJSON:
		default:
			return nil, apperrors.ConfigInvalidf("unknown report format %q", part)
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, apperrors.ConfigInvalid("no report formats given")
	}
	return out, nil
}

// Writer renders reports into a directory, one file per format.
type Writer struct {
	dir    string
	logger *internal.Logger
}

// NewWriter creates a writer targeting dir, created on first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, logger: internal.DefaultLogger.Component("ReportWriter")}
}

// Write renders report in every format and returns the written paths.
// Files are named trialcheck-<run id>.<format>.
func (w *Writer) Write(report *verdict.VerificationReport, formats []Format) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, apperrors.Wrap(err, "create report directory")
	}
	var paths []string
	for _, f := range formats {
		path := filepath.Join(w.dir, fmt.Sprintf("trialcheck-%s.%s", report.RunID, f))
		if err := writeFormat(path, report, f); err != nil {
			return paths, apperrors.ReportError(string(f), err)
		}
		w.logger.Info("wrote %s", path)
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFormat(path string, report *verdict.VerificationReport, f Format) error {
	if f == FormatXLSX {
		return WriteXLSX(path, report)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	switch f {
	case FormatMarkdown:
		_, err = file.Write(Markdown(report))
	case FormatHTML:
		_, err = file.Write(HTML(report))
	case FormatCSV:
		err = WriteCSV(file, report)
	case FormatJSON:
		err = WriteJSON(file, report)
	default:
		err = fmt.Errorf("unsupported format %q", f)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ============================================================================
// PER-CALCULATOR SUMMARY
// ============================================================================

// KindSummary aggregates the verdicts of one calculator kind.
type KindSummary struct {
	Kind          scenario.CalculatorKind
	Scenarios     int
	Passed        int
	Failed        int
	Errored       int // any non-pass status other than fail
	Records       int
	MeanDeviation float64
	MaxDeviation  float64
}

// ByKind groups report verdicts by calculator kind, in catalog kind order.
func ByKind(report *verdict.VerificationReport) []KindSummary {
	index := make(map[scenario.CalculatorKind]*KindSummary)
	deviations := make(map[scenario.CalculatorKind][]float64)
	for _, v := range report.Scenarios {
		ks := index[v.Kind]
		if ks == nil {
			ks = &KindSummary{Kind: v.Kind}
			index[v.Kind] = ks
		}
		ks.Scenarios++
		switch v.Status {
		case verdict.StatusPass:
			ks.Passed++
		case verdict.StatusFail:
			ks.Failed++
		default:
			ks.Errored++
		}
		for _, r := range v.Records {
			ks.Records++
			if !math.IsNaN(r.Deviation) && !math.IsInf(r.Deviation, 0) {
				deviations[v.Kind] = append(deviations[v.Kind], r.Deviation)
			}
		}
	}

	order := make(map[scenario.CalculatorKind]int)
	for i, k := range scenario.AllKinds() {
		order[k] = i
	}
	out := make([]KindSummary, 0, len(index))
	for kind, ks := range index {
		if devs := deviations[kind]; len(devs) > 0 {
			ks.MeanDeviation, _ = stats.Mean(devs)
			ks.MaxDeviation, _ = stats.Max(devs)
		}
		out = append(out, *ks)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Kind] < order[out[j].Kind] })
	return out
}
