package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"strconv"

	"github.com/xuri/excelize/v2"

	"trialcheck/domain/verdict"
)

// RecordHeaders are the columns of the CSV export and the Records sheet.
var RecordHeaders = []string{
	"scenario_id", "kind", "status", "metric", "index", "check",
	"reference", "observed", "deviation", "threshold", "mode", "passed", "note",
}

// recordRows flattens every deviation record of the report. Scenarios that
// failed before producing records get one row carrying their error.
func recordRows(report *verdict.VerificationReport) [][]interface{} {
	var rows [][]interface{}
	for _, v := range report.Scenarios {
		if len(v.Records) == 0 {
			rows = append(rows, []interface{}{
				string(v.ScenarioID), string(v.Kind), string(v.Status), "", "", "", "", "", "", "", "", false, v.Error,
			})
			continue
		}
		for _, r := range v.Records {
			rows = append(rows, []interface{}{
				string(v.ScenarioID), string(v.Kind), string(v.Status), r.Metric, r.Index, string(r.Check),
				r.Reference, r.Observed, r.Deviation, r.Threshold, string(r.Mode), r.Passed, r.Note,
			})
		}
	}
	return rows
}

// WriteCSV writes one row per deviation record.
func WriteCSV(w io.Writer, report *verdict.VerificationReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordHeaders); err != nil {
		return err
	}
	for _, row := range recordRows(report) {
		out := make([]string, len(row))
		for i, v := range row {
			out[i] = cell(v)
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return ""
	}
}

// WriteJSON writes the full report as indented JSON.
func WriteJSON(w io.Writer, report *verdict.VerificationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// ============================================================================
// XLSX
// ============================================================================

const (
	summarySheet = "Summary"
	recordsSheet = "Records"
)

// WriteXLSX writes a workbook with a Summary sheet (run facts and the
// per-calculator table) and a Records sheet (every deviation record).
func WriteXLSX(path string, report *verdict.VerificationReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(recordsSheet); err != nil {
		return err
	}

	summary := [][]interface{}{
		{"run_id", string(report.RunID)},
		{"base_url", report.BaseURL},
		{"seed", strconv.FormatUint(report.Seed, 10)},
		{"started_at", report.StartedAt.String()},
		{"finished_at", report.FinishedAt.String()},
		{"overall", report.Overall},
		{"pass_count", report.PassCount},
		{"fail_count", report.FailCount},
		{"error_count", report.ErrorCount},
		{"max_deviation", report.MaxDeviation},
		{"worst_scenario", string(report.WorstScenarioID)},
		{"mean_deviation", report.Summary.MeanDeviation},
		{"median_deviation", report.Summary.MedianDeviation},
		{"p95_deviation", report.Summary.P95Deviation},
		{},
		{"calculator", "scenarios", "pass", "fail", "error", "metrics", "mean_deviation", "max_deviation"},
	}
	for _, k := range ByKind(report) {
		summary = append(summary, []interface{}{
			string(k.Kind), k.Scenarios, k.Passed, k.Failed, k.Errored, k.Records, k.MeanDeviation, k.MaxDeviation,
		})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	header := make([]interface{}, len(RecordHeaders))
	for i, h := range RecordHeaders {
		header[i] = h
	}
	if err := writeRows(f, recordsSheet, append([][]interface{}{header}, recordRows(report)...)); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	return f.SaveAs(path)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for r, row := range rows {
		for c, v := range row {
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			if x, ok := v.(float64); ok && (math.IsNaN(x) || math.IsInf(x, 0)) {
				v = ""
			}
			if err := f.SetCellValue(sheet, name, v); err != nil {
				return err
			}
		}
	}
	return nil
}
