// Package aggregate folds scenario verdicts into the run-level report.
package aggregate

import (
	"math"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"

	"trialcheck/domain/core"
	"trialcheck/domain/verdict"
)

type entry struct {
	index   int
	verdict verdict.ScenarioVerdict
}

// Aggregator collects verdicts from concurrent scenario workers. Verdicts are
// reported in submission-index order whatever order they arrive in.
type Aggregator struct {
	mu        sync.Mutex
	entries   []entry
	runID     core.RunID
	baseURL   string
	seed      uint64
	startedAt core.Timestamp
}

// New starts an aggregation for one run.
func New(runID core.RunID, baseURL string, seed uint64) *Aggregator {
	return &Aggregator{runID: runID, baseURL: baseURL, seed: seed, startedAt: core.Now()}
}

// Add records the verdict of the scenario submitted at index.
func (a *Aggregator) Add(index int, v verdict.ScenarioVerdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry{index: index, verdict: v})
}

// Len returns the number of verdicts received so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Report builds the VerificationReport from everything added so far.
// Overall is the AND of every scenario's pass flag and is false for an empty run.
func (a *Aggregator) Report() *verdict.VerificationReport {
	a.mu.Lock()
	entries := append([]entry(nil), a.entries...)
	a.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	r := &verdict.VerificationReport{
		RunID:        a.runID,
		BaseURL:      a.baseURL,
		Seed:         a.seed,
		StartedAt:    a.startedAt,
		FinishedAt:   core.Now(),
		Scenarios:    make([]verdict.ScenarioVerdict, 0, len(entries)),
		Records:      []verdict.DeviationRecord{},
		StatusCounts: make(map[verdict.ScenarioStatus]int),
		Overall:      len(entries) > 0,
	}

	worst := -1.0
	var firstFailure core.ScenarioID
	for i := range entries {
		v := entries[i].verdict
		r.Scenarios = append(r.Scenarios, v)
		r.Records = append(r.Records, v.Records...)
		r.StatusCounts[v.Status]++

		switch v.Status {
		case verdict.StatusPass:
			r.PassCount++
		case verdict.StatusFail:
			r.FailCount++
		default:
			r.ErrorCount++
		}
		if !v.Status.Passed() {
			r.Overall = false
			if firstFailure == "" {
				firstFailure = v.ScenarioID
			}
		}

		for _, rec := range v.Records {
			if finite(rec.Deviation) && rec.Deviation > r.MaxDeviation {
				r.MaxDeviation = rec.Deviation
			}
			if u := utilisation(rec); u > worst {
				worst = u
				r.WorstScenarioID = rec.ScenarioID
				r.WorstMetric = rec.Label()
			}
		}
	}

	// With no failing record, blame the first scenario that did not pass.
	if firstFailure != "" && worst <= 1 {
		r.WorstScenarioID = firstFailure
		r.WorstMetric = ""
	}

	r.Summary = summarize(r.Records)
	return r
}

// utilisation is deviation/threshold; above 1 means the record failed.
func utilisation(rec verdict.DeviationRecord) float64 {
	switch {
	case !finite(rec.Deviation):
		return 2
	case rec.Threshold > 0:
		u := rec.Deviation / rec.Threshold
		if !rec.Passed && u <= 1 {
			u = 2
		}
		return u
	case rec.Passed:
		return 0
	default:
		return 2
	}
}

func summarize(records []verdict.DeviationRecord) verdict.Summary {
	var s verdict.Summary
	devs := make(stats.Float64Data, 0, len(records))
	for _, rec := range records {
		if finite(rec.Deviation) {
			devs = append(devs, rec.Deviation)
		}
		if u := utilisation(rec); u > s.MaxUtilisation {
			s.MaxUtilisation = u
		}
	}
	if len(devs) == 0 {
		return s
	}
	s.MeanDeviation, _ = stats.Mean(devs)
	s.MedianDeviation, _ = stats.Median(devs)
	s.P95Deviation, _ = stats.Percentile(devs, 95)
	s.MaxDeviation, _ = stats.Max(devs)
	return s
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
