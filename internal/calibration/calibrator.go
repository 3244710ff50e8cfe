// Package calibration estimates operating characteristics by simulation and
// bounds the estimate with an exact binomial confidence interval.
package calibration

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"trialcheck/domain/core"
	"trialcheck/domain/stats"
	"trialcheck/internal"
	"trialcheck/internal/rng"
	"trialcheck/ports"
)

// Generator draws one synthetic trial outcome from its own stream.
type Generator[T any] func(r *rand.Rand) (T, error)

// DecisionRule reports whether an outcome counts as a success (a rejection
// for type-I error, a declared win for power).
type DecisionRule[T any] func(outcome T) (bool, error)

// Options configures one calibration.
type Options struct {
	NSims      int
	Seed       uint64
	Confidence float64 // Clopper-Pearson level; 0.95 when zero
	Target     float64 // nominal rate the run is judged against
	Workers    int     // replication workers; 1 when zero
	RNG        ports.RNGPort
}

// DefaultConfidence is the interval level used when Options.Confidence is zero.
const DefaultConfidence = 0.95

// cancelCheckEvery is how many replications run between context checks.
const cancelCheckEvery = 256

var logger = internal.DefaultLogger.Component("Calibrator")

func (o Options) validate() (Options, error) {
	if o.NSims < 1 {
		return o, core.NewInvalidInputError("n_sims", "must be >= 1, got %d", o.NSims)
	}
	if o.Confidence == 0 {
		o.Confidence = DefaultConfidence
	}
	if !(o.Confidence > 0 && o.Confidence < 1) {
		return o, core.NewInvalidInputError("confidence", "must be in (0, 1), got %v", o.Confidence)
	}
	if math.IsNaN(o.Target) || o.Target < 0 || o.Target > 1 {
		return o, core.NewInvalidInputError("target", "must be in [0, 1], got %v", o.Target)
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Workers > o.NSims {
		o.Workers = o.NSims
	}
	if o.RNG == nil {
		o.RNG = rng.New()
	}
	return o, nil
}

// Calibrate runs NSims independent replications, counts successes and returns
// the observed rate with its Clopper-Pearson interval.
//
// Replication i always draws from stream (Seed, i), and successes are summed,
// so the result is bit-identical for any worker count.
func Calibrate[T any](ctx context.Context, gen Generator[T], rule DecisionRule[T], opts Options) (stats.CalibrationRun, error) {
	opts, err := opts.validate()
	if err != nil {
		return stats.CalibrationRun{}, err
	}
	if gen == nil || rule == nil {
		return stats.CalibrationRun{}, core.NewInvalidInputError("generator", "generator and decision rule are required")
	}

	var successes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for w := 0; w < opts.Workers; w++ {
		lo := w * opts.NSims / opts.Workers
		hi := (w + 1) * opts.NSims / opts.Workers
		g.Go(func() error {
			local := int64(0)
			for i := lo; i < hi; i++ {
				if (i-lo)%cancelCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				ok, err := replicate(i, opts, gen, rule)
				if err != nil {
					return err
				}
				if ok {
					local++
				}
			}
			successes.Add(local)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats.CalibrationRun{}, err
	}

	run, err := newRun(int(successes.Load()), opts.NSims, opts.Confidence, opts.Target)
	if err != nil {
		return stats.CalibrationRun{}, err
	}
	run.Seed = opts.Seed
	logger.Debug("seed=%d n=%d successes=%d rate=%.4f ci=[%.4f, %.4f]",
		run.Seed, run.NSims, run.Successes, run.ObservedRate, run.CILower, run.CIUpper)
	return run, nil
}

// replicate runs replication i, converting a panic in user code into a
// CalibrationExecutionError.
func replicate[T any](i int, opts Options, gen Generator[T], rule DecisionRule[T]) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, core.NewCalibrationExecutionError(i, r)
		}
	}()
	outcome, err := gen(opts.RNG.Stream(opts.Seed, i))
	if err != nil {
		return false, core.NewCalibrationExecutionError(i, err)
	}
	ok, err = rule(outcome)
	if err != nil {
		return false, core.NewCalibrationExecutionError(i, err)
	}
	return ok, nil
}

func newRun(k, n int, confidence, target float64) (stats.CalibrationRun, error) {
	lo, hi, err := ClopperPearson(k, n, confidence)
	if err != nil {
		return stats.CalibrationRun{}, err
	}
	return stats.CalibrationRun{
		NSims:        n,
		Successes:    k,
		Target:       target,
		ObservedRate: float64(k) / float64(n),
		Confidence:   confidence,
		CILower:      lo,
		CIUpper:      hi,
	}, nil
}

// RunFromRate rebuilds a calibration run from a rate the service reports for
// its own simulation, so the same interval checks apply to it.
// The success count is round(rate·nSims).
func RunFromRate(rate float64, nSims int, confidence, target float64) (stats.CalibrationRun, error) {
	if nSims < 1 {
		return stats.CalibrationRun{}, core.NewInvalidInputError("n_sims", "must be >= 1, got %d", nSims)
	}
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return stats.CalibrationRun{}, core.NewInvalidInputError("rate", "must be in [0, 1], got %v", rate)
	}
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	k := int(math.Round(rate * float64(nSims)))
	k = max(0, min(k, nSims))
	run, err := newRun(k, nSims, confidence, target)
	if err != nil {
		return stats.CalibrationRun{}, err
	}
	run.Reconstructed = true
	return run, nil
}
