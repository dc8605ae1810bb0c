// Package runner executes batches of independent jobs concurrently.
// A batch spawns one worker per job and joins all of them before returning;
// no job is ever cancelled because a sibling failed. There is deliberately
// no pooling or back-pressure: callers are responsible for bounding batch
// size so that join semantics stay trivial to reason about.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openvlab/openvlab/pkg/telemetry"
)

// Job is a single unit of work within a batch. Jobs carry no return value;
// they either complete or fail with an error. Each job must own its captured
// inputs and share no mutable state with its siblings.
type Job func(ctx context.Context) error

// NamedJob pairs a job with a label used in logs and failure reports.
type NamedJob struct {
	Name string
	Run  Job
}

// Outcome is the terminal result of one job, positioned by its index in the
// submitted batch.
type Outcome struct {
	Index    int
	Name     string
	Err      error
	Duration time.Duration
}

// BatchResult holds the per-job outcomes of a resolved batch, in submission
// order.
type BatchResult struct {
	Outcomes []Outcome
}

// Failed reports whether any job in the batch failed.
func (r BatchResult) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

// Err returns a BatchError describing every failed job, or nil if the whole
// batch succeeded.
func (r BatchResult) Err() error {
	var failures []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failures = append(failures, o)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &BatchError{Failures: failures, Total: len(r.Outcomes)}
}

// BatchError reports all failed jobs of a batch, not just the first.
type BatchError struct {
	// Failures holds the outcomes of every failed job, in submission order.
	Failures []Outcome

	// Total is the number of jobs in the batch.
	Total int
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("job %q (%d of %d) failed: %v", f.Name, f.Index+1, e.Total, f.Err)
	}
	msg := fmt.Sprintf("%d of %d jobs failed:", len(e.Failures), e.Total)
	for _, f := range e.Failures {
		msg += fmt.Sprintf("\n  %q: %v", f.Name, f.Err)
	}
	return msg
}

// Unwrap exposes the underlying job errors to errors.Is/As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Runner fans batches of jobs out across goroutines, one per job.
type Runner struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// New creates a runner. metrics may be nil.
func New(log zerolog.Logger, metrics *telemetry.Metrics) *Runner {
	return &Runner{
		log:     log.With().Str("component", "runner").Logger(),
		metrics: metrics,
	}
}

// Run executes every job of the batch concurrently and blocks until all of
// them have terminated, regardless of individual failures. The returned
// result carries one outcome per job, aligned with submission order.
func (r *Runner) Run(ctx context.Context, jobs []NamedJob) BatchResult {
	result := BatchResult{Outcomes: make([]Outcome, len(jobs))}
	if len(jobs) == 0 {
		return result
	}

	started := time.Now()
	r.log.Debug().Int("jobs", len(jobs)).Msg("starting batch")

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job NamedJob) {
			defer wg.Done()
			result.Outcomes[i] = r.runOne(ctx, i, job)
		}(i, job)
	}
	wg.Wait()

	failed := 0
	for _, o := range result.Outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if r.metrics != nil {
		r.metrics.ObserveBatch(len(jobs), failed, time.Since(started))
	}
	r.log.Debug().
		Int("jobs", len(jobs)).
		Int("failed", failed).
		Dur("duration", time.Since(started)).
		Msg("batch resolved")

	return result
}

// runOne executes a single job, converting panics into job failures so that
// one misbehaving job cannot take the whole batch down.
func (r *Runner) runOne(ctx context.Context, index int, job NamedJob) (out Outcome) {
	out = Outcome{Index: index, Name: job.Name}
	started := time.Now()

	defer func() {
		out.Duration = time.Since(started)
		if rec := recover(); rec != nil {
			out.Err = fmt.Errorf("job panicked: %v", rec)
		}
		if out.Err != nil {
			r.log.Error().Err(out.Err).Str("job", job.Name).Msg("job failed")
		} else {
			r.log.Debug().Str("job", job.Name).Dur("duration", out.Duration).Msg("job finished")
		}
	}()

	out.Err = job.Run(ctx)
	return out
}

// Funcs builds a batch from bare functions, naming them by position.
func Funcs(jobs ...Job) []NamedJob {
	named := make([]NamedJob, len(jobs))
	for i, j := range jobs {
		named[i] = NamedJob{Name: fmt.Sprintf("job-%d", i), Run: j}
	}
	return named
}
