// Package batch aggregates the states of the jobs in one batch build into a
// single outcome.
package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/3leaps/indexwarden/pkg/jobstatus"
)

// Outcome is the aggregated state of a batch build.
type Outcome struct {
	// Done is true once no job is running.
	Done bool

	// Success is true only if every job that reported a state succeeded.
	// It is meaningful only when Done is true.
	Success bool

	// UnreachableJob names the job whose poll failed, if evaluation was
	// deferred because the tracker could not be reached.
	UnreachableJob string

	// Counts holds the number of jobs observed per state.
	Counts map[jobstatus.JobState]int
}

// Deferred reports whether evaluation stopped on a polling failure.
func (o Outcome) Deferred() bool {
	return o.UnreachableJob != ""
}

// Evaluator decides whether a batch build has finished.
type Evaluator struct {
	source jobstatus.Source
	logger *zap.Logger
}

// NewEvaluator returns an evaluator that polls source.
func NewEvaluator(source jobstatus.Source, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{source: source, logger: logger}
}

// Evaluate polls every job of a build and aggregates the result.
//
// done is the AND over "not running" and success is the AND over
// "succeeded", short-circuited on the first unreachable job. A job still in
// PREP is not running, so it lets the build finish as failed. A job the tracker
// no longer knows counts as not in flight and does not fail the build.
// An empty job set is done and successful.
func (e *Evaluator) Evaluate(ctx context.Context, jobs map[string]string) Outcome {
	out := Outcome{
		Done:    true,
		Success: true,
		Counts:  make(map[jobstatus.JobState]int, 4),
	}

	for jobID := range jobs {
		state := e.source.State(ctx, jobID)
		out.Counts[state]++

		switch state {
		case jobstatus.Unreachable:
			out.Done = false
			out.UnreachableJob = jobID
			return out
		case jobstatus.Running:
			// Keep scanning only to detect an unreachable job.
			out.Done = false
		case jobstatus.Succeeded:
		case jobstatus.Prep, jobstatus.FailedOrKilled:
			out.Success = false
		case jobstatus.Missing:
			e.logger.Warn("Job missing from tracker while checking batch build",
				zap.String("job_id", jobID))
		}
	}

	return out
}
