package jobstatus

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single job state query.
const DefaultTimeout = 10 * time.Second

// Tracker is the external job-tracking service.
type Tracker interface {
	// GetJob looks up a job. A nil Job with a nil error means the tracker
	// does not know the job.
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Job is a handle on one tracked job.
type Job interface {
	State(ctx context.Context) (TrackerState, error)
}

// Source answers the state of a single job. It never fails: tracker errors
// surface as Unreachable and unknown jobs as Missing.
type Source interface {
	State(ctx context.Context, jobID string) JobState
}

// TrackerSource adapts a Tracker into a Source with a bounded per-query
// timeout.
type TrackerSource struct {
	tracker Tracker
	timeout time.Duration
	logger  *zap.Logger
}

var _ Source = (*TrackerSource)(nil)

// NewTrackerSource wraps tracker. timeout <= 0 uses DefaultTimeout and a nil
// logger discards output.
func NewTrackerSource(tracker Tracker, timeout time.Duration, logger *zap.Logger) *TrackerSource {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackerSource{tracker: tracker, timeout: timeout, logger: logger}
}

func (s *TrackerSource) State(ctx context.Context, jobID string) JobState {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	job, err := s.tracker.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error("Could not get job from tracker", zap.String("job_id", jobID), zap.Error(err))
		return Unreachable
	}
	if job == nil {
		s.logger.Warn("Job not found in tracker", zap.String("job_id", jobID))
		return Missing
	}

	raw, err := job.State(ctx)
	if err != nil {
		s.logger.Error("Could not get job state from tracker", zap.String("job_id", jobID), zap.Error(err))
		return Unreachable
	}

	state, ok := FromTracker(raw)
	if !ok {
		s.logger.Error("Tracker reported unknown job state",
			zap.String("job_id", jobID),
			zap.String("state", string(raw)))
		return Unreachable
	}
	return state
}
