package jobregistry

import (
	"context"
	"fmt"
	"os"

	"github.com/3leaps/indexwarden/pkg/jobstatus"
)

// Tracker serves registry records as a jobstatus.Tracker.
type Tracker struct {
	store *Store
}

var _ jobstatus.Tracker = (*Tracker)(nil)

func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

func (t *Tracker) GetJob(ctx context.Context, jobID string) (jobstatus.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, err := t.store.Get(jobID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return registryJob{record: record}, nil
}

type registryJob struct {
	record *JobRecord
}

func (j registryJob) State(ctx context.Context) (jobstatus.TrackerState, error) {
	return TrackerState(j.record.State), nil
}

// TrackerState maps a registry state onto the tracker vocabulary. Partial and
// unknown outcomes count as failures.
func TrackerState(s JobState) jobstatus.TrackerState {
	switch s {
	case JobStateQueued:
		return jobstatus.TrackerPrep
	case JobStateRunning, JobStateStopping:
		return jobstatus.TrackerRunning
	case JobStateSuccess:
		return jobstatus.TrackerSucceeded
	case JobStateStopped:
		return jobstatus.TrackerKilled
	case JobStatePartial, JobStateFailed, JobStateUnknown:
		return jobstatus.TrackerFailed
	default:
		return jobstatus.TrackerState(s)
	}
}
