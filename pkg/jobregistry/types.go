// Package jobregistry keeps batch job records in an on-disk directory and
// serves them as a job tracker.
package jobregistry

import "time"

// JobState is the lifecycle state of a registered job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateQueued   JobState = "queued"
	JobStateRunning  JobState = "running"
	JobStateStopping JobState = "stopping"
	JobStateStopped  JobState = "stopped"
	JobStateSuccess  JobState = "success"
	JobStatePartial  JobState = "partial"
	JobStateFailed   JobState = "failed"
	JobStateUnknown  JobState = "unknown"
)

// ParseJobState validates a state string.
func ParseJobState(s string) (JobState, bool) {
	switch st := JobState(s); st {
	case JobStateQueued, JobStateRunning, JobStateStopping, JobStateStopped,
		JobStateSuccess, JobStatePartial, JobStateFailed, JobStateUnknown:
		return st, true
	default:
		return "", false
	}
}

// Terminal reports whether a job in this state will not run again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateStopped, JobStateSuccess, JobStatePartial, JobStateFailed, JobStateUnknown:
		return true
	default:
		return false
	}
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID     string    `json:"job_id"`
	Indexer   string    `json:"indexer,omitempty"`
	State     JobState  `json:"state"`
	Locator   string    `json:"locator,omitempty"`
	Args      []string  `json:"args,omitempty"`
	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Message       string     `json:"message,omitempty"`
}
