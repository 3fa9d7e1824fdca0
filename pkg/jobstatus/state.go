// Package jobstatus turns answers from an external job tracker into a closed
// set of job states the reconciler can aggregate.
package jobstatus

// JobState is the reconciler's view of one job.
type JobState int

const (
	// Prep means the tracker knows the job but it has not started running.
	Prep JobState = iota
	Running
	Succeeded
	// FailedOrKilled covers every terminal state other than success.
	FailedOrKilled
	// Unreachable means the tracker could not be queried (transport, protocol
	// or timeout failure).
	Unreachable
	// Missing means the tracker answered and does not know the job.
	Missing
)

func (s JobState) String() string {
	switch s {
	case Prep:
		return "prep"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case FailedOrKilled:
		return "failed_or_killed"
	case Unreachable:
		return "unreachable"
	case Missing:
		return "missing"
	default:
		return "invalid"
	}
}

// Terminal reports whether the job will not change state again.
func (s JobState) Terminal() bool {
	return s == Succeeded || s == FailedOrKilled
}

// TrackerState is the raw state string reported by a job tracker.
type TrackerState string

const (
	TrackerPrep      TrackerState = "PREP"
	TrackerRunning   TrackerState = "RUNNING"
	TrackerSucceeded TrackerState = "SUCCEEDED"
	TrackerFailed    TrackerState = "FAILED"
	TrackerKilled    TrackerState = "KILLED"
)

// FromTracker maps a tracker state onto a JobState. ok is false for states
// the tracker contract does not define.
func FromTracker(s TrackerState) (state JobState, ok bool) {
	switch s {
	case TrackerPrep:
		return Prep, true
	case TrackerRunning:
		return Running, true
	case TrackerSucceeded:
		return Succeeded, true
	case TrackerFailed, TrackerKilled:
		return FailedOrKilled, true
	default:
		return Unreachable, false
	}
}
