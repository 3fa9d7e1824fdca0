// Package tracker holds what the job tracker clients share: their kinds and
// the errors they return.
//
// Clients implement jobstatus.Tracker. Reporting a job as unknown is not an
// error; every error returned here means the tracker could not give an answer.
package tracker

import (
	"errors"
	"fmt"
)

// Kind names a tracker implementation.
type Kind string

const (
	KindHTTP     Kind = "http"
	KindRegistry Kind = "registry"
	KindS3       Kind = "s3"
)

// ParseKind validates a configured tracker kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindHTTP, KindRegistry, KindS3:
		return k, nil
	default:
		return "", fmt.Errorf("unknown tracker kind %q (want http, registry or s3)", s)
	}
}

// Sentinel errors for tracker operations.
var (
	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTrackerUnavailable indicates the tracker service is unavailable.
	ErrTrackerUnavailable = errors.New("tracker unavailable")

	// ErrThrottled indicates the request was rate limited by the tracker.
	ErrThrottled = errors.New("request throttled")

	// ErrProtocol indicates the tracker answered with something unparseable.
	ErrProtocol = errors.New("tracker protocol error")
)

// TrackerError wraps tracker-specific errors with context.
type TrackerError struct {
	// Op is the operation that failed (e.g., "GetJob").
	Op string

	// Tracker is the tracker kind.
	Tracker Kind

	// JobID is the job being looked up, if applicable.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TrackerError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s tracker %s %s: %v", e.Tracker, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s tracker %s: %v", e.Tracker, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TrackerError) Unwrap() error {
	return e.Err
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsTrackerUnavailable returns true if the error indicates the tracker is unavailable.
func IsTrackerUnavailable(err error) bool {
	return errors.Is(err, ErrTrackerUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsProtocol returns true if the error indicates a malformed tracker answer.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}
