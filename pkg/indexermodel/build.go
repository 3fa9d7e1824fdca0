package indexermodel

import (
	"slices"
	"time"
)

// BatchBuildInfo describes one batch build attempt.
//
// Jobs maps a job identifier to its tracking locator (usually a URL where an
// operator can follow the job). Success and EndTime are unset while the build
// is active and are set together by Finish.
type BatchBuildInfo struct {
	Jobs       map[string]string `json:"jobs" yaml:"jobs"`
	SubmitTime time.Time         `json:"submit_time" yaml:"submit_time"`
	Success    *bool             `json:"success,omitempty" yaml:"success,omitempty"`
	EndTime    *time.Time        `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty"`
}

// Clone returns a deep copy of b.
func (b BatchBuildInfo) Clone() BatchBuildInfo {
	out := b
	if b.Jobs != nil {
		out.Jobs = make(map[string]string, len(b.Jobs))
		for id, locator := range b.Jobs {
			out.Jobs[id] = locator
		}
	}
	if b.Success != nil {
		v := *b.Success
		out.Success = &v
	}
	if b.EndTime != nil {
		t := *b.EndTime
		out.EndTime = &t
	}
	out.Args = slices.Clone(b.Args)
	return out
}

// Finished reports whether the build carries a terminal outcome.
func (b BatchBuildInfo) Finished() bool {
	return b.Success != nil
}

// Finish returns a copy of b marked finished with the given outcome at the
// given time. b itself is left unchanged.
func (b BatchBuildInfo) Finish(success bool, at time.Time) BatchBuildInfo {
	out := b.Clone()
	end := at.UTC()
	out.Success = &success
	out.EndTime = &end
	return out
}

// JobIDs returns the job identifiers of the build in sorted order.
func (b BatchBuildInfo) JobIDs() []string {
	ids := make([]string, 0, len(b.Jobs))
	for id := range b.Jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SameAttempt reports whether b and other describe the same build attempt:
// same submit time and the same set of job identifiers.
func (b BatchBuildInfo) SameAttempt(other BatchBuildInfo) bool {
	if !b.SubmitTime.Equal(other.SubmitTime) {
		return false
	}
	if len(b.Jobs) != len(other.Jobs) {
		return false
	}
	for id := range b.Jobs {
		if _, ok := other.Jobs[id]; !ok {
			return false
		}
	}
	return true
}
