package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/indexwarden/pkg/jobstatus"
)

type stubSource struct {
	mu     sync.Mutex
	states map[string]jobstatus.JobState
	calls  []string
}

func (s *stubSource) State(ctx context.Context, jobID string) jobstatus.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, jobID)
	state, ok := s.states[jobID]
	if !ok {
		return jobstatus.Missing
	}
	return state
}

func jobsOf(ids ...string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = "http://tracker/jobs/" + id
	}
	return out
}

func TestEvaluate_Table(t *testing.T) {
	tests := []struct {
		name        string
		states      map[string]jobstatus.JobState
		jobs        map[string]string
		wantDone    bool
		wantSuccess bool
	}{
		{
			name:     "single running job",
			states:   map[string]jobstatus.JobState{"J1": jobstatus.Running},
			jobs:     jobsOf("J1"),
			wantDone: false,
		},
		{
			name:        "all succeeded",
			states:      map[string]jobstatus.JobState{"J1": jobstatus.Succeeded, "J2": jobstatus.Succeeded},
			jobs:        jobsOf("J1", "J2"),
			wantDone:    true,
			wantSuccess: true,
		},
		{
			name:        "one failed",
			states:      map[string]jobstatus.JobState{"J1": jobstatus.Succeeded, "J2": jobstatus.FailedOrKilled},
			jobs:        jobsOf("J1", "J2"),
			wantDone:    true,
			wantSuccess: false,
		},
		{
			name:     "unreachable beats succeeded",
			states:   map[string]jobstatus.JobState{"J1": jobstatus.Unreachable, "J2": jobstatus.Succeeded},
			jobs:     jobsOf("J1", "J2"),
			wantDone: false,
		},
		{
			name:        "empty build",
			states:      map[string]jobstatus.JobState{},
			jobs:        map[string]string{},
			wantDone:    true,
			wantSuccess: true,
		},
		{
			name:        "missing job does not fail the build",
			states:      map[string]jobstatus.JobState{"J1": jobstatus.Succeeded},
			jobs:        jobsOf("J1", "J2"),
			wantDone:    true,
			wantSuccess: true,
		},
		{
			name:     "running alongside failed is not done",
			states:   map[string]jobstatus.JobState{"J1": jobstatus.Running, "J2": jobstatus.FailedOrKilled},
			jobs:     jobsOf("J1", "J2"),
			wantDone: false,
		},
		{
			name:        "prep finishes the build as failed",
			states:      map[string]jobstatus.JobState{"J1": jobstatus.Prep, "J2": jobstatus.Succeeded},
			jobs:        jobsOf("J1", "J2"),
			wantDone:    true,
			wantSuccess: false,
		},
		{
			name:        "killed fails the build",
			states:      map[string]jobstatus.JobState{"J1": jobstatus.FailedOrKilled},
			jobs:        jobsOf("J1"),
			wantDone:    true,
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(&stubSource{states: tt.states}, nil)
			got := e.Evaluate(context.Background(), tt.jobs)

			assert.Equal(t, tt.wantDone, got.Done)
			if tt.wantDone {
				assert.Equal(t, tt.wantSuccess, got.Success)
			}
		})
	}
}

func TestEvaluate_UnreachableStopsEvaluation(t *testing.T) {
	src := &stubSource{states: map[string]jobstatus.JobState{
		"J1": jobstatus.Unreachable,
		"J2": jobstatus.Unreachable,
		"J3": jobstatus.Unreachable,
	}}
	e := NewEvaluator(src, nil)

	got := e.Evaluate(context.Background(), jobsOf("J1", "J2", "J3"))

	assert.False(t, got.Done)
	assert.True(t, got.Deferred())
	assert.Len(t, src.calls, 1, "evaluation must stop at the first unreachable job")
	assert.Equal(t, src.calls[0], got.UnreachableJob)
}

func TestEvaluate_RunningKeepsScanningForUnreachable(t *testing.T) {
	// Whichever order the map yields, a later unreachable job is still seen.
	for i := 0; i < 20; i++ {
		src := &stubSource{states: map[string]jobstatus.JobState{
			"J1": jobstatus.Running,
			"J2": jobstatus.Running,
			"J3": jobstatus.Unreachable,
		}}
		got := NewEvaluator(src, nil).Evaluate(context.Background(), jobsOf("J1", "J2", "J3"))

		assert.False(t, got.Done)
		assert.Equal(t, "J3", got.UnreachableJob)
	}
}

func TestEvaluate_OrderIndependent(t *testing.T) {
	states := map[string]jobstatus.JobState{
		"a": jobstatus.Succeeded,
		"b": jobstatus.FailedOrKilled,
		"c": jobstatus.Succeeded,
		"d": jobstatus.Missing,
	}
	jobs := jobsOf("a", "b", "c", "d")

	first := NewEvaluator(&stubSource{states: states}, nil).Evaluate(context.Background(), jobs)
	for i := 0; i < 20; i++ {
		got := NewEvaluator(&stubSource{states: states}, nil).Evaluate(context.Background(), jobs)
		assert.Equal(t, first.Done, got.Done)
		assert.Equal(t, first.Success, got.Success)
		assert.Equal(t, first.Counts, got.Counts)
	}
	assert.True(t, first.Done)
	assert.False(t, first.Success)
	assert.Equal(t, 2, first.Counts[jobstatus.Succeeded])
}
