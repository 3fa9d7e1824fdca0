package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efritz/glock"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
	"github.com/3leaps/indexwarden/pkg/jobstatus"
)

// fakeSource answers job states from a map; unknown jobs are Missing.
type fakeSource struct {
	mu     sync.Mutex
	states map[string]jobstatus.JobState
}

func newFakeSource(states map[string]jobstatus.JobState) *fakeSource {
	return &fakeSource{states: states}
}

func (f *fakeSource) State(ctx context.Context, jobID string) jobstatus.JobState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[jobID]
	if !ok {
		return jobstatus.Missing
	}
	return st
}

func (f *fakeSource) set(jobID string, st jobstatus.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[jobID] = st
}

// countingStore wraps a store, counts calls and injects failures.
type countingStore struct {
	indexermodel.Store

	mu           sync.Mutex
	locks        int
	unlocks      int
	updates      int
	lastInternal bool
	lastWait     bool

	lockErr      map[string]error
	getFreshErr  map[string]error
	updateErr    map[string]error
	unlockErr    error
	listErr      error
	beforeUpdate func(name string)
}

func newCountingStore(inner indexermodel.Store) *countingStore {
	return &countingStore{
		Store:       inner,
		lockErr:     map[string]error{},
		getFreshErr: map[string]error{},
		updateErr:   map[string]error{},
	}
}

func (s *countingStore) List(ctx context.Context) ([]indexermodel.IndexerRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.List(ctx)
}

func (s *countingStore) Lock(ctx context.Context, name string, internal bool) (indexermodel.LockToken, error) {
	s.mu.Lock()
	s.lastInternal = internal
	err := s.lockErr[name]
	s.mu.Unlock()
	if err != nil {
		return indexermodel.LockToken{}, err
	}

	token, err := s.Store.Lock(ctx, name, internal)
	if err == nil {
		s.mu.Lock()
		s.locks++
		s.mu.Unlock()
	}
	return token, err
}

func (s *countingStore) Unlock(ctx context.Context, token indexermodel.LockToken, wait bool) error {
	s.mu.Lock()
	s.unlocks++
	s.lastWait = wait
	s.mu.Unlock()

	if err := s.Store.Unlock(ctx, token, wait); err != nil {
		return err
	}
	return s.unlockErr
}

func (s *countingStore) GetFresh(ctx context.Context, name string) (indexermodel.IndexerRecord, error) {
	s.mu.Lock()
	err := s.getFreshErr[name]
	s.mu.Unlock()
	if err != nil {
		return indexermodel.IndexerRecord{}, err
	}
	return s.Store.GetFresh(ctx, name)
}

func (s *countingStore) Update(ctx context.Context, record indexermodel.IndexerRecord) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(record.Name)
	}
	s.mu.Lock()
	err := s.updateErr[record.Name]
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.Store.Update(ctx, record); err != nil {
		return err
	}
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return nil
}

func (s *countingStore) counts() (locks, unlocks, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks, s.unlocks, s.updates
}

// countingClock counts the timers armed through After.
type countingClock struct {
	*glock.MockClock
	afters atomic.Int32
}

func newCountingClock(now time.Time) *countingClock {
	c := &countingClock{MockClock: glock.NewMockClock()}
	c.SetCurrent(now)
	return c
}

func (c *countingClock) After(d time.Duration) <-chan time.Time {
	c.afters.Add(1)
	return c.MockClock.After(d)
}

// countingSink records sink calls.
type countingSink struct {
	observed atomic.Int32
	stamped  atomic.Int32
}

func (s *countingSink) ObserveProcessed(time.Duration) { s.observed.Add(1) }
func (s *countingSink) ReportTimestamp(time.Time)      { s.stamped.Add(1) }

var t0 = time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)

func buildOf(submit time.Time, jobIDs ...string) indexermodel.BatchBuildInfo {
	jobs := make(map[string]string, len(jobIDs))
	for _, id := range jobIDs {
		jobs[id] = "http://tracker:19888/jobs/" + id
	}
	return indexermodel.BatchBuildInfo{Jobs: jobs, SubmitTime: submit}
}

func seedActive(ctx context.Context, admin indexermodel.Admin, name string, build indexermodel.BatchBuildInfo) (indexermodel.IndexerRecord, error) {
	return admin.Put(ctx, indexermodel.IndexerRecord{
		Name:                     name,
		BatchIndexingState:       indexermodel.BatchActive,
		IncrementalIndexingState: indexermodel.IncrementalSubscribeAndConsume,
		SubscriptionID:           "sub-" + name,
		Configuration:            []byte("<indexer table=\"records\"/>"),
		ConnectionType:           "solr",
		ConnectionParams:         map[string]string{"solr.zk": "zk1:2181/solr"},
		BatchIndexArgs:           []string{"--reducers", "8"},
		ActiveBatchBuild:         &build,
	})
}
