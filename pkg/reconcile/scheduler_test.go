package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
	"github.com/3leaps/indexwarden/pkg/indexstore"
	"github.com/3leaps/indexwarden/pkg/jobstatus"
	"github.com/3leaps/indexwarden/pkg/metrics"
)

type modelStore interface {
	indexermodel.Store
	indexermodel.Admin
}

func assertEndToEnd(t *testing.T, store modelStore) {
	t.Helper()
	ctx := context.Background()
	now := t0.Add(90 * time.Minute)
	clock := newCountingClock(now)

	_, err := seedActive(ctx, store, "idx1", buildOf(t0, "job_1"))
	require.NoError(t, err)

	source := newFakeSource(map[string]jobstatus.JobState{"job_1": jobstatus.Succeeded})
	s, err := NewScheduler(store, source, Options{PollInterval: time.Second, Clock: clock})
	require.NoError(t, err)

	report := s.RunCycle(ctx)
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Committed)
	assert.False(t, report.NeedsRetry())

	got, err := store.GetFresh(ctx, "idx1")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveBatchBuild)
	assert.Equal(t, indexermodel.BatchInactive, got.BatchIndexingState)
	require.NotNil(t, got.LastBatchBuild)
	require.NotNil(t, got.LastBatchBuild.Success)
	assert.True(t, *got.LastBatchBuild.Success)
	require.NotNil(t, got.LastBatchBuild.EndTime)
	assert.True(t, got.LastBatchBuild.EndTime.Equal(now))
	assert.Equal(t, "sub-idx1", got.SubscriptionID)
}

func TestScheduler_EndToEnd_Memory(t *testing.T) {
	assertEndToEnd(t, indexermodel.NewMemoryStore(time.Second))
}

func TestScheduler_EndToEnd_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := indexstore.Open(ctx, indexstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, indexstore.Migrate(ctx, db))

	assertEndToEnd(t, indexstore.NewStore(db, indexstore.Options{LockTimeout: time.Second}))
}

func TestRunCycle_PendingAndDeferred(t *testing.T) {
	ctx := context.Background()
	mem := indexermodel.NewMemoryStore(time.Second)
	store := newCountingStore(mem)

	_, err := seedActive(ctx, mem, "running", buildOf(t0, "job_r"))
	require.NoError(t, err)
	_, err = seedActive(ctx, mem, "unreachable", buildOf(t0, "job_u", "job_ok"))
	require.NoError(t, err)
	_, err = mem.Put(ctx, indexermodel.IndexerRecord{Name: "idle"})
	require.NoError(t, err)

	source := newFakeSource(map[string]jobstatus.JobState{
		"job_r":  jobstatus.Running,
		"job_u":  jobstatus.Unreachable,
		"job_ok": jobstatus.Succeeded,
	})
	s, err := NewScheduler(store, source, Options{Clock: newCountingClock(t0)})
	require.NoError(t, err)

	report := s.RunCycle(ctx)
	assert.NoError(t, report.Err)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 2, report.Active)
	assert.Equal(t, 2, report.Pending)
	assert.True(t, report.NeedsRetry())

	byName := map[string]IndexerReport{}
	for _, ir := range report.Indexers {
		byName[ir.Name] = ir
	}
	assert.Equal(t, StatusPending, byName["running"].Status)
	assert.Equal(t, StatusDeferred, byName["unreachable"].Status)
	// job_u is the only unreachable job; whether job_ok was polled first does not matter.
	assert.Equal(t, "job_u", byName["unreachable"].UnreachableJob)

	locks, _, updates := store.counts()
	assert.Equal(t, 0, locks, "in-flight builds must not be locked")
	assert.Equal(t, 0, updates)
}

func TestRunCycle_PrepJobCommitsFailure(t *testing.T) {
	ctx := context.Background()
	mem := indexermodel.NewMemoryStore(time.Second)
	_, err := seedActive(ctx, mem, "idx1", buildOf(t0, "job_prep", "job_ok"))
	require.NoError(t, err)

	source := newFakeSource(map[string]jobstatus.JobState{
		"job_prep": jobstatus.Prep,
		"job_ok":   jobstatus.Succeeded,
	})
	s, err := NewScheduler(mem, source, Options{Clock: newCountingClock(t0)})
	require.NoError(t, err)

	report := s.RunCycle(ctx)
	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, 0, report.Pending)

	got, err := mem.GetFresh(ctx, "idx1")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveBatchBuild)
	require.NotNil(t, got.LastBatchBuild)
	require.NotNil(t, got.LastBatchBuild.Success)
	assert.False(t, *got.LastBatchBuild.Success)
}

func TestRunCycle_FailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	mem := indexermodel.NewMemoryStore(time.Second)
	store := newCountingStore(mem)

	for _, name := range []string{"idx-a", "idx-b", "idx-c"} {
		_, err := seedActive(ctx, mem, name, buildOf(t0, "job_"+name))
		require.NoError(t, err)
	}
	store.lockErr["idx-a"] = indexermodel.ErrLockUnavailable
	store.updateErr["idx-b"] = indexermodel.ErrStoreUnavailable

	source := newFakeSource(map[string]jobstatus.JobState{
		"job_idx-a": jobstatus.Succeeded,
		"job_idx-b": jobstatus.FailedOrKilled,
		"job_idx-c": jobstatus.Succeeded,
	})
	s, err := NewScheduler(store, source, Options{Clock: newCountingClock(t0)})
	require.NoError(t, err)

	report := s.RunCycle(ctx)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Committed)
	assert.True(t, report.NeedsRetry(), "failed commits are retried next cycle")
	require.Error(t, report.Err)
	assert.Len(t, report.Errors(), 2)

	c, err := mem.GetFresh(ctx, "idx-c")
	require.NoError(t, err)
	assert.Nil(t, c.ActiveBatchBuild)

	a, err := mem.GetFresh(ctx, "idx-a")
	require.NoError(t, err)
	assert.NotNil(t, a.ActiveBatchBuild)

	// Once the store recovers, the next cycle records the same outcome.
	delete(store.lockErr, "idx-a")
	delete(store.updateErr, "idx-b")
	report = s.RunCycle(ctx)
	assert.Equal(t, 2, report.Committed)
	assert.False(t, report.NeedsRetry())

	b, err := mem.GetFresh(ctx, "idx-b")
	require.NoError(t, err)
	require.NotNil(t, b.LastBatchBuild)
	assert.False(t, *b.LastBatchBuild.Success)
}

func TestRunCycle_ListFailure(t *testing.T) {
	store := newCountingStore(indexermodel.NewMemoryStore(time.Second))
	store.listErr = indexermodel.ErrStoreUnavailable

	s, err := NewScheduler(store, newFakeSource(nil), Options{Clock: newCountingClock(t0)})
	require.NoError(t, err)

	report := s.RunCycle(context.Background())
	require.Error(t, report.Err)
	assert.True(t, errors.Is(report.Err, indexermodel.ErrStoreUnavailable))
	assert.True(t, report.NeedsRetry())
	assert.ErrorIs(t, s.CheckHealth(context.Background()), indexermodel.ErrStoreUnavailable)

	store.listErr = nil
	s.RunCycle(context.Background())
	assert.NoError(t, s.CheckHealth(context.Background()))
}

func TestRunCycle_IncludePatterns(t *testing.T) {
	ctx := context.Background()
	mem := indexermodel.NewMemoryStore(time.Second)
	for _, name := range []string{"orders/primary", "orders/archive", "users"} {
		_, err := seedActive(ctx, mem, name, buildOf(t0, "job_"+name))
		require.NoError(t, err)
	}
	source := newFakeSource(map[string]jobstatus.JobState{
		"job_orders/primary": jobstatus.Succeeded,
		"job_orders/archive": jobstatus.Succeeded,
		"job_users":          jobstatus.Succeeded,
	})

	s, err := NewScheduler(mem, source, Options{Include: []string{"orders/*"}, Clock: newCountingClock(t0)})
	require.NoError(t, err)

	report := s.RunCycle(ctx)
	assert.Equal(t, 2, report.Committed)
	assert.Equal(t, 1, report.Skipped)

	users, err := mem.GetFresh(ctx, "users")
	require.NoError(t, err)
	assert.NotNil(t, users.ActiveBatchBuild)
}

func TestNewScheduler_InvalidPattern(t *testing.T) {
	_, err := NewScheduler(indexermodel.NewMemoryStore(0), newFakeSource(nil), Options{Include: []string{"orders/[a-"}})
	assert.Error(t, err)
}

func TestRunCycle_ReportsToSinkAndMetrics(t *testing.T) {
	ctx := context.Background()
	mem := indexermodel.NewMemoryStore(time.Second)
	_, err := seedActive(ctx, mem, "idx1", buildOf(t0, "job_1"))
	require.NoError(t, err)
	_, err = seedActive(ctx, mem, "idx2", buildOf(t0, "job_2"))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewReconcileMetrics(reg)
	require.NoError(t, err)
	sink := &countingSink{}

	source := newFakeSource(map[string]jobstatus.JobState{"job_1": jobstatus.Succeeded, "job_2": jobstatus.Running})
	s, err := NewScheduler(mem, source, Options{Clock: newCountingClock(t0), Sink: sink, Metrics: m})
	require.NoError(t, err)

	s.RunCycle(ctx)

	assert.Equal(t, int32(2), sink.observed.Load())
	assert.Equal(t, int32(2), sink.stamped.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cycles))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Commits.WithLabelValues("applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Pending))

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, uint64(1), last.Seq)
}

func TestRun_SingleFlightRearm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := indexermodel.NewMemoryStore(time.Second)
	for _, name := range []string{"idx-a", "idx-b", "idx-c"} {
		_, err := seedActive(ctx, mem, name, buildOf(t0, "job_"+name))
		require.NoError(t, err)
	}
	source := newFakeSource(map[string]jobstatus.JobState{
		"job_idx-a": jobstatus.Running,
		"job_idx-b": jobstatus.Running,
		"job_idx-c": jobstatus.Running,
	})
	clock := newCountingClock(t0)
	s, err := NewScheduler(mem, source, Options{PollInterval: time.Minute, Clock: clock})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitForCycle := func(seq uint64) {
		require.Eventually(t, func() bool {
			r, ok := s.LastReport()
			return ok && r.Seq >= seq
		}, 2*time.Second, 5*time.Millisecond)
	}

	waitForCycle(1)
	require.Eventually(t, s.Armed, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), clock.afters.Load(), "three pending indexers arm one timer")

	// A triggered cycle while armed does not arm a second timer.
	s.Trigger()
	waitForCycle(2)
	assert.Equal(t, int32(1), clock.afters.Load())
	assert.True(t, s.Armed())

	// Jobs finish; the retry timer fires and nothing is left to arm.
	source.set("job_idx-a", jobstatus.Succeeded)
	source.set("job_idx-b", jobstatus.Succeeded)
	source.set("job_idx-c", jobstatus.FailedOrKilled)
	clock.Advance(time.Minute)
	waitForCycle(3)
	require.Eventually(t, func() bool { return !s.Armed() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), clock.afters.Load())

	last, _ := s.LastReport()
	assert.Equal(t, 3, last.Committed)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_ResyncPicksUpNewBuilds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := indexermodel.NewMemoryStore(time.Second)
	source := newFakeSource(map[string]jobstatus.JobState{"job_1": jobstatus.Succeeded})
	clock := newCountingClock(t0)
	s, err := NewScheduler(mem, source, Options{PollInterval: time.Minute, ResyncInterval: 5 * time.Minute, Clock: clock})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		r, ok := s.LastReport()
		return ok && r.Seq == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Armed())

	// A build submitted by another process after the first cycle.
	_, err = seedActive(ctx, mem, "idx1", buildOf(t0, "job_1"))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool {
		r, ok := s.LastReport()
		return ok && r.Seq == 2 && r.Committed == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestTrigger_Coalesces(t *testing.T) {
	s, err := NewScheduler(indexermodel.NewMemoryStore(0), newFakeSource(nil), Options{})
	require.NoError(t, err)

	s.Trigger()
	s.Trigger()
	s.Trigger()
	assert.Len(t, s.trigger, 1)
}
