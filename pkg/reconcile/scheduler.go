package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/efritz/glock"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/3leaps/indexwarden/pkg/batch"
	"github.com/3leaps/indexwarden/pkg/indexermodel"
	"github.com/3leaps/indexwarden/pkg/jobstatus"
	"github.com/3leaps/indexwarden/pkg/metrics"
)

// DefaultPollInterval is used when Options.PollInterval is unset.
const DefaultPollInterval = 60 * time.Second

// Options configures a Scheduler.
type Options struct {
	// PollInterval is the delay before re-checking builds that were still in
	// flight.
	PollInterval time.Duration

	// ResyncInterval runs a cycle periodically regardless of pending builds,
	// picking up builds started by other processes. Zero disables it.
	ResyncInterval time.Duration

	// Include limits reconciliation to indexer names matching any of these
	// doublestar patterns. Empty matches every indexer.
	Include []string

	Clock   glock.Clock
	Logger  *zap.Logger
	Sink    metrics.Sink
	Metrics *metrics.ReconcileMetrics
}

// Status of one indexer after a cycle.
const (
	StatusPending   = "pending"
	StatusDeferred  = "deferred"
	StatusCommitted = "committed"
	StatusRaced     = "raced"
	StatusFailed    = "failed"
)

// IndexerReport describes what a cycle did with one indexer.
type IndexerReport struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Jobs    int    `json:"jobs"`
	Success *bool  `json:"success,omitempty"`
	// UnreachableJob is set when polling was deferred.
	UnreachableJob string `json:"unreachable_job,omitempty"`
	Error          string `json:"error,omitempty"`
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	Seq       uint64          `json:"seq"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
	Scanned   int             `json:"scanned"`
	Skipped   int             `json:"skipped"`
	Active    int             `json:"active"`
	Committed int             `json:"committed"`
	Raced     int             `json:"raced"`
	Pending   int             `json:"pending"`
	Failed    int             `json:"failed"`
	Indexers  []IndexerReport `json:"indexers"`

	// Err aggregates listing and commit failures.
	Err error `json:"-"`

	listFailed bool
}

// NeedsRetry reports whether a later cycle has work left: a build still in
// flight, a failed commit, or a failed listing.
func (r CycleReport) NeedsRetry() bool {
	return r.Pending > 0 || r.Failed > 0 || r.listFailed
}

// Errors returns the aggregated errors as strings.
func (r CycleReport) Errors() []string {
	if r.Err == nil {
		return nil
	}
	if merr, ok := r.Err.(*multierror.Error); ok {
		out := make([]string, 0, len(merr.Errors))
		for _, err := range merr.Errors {
			out = append(out, err.Error())
		}
		return out
	}
	return []string{r.Err.Error()}
}

// Scheduler runs reconciliation cycles.
type Scheduler struct {
	store     indexermodel.Store
	evaluator *batch.Evaluator
	committer *Committer
	opts      Options

	// cycleMu serializes cycles started by Run and by direct RunCycle calls.
	cycleMu sync.Mutex
	seq     uint64

	armed   atomic.Bool
	trigger chan struct{}

	lastMu sync.RWMutex
	last   *CycleReport
}

// NewScheduler builds a scheduler reading build state from store and job
// state from source.
func NewScheduler(store indexermodel.Store, source jobstatus.Source, opts Options) (*Scheduler, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ResyncInterval < 0 {
		return nil, fmt.Errorf("resync interval must not be negative")
	}
	for _, p := range opts.Include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid indexer include pattern %q", p)
		}
	}
	if opts.Clock == nil {
		opts.Clock = glock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = metrics.Nop{}
	}

	return &Scheduler{
		store:     store,
		evaluator: batch.NewEvaluator(source, opts.Logger),
		committer: NewCommitter(store, opts.Clock, opts.Logger),
		opts:      opts,
		trigger:   make(chan struct{}, 1),
	}, nil
}

// Armed reports whether a retry cycle is scheduled.
func (s *Scheduler) Armed() bool {
	return s.armed.Load()
}

// Trigger requests a cycle as soon as Run is idle. Requests made while one is
// already queued are coalesced.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// LastReport returns the most recent cycle report, if any.
func (s *Scheduler) LastReport() (CycleReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// CheckHealth fails while the most recent cycle could not list indexers.
func (s *Scheduler) CheckHealth(ctx context.Context) error {
	report, ok := s.LastReport()
	if ok && report.listFailed {
		return fmt.Errorf("last cycle %d could not list indexers: %w", report.Seq, report.Err)
	}
	return nil
}

// Run executes a cycle immediately and then whenever the retry timer, a
// trigger or the resync interval fires. It returns ctx.Err() once ctx is done.
//
// At most one retry timer is armed at a time, however many builds are still
// in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.opts.Logger
	log.Info("Reconciler started",
		zap.Duration("poll_interval", s.opts.PollInterval),
		zap.Duration("resync_interval", s.opts.ResyncInterval),
		zap.Strings("include", s.opts.Include))

	var resync <-chan time.Time
	if s.opts.ResyncInterval > 0 {
		resync = s.opts.Clock.After(s.opts.ResyncInterval)
	}

	rearm := s.arm(s.RunCycle(ctx), nil)
	for {
		select {
		case <-ctx.Done():
			log.Info("Reconciler stopped")
			return ctx.Err()
		case <-rearm:
			rearm = nil
			s.armed.Store(false)
		case <-s.trigger:
		case <-resync:
			resync = s.opts.Clock.After(s.opts.ResyncInterval)
		}

		if ctx.Err() != nil {
			continue
		}
		rearm = s.arm(s.RunCycle(ctx), rearm)
	}
}

// arm returns the retry channel to wait on: the current one if a timer is
// already armed, a new one if the report needs a retry, nil otherwise.
func (s *Scheduler) arm(report CycleReport, current <-chan time.Time) <-chan time.Time {
	if current != nil || !report.NeedsRetry() {
		return current
	}
	ch := s.opts.Clock.After(s.opts.PollInterval)
	s.armed.Store(true)
	s.opts.Logger.Debug("Armed reconciliation retry",
		zap.Duration("after", s.opts.PollInterval),
		zap.Int("pending", report.Pending),
		zap.Int("failed", report.Failed))
	return ch
}

// RunCycle makes one pass over a snapshot of the indexers. A failure on one
// indexer never stops the others.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.seq++
	clock := s.opts.Clock
	report := CycleReport{Seq: s.seq, StartedAt: clock.Now().UTC()}
	var errs *multierror.Error

	records, err := s.store.List(ctx)
	if err != nil {
		s.opts.Logger.Error("Could not list indexers", zap.Error(err))
		report.listFailed = true
		errs = multierror.Append(errs, fmt.Errorf("list indexers: %w", err))
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		if !s.included(rec.Name) {
			report.Skipped++
			continue
		}
		if !rec.HasActiveBuild() {
			continue
		}
		report.Active++

		started := clock.Now()
		ir, err := s.reconcileIndexer(ctx, rec)
		s.opts.Sink.ObserveProcessed(clock.Now().Sub(started))
		s.opts.Sink.ReportTimestamp(clock.Now())

		switch ir.Status {
		case StatusPending, StatusDeferred:
			report.Pending++
		case StatusCommitted:
			report.Committed++
		case StatusRaced:
			report.Raced++
		case StatusFailed:
			report.Failed++
			errs = multierror.Append(errs, err)
		}
		report.Indexers = append(report.Indexers, ir)
	}

	report.Err = errs.ErrorOrNil()
	report.Duration = clock.Now().Sub(report.StartedAt)
	s.record(report)
	return report
}

func (s *Scheduler) reconcileIndexer(ctx context.Context, rec indexermodel.IndexerRecord) (IndexerReport, error) {
	build := rec.ActiveBatchBuild
	ir := IndexerReport{Name: rec.Name, Jobs: len(build.Jobs)}
	log := s.opts.Logger.With(zap.String("indexer", rec.Name))

	outcome := s.evaluator.Evaluate(ctx, build.Jobs)
	if !outcome.Done {
		ir.Status = StatusPending
		if outcome.Deferred() {
			ir.Status = StatusDeferred
			ir.UnreachableJob = outcome.UnreachableJob
		}
		s.observeEvaluation(ir.Status)
		log.Debug("Batch build still in flight", zap.String("status", ir.Status))
		return ir, nil
	}

	success := outcome.Success
	ir.Success = &success
	s.observeEvaluation("done")

	result, err := s.committer.Commit(ctx, rec.Name, build, success)
	s.observeCommit(result)
	switch result {
	case CommitApplied:
		ir.Status = StatusCommitted
	case CommitRaced:
		ir.Status = StatusRaced
	default:
		ir.Status = StatusFailed
		ir.Error = err.Error()
		log.Error("Could not record batch build outcome",
			zap.Bool("success", success),
			zap.String("result", result.String()),
			zap.Error(err))
	}
	return ir, err
}

func (s *Scheduler) included(name string) bool {
	if len(s.opts.Include) == 0 {
		return true
	}
	for _, p := range s.opts.Include {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (s *Scheduler) record(report CycleReport) {
	s.lastMu.Lock()
	s.last = &report
	s.lastMu.Unlock()

	if m := s.opts.Metrics; m != nil {
		m.Cycles.Inc()
		m.CycleDuration.Observe(report.Duration.Seconds())
		m.Pending.Set(float64(report.Pending))
	}
}

func (s *Scheduler) observeEvaluation(outcome string) {
	if m := s.opts.Metrics; m != nil {
		m.Evaluations.WithLabelValues(outcome).Inc()
	}
}

func (s *Scheduler) observeCommit(result CommitResult) {
	if m := s.opts.Metrics; m != nil {
		m.Commits.WithLabelValues(result.String()).Inc()
	}
}
