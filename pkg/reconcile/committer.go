// Package reconcile drives batch builds to completion: it polls the jobs of
// every active build and records finished outcomes in the indexer model.
package reconcile

import (
	"context"
	"fmt"

	"github.com/efritz/glock"
	"go.uber.org/zap"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// CommitResult is the outcome of one commit attempt.
type CommitResult int

const (
	// CommitApplied means the outcome was written.
	CommitApplied CommitResult = iota
	// CommitRaced means another writer already cleared or replaced the
	// evaluated build. Nothing was written and nothing is left to do.
	CommitRaced
	// CommitLockFailed means the lock could not be acquired. The active build
	// is untouched and the next cycle retries.
	CommitLockFailed
	// CommitFailed means the fresh read or the write failed under the lock.
	CommitFailed
)

func (r CommitResult) String() string {
	switch r {
	case CommitApplied:
		return "applied"
	case CommitRaced:
		return "raced"
	case CommitLockFailed:
		return "lock_failed"
	case CommitFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Retryable reports whether the build is still active after this result.
func (r CommitResult) Retryable() bool {
	return r == CommitLockFailed || r == CommitFailed
}

// Committer records finished batch builds.
type Committer struct {
	store  indexermodel.Store
	clock  glock.Clock
	logger *zap.Logger
}

// NewCommitter returns a committer writing through store. A nil clock uses the
// real clock and a nil logger discards output.
func NewCommitter(store indexermodel.Store, clock glock.Clock, logger *zap.Logger) *Committer {
	if clock == nil {
		clock = glock.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{store: store, clock: clock, logger: logger}
}

// Commit moves the active build of name into its last build with the given
// outcome and marks batch indexing inactive.
//
// evaluated is the build the outcome was computed for. When set, a fresh
// active build describing a different attempt is treated as a race.
//
// The lock is taken in internal mode and released exactly once on every path
// after it was acquired. Unlock failures are logged and never returned.
func (c *Committer) Commit(ctx context.Context, name string, evaluated *indexermodel.BatchBuildInfo, success bool) (CommitResult, error) {
	log := c.logger.With(zap.String("indexer", name), zap.Bool("success", success))

	token, err := c.store.Lock(ctx, name, true)
	if err != nil {
		return CommitLockFailed, fmt.Errorf("lock indexer %s to record batch build outcome (success=%t): %w", name, success, err)
	}
	defer func() {
		// Release even if the caller's context was cancelled mid-commit.
		if err := c.store.Unlock(context.WithoutCancel(ctx), token, true); err != nil {
			log.Error("Could not release indexer lock", zap.Error(err))
		}
	}()

	fresh, err := c.store.GetFresh(ctx, name)
	if err != nil {
		return CommitFailed, fmt.Errorf("read indexer %s to record batch build outcome (success=%t): %w", name, success, err)
	}

	active := fresh.ActiveBatchBuild
	if active == nil {
		log.Warn("Active batch build already cleared, skipping commit")
		return CommitRaced, nil
	}
	if evaluated != nil && !active.SameAttempt(*evaluated) {
		log.Warn("Active batch build replaced since evaluation, skipping commit",
			zap.Time("evaluated_submit_time", evaluated.SubmitTime),
			zap.Time("active_submit_time", active.SubmitTime))
		return CommitRaced, nil
	}

	finished := active.Finish(success, c.clock.Now())
	next := fresh.With(
		indexermodel.WithLastBatchBuild(finished),
		indexermodel.WithoutActiveBatchBuild(),
		indexermodel.WithBatchIndexingState(indexermodel.BatchInactive),
	)

	if err := c.store.Update(ctx, next); err != nil {
		return CommitFailed, fmt.Errorf("write batch build outcome for indexer %s (success=%t): %w", name, success, err)
	}

	log.Info("Recorded batch build outcome",
		zap.Int("jobs", len(finished.Jobs)),
		zap.Time("end_time", *finished.EndTime))
	return CommitApplied, nil
}
