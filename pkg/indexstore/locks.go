package indexstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/indexwarden/pkg/indexermodel"
)

// leaseTimeFormat is fixed-width so lease timestamps compare correctly as text.
const leaseTimeFormat = "2006-01-02T15:04:05.000000000Z"

// Lock acquires the lease-based lock for name, polling until LockTimeout
// elapses. A lock whose lease has expired is taken over.
func (s *Store) Lock(ctx context.Context, name string, internal bool) (indexermodel.LockToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()

	if !internal {
		if err := s.checkNotDeletePending(ctx, name); err != nil {
			return indexermodel.LockToken{}, err
		}
	}

	for {
		token, err := s.tryLock(ctx, name, internal)
		if err == nil {
			return token, nil
		}
		if !indexermodel.IsLockUnavailable(err) {
			return indexermodel.LockToken{}, err
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return indexermodel.LockToken{}, &indexermodel.StoreError{
				Op:      "Lock",
				Indexer: name,
				Err:     fmt.Errorf("%w: %v", indexermodel.ErrLockUnavailable, ctx.Err()),
			}
		case <-timer.C:
		}
	}
}

func (s *Store) checkNotDeletePending(ctx context.Context, name string) error {
	var lifecycle string
	err := s.db.QueryRowContext(ctx, `SELECT lifecycle_state FROM indexers WHERE name=?`, name).Scan(&lifecycle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return unavailable("Lock", name, err)
	}
	if indexermodel.LifecycleState(lifecycle).IsDeletePending() {
		return &indexermodel.StoreError{Op: "Lock", Indexer: name, Err: indexermodel.ErrDeletePending}
	}
	return nil
}

func (s *Store) tryLock(ctx context.Context, name string, internal bool) (indexermodel.LockToken, error) {
	now := s.opts.Clock.Now().UTC()
	token := indexermodel.LockToken{Indexer: name, Token: uuid.New().String(), AcquiredAt: now}
	nowText := now.Format(leaseTimeFormat)
	expires := now.Add(s.opts.LockLease).Format(leaseTimeFormat)

	res, err := s.db.ExecContext(ctx, `INSERT INTO indexer_locks (name, token, internal, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			token=excluded.token,
			internal=excluded.internal,
			acquired_at=excluded.acquired_at,
			expires_at=excluded.expires_at
		WHERE indexer_locks.expires_at <= ?`,
		name, token.Token, boolToInt(internal), nowText, expires, nowText,
	)
	if err != nil {
		if ctx.Err() != nil {
			return indexermodel.LockToken{}, &indexermodel.StoreError{Op: "Lock", Indexer: name, Err: fmt.Errorf("%w: %v", indexermodel.ErrLockUnavailable, err)}
		}
		return indexermodel.LockToken{}, unavailable("Lock", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return indexermodel.LockToken{}, unavailable("Lock", name, err)
	}
	if n == 0 {
		return indexermodel.LockToken{}, &indexermodel.StoreError{Op: "Lock", Indexer: name, Err: indexermodel.ErrLockUnavailable}
	}
	return token, nil
}

// Unlock releases the lock held by token. With waitForVisibility it polls
// until the lock row is gone or UnlockVisibilityTimeout elapses.
func (s *Store) Unlock(ctx context.Context, token indexermodel.LockToken, waitForVisibility bool) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexer_locks WHERE name=? AND token=?`, token.Indexer, token.Token)
	if err != nil {
		return unavailable("Unlock", token.Indexer, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("Unlock", token.Indexer, err)
	}
	if n == 0 {
		return &indexermodel.StoreError{Op: "Unlock", Indexer: token.Indexer, Err: fmt.Errorf("lock not held by token %s", token.Token)}
	}
	if !waitForVisibility {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.UnlockVisibilityTimeout)
	defer cancel()
	for {
		var held int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexer_locks WHERE name=? AND token=?`,
			token.Indexer, token.Token).Scan(&held)
		if err == nil && held == 0 {
			return nil
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if err != nil {
				return unavailable("Unlock", token.Indexer, err)
			}
			return &indexermodel.StoreError{Op: "Unlock", Indexer: token.Indexer, Err: fmt.Errorf("release not visible: %w", ctx.Err())}
		case <-timer.C:
		}
	}
}

// HeldLocks returns the names of indexers whose lock lease is still valid.
func (s *Store) HeldLocks(ctx context.Context) ([]string, error) {
	now := s.opts.Clock.Now().UTC().Format(leaseTimeFormat)
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM indexer_locks WHERE expires_at > ? ORDER BY name`, now)
	if err != nil {
		return nil, unavailable("HeldLocks", "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("HeldLocks", "", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("HeldLocks", "", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
