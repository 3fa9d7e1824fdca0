package indexermodel

import (
	"context"
	"time"
)

// LockToken identifies a held indexer lock. It is opaque to callers beyond
// passing it back to Unlock.
type LockToken struct {
	Indexer    string
	Token      string
	AcquiredAt time.Time
}

// Reader is the read side of the model store.
type Reader interface {
	// List returns a point-in-time snapshot of all indexers.
	List(ctx context.Context) ([]IndexerRecord, error)

	// GetFresh reads the current record, bypassing any cache. It fails with
	// ErrNotFound if the indexer no longer exists.
	GetFresh(ctx context.Context, name string) (IndexerRecord, error)
}

// Store is the shared, versioned, lock-guarded indexer model.
type Store interface {
	Reader

	// Lock acquires the exclusive lock for name. internal=true skips the
	// delete-pending guard. Fails with ErrLockUnavailable on contention or
	// timeout.
	Lock(ctx context.Context, name string, internal bool) (LockToken, error)

	// Unlock releases a lock. With waitForVisibility it returns only once the
	// release is observable by other lockers.
	Unlock(ctx context.Context, token LockToken, waitForVisibility bool) error

	// Update writes record if its Version still matches the stored version.
	// Fails with ErrConflict on mismatch and ErrNotFound if deleted.
	Update(ctx context.Context, record IndexerRecord) error
}

// Admin holds operator-facing writes that the reconciliation core never uses.
type Admin interface {
	// Put creates or replaces a record regardless of version.
	Put(ctx context.Context, record IndexerRecord) (IndexerRecord, error)

	// Delete removes a record.
	Delete(ctx context.Context, name string) error
}
