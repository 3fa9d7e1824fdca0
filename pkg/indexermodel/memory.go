package indexermodel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTimeout bounds how long Lock waits for a contended lock.
const DefaultLockTimeout = 5 * time.Second

const lockPollInterval = 10 * time.Millisecond

// MemoryStore is an in-process Store. It backs tests and single-process runs
// configured with store.driver=memory.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]IndexerRecord
	locks       map[string]string
	lockTimeout time.Duration
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Admin = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store. lockTimeout <= 0 uses DefaultLockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		records:     make(map[string]IndexerRecord),
		locks:       make(map[string]string),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]IndexerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]IndexerRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetFresh(ctx context.Context, name string) (IndexerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[name]
	if !ok {
		return IndexerRecord{}, storeErr("GetFresh", name, ErrNotFound)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Lock(ctx context.Context, name string, internal bool) (LockToken, error) {
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	for {
		token, err := s.tryLock(name, internal)
		if err == nil {
			return token, nil
		}
		if !IsLockUnavailable(err) {
			return LockToken{}, err
		}

		select {
		case <-ctx.Done():
			return LockToken{}, storeErr("Lock", name, fmt.Errorf("%w: %v", ErrLockUnavailable, ctx.Err()))
		case <-time.After(lockPollInterval):
		}
	}
}

func (s *MemoryStore) tryLock(name string, internal bool) (LockToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !internal {
		if r, ok := s.records[name]; ok && r.LifecycleState.IsDeletePending() {
			return LockToken{}, storeErr("Lock", name, ErrDeletePending)
		}
	}
	if _, held := s.locks[name]; held {
		return LockToken{}, storeErr("Lock", name, ErrLockUnavailable)
	}

	token := LockToken{Indexer: name, Token: uuid.New().String(), AcquiredAt: time.Now().UTC()}
	s.locks[name] = token.Token
	return token, nil
}

// Unlock releases the lock immediately; waitForVisibility has nothing to wait
// for in-process.
func (s *MemoryStore) Unlock(ctx context.Context, token LockToken, waitForVisibility bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.locks[token.Indexer]
	if !ok || held != token.Token {
		return storeErr("Unlock", token.Indexer, fmt.Errorf("lock not held by token %s", token.Token))
	}
	delete(s.locks, token.Indexer)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, record IndexerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[record.Name]
	if !ok {
		return storeErr("Update", record.Name, ErrNotFound)
	}
	if current.Version != record.Version {
		return storeErr("Update", record.Name, fmt.Errorf("%w: have %d, stored %d", ErrConflict, record.Version, current.Version))
	}

	next := record.Clone()
	next.Version = current.Version + 1
	s.records[record.Name] = next
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, record IndexerRecord) (IndexerRecord, error) {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return IndexerRecord{}, storeErr("Put", "", fmt.Errorf("indexer name is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := Normalize(record.Clone())
	next.Name = name
	next.Version = 1
	if current, ok := s.records[name]; ok {
		next.Version = current.Version + 1
	}
	s.records[name] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return storeErr("Delete", name, ErrNotFound)
	}
	delete(s.records, name)
	return nil
}

// Normalize fills unset lifecycle, batch and incremental states with their
// defaults. Store implementations apply it on Put.
func Normalize(r IndexerRecord) IndexerRecord {
	if r.LifecycleState == "" {
		r.LifecycleState = LifecycleActive
	}
	if r.BatchIndexingState == "" {
		r.BatchIndexingState = BatchInactive
	}
	if r.IncrementalIndexingState == "" {
		r.IncrementalIndexingState = IncrementalDefault
	}
	return r
}
