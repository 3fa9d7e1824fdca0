package indexermodel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetFresh(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	stored, err := s.Put(ctx, IndexerRecord{Name: " idx1 "})
	require.NoError(t, err)
	assert.Equal(t, "idx1", stored.Name)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, LifecycleActive, stored.LifecycleState)
	assert.Equal(t, BatchInactive, stored.BatchIndexingState)

	got, err := s.GetFresh(ctx, "idx1")
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	_, err = s.GetFresh(ctx, "nope")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_UpdateIsVersionConditional(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, err := s.Put(ctx, sampleRecord())
	require.NoError(t, err)

	fresh, err := s.GetFresh(ctx, "idx1")
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, fresh.With(WithBatchIndexingState(BatchInactive))))

	// Second write from the same (now stale) snapshot must conflict.
	err = s.Update(ctx, fresh.With(WithoutActiveBatchBuild()))
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	after, err := s.GetFresh(ctx, "idx1")
	require.NoError(t, err)
	assert.Equal(t, fresh.Version+1, after.Version)
	assert.NotNil(t, after.ActiveBatchBuild)

	err = s.Update(ctx, IndexerRecord{Name: "ghost"})
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_LockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(50 * time.Millisecond)

	token, err := s.Lock(ctx, "idx1", true)
	require.NoError(t, err)

	_, err = s.Lock(ctx, "idx1", true)
	require.Error(t, err)
	assert.True(t, IsLockUnavailable(err))

	// Other names are independent.
	other, err := s.Lock(ctx, "idx2", true)
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, other, true))

	require.NoError(t, s.Unlock(ctx, token, true))

	again, err := s.Lock(ctx, "idx1", true)
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, again, false))
}

func TestMemoryStore_LockWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2 * time.Second)

	token, err := s.Lock(ctx, "idx1", true)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = s.Unlock(ctx, token, true)
	}()

	second, err := s.Lock(ctx, "idx1", true)
	require.NoError(t, err)
	assert.NotEqual(t, token.Token, second.Token)
}

func TestMemoryStore_UnlockWithStaleToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	token, err := s.Lock(ctx, "idx1", true)
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, token, true))

	assert.Error(t, s.Unlock(ctx, token, true))
}

func TestMemoryStore_DeletePendingGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, err := s.Put(ctx, sampleRecord().With(WithLifecycleState(LifecycleDeleteRequested)))
	require.NoError(t, err)

	_, err = s.Lock(ctx, "idx1", false)
	require.Error(t, err)
	assert.True(t, IsDeletePending(err))

	token, err := s.Lock(ctx, "idx1", true)
	require.NoError(t, err, "internal locks bypass the delete-pending guard")
	require.NoError(t, s.Unlock(ctx, token, true))
}

func TestMemoryStore_ListIsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, err := s.Put(ctx, IndexerRecord{Name: "b"})
	require.NoError(t, err)
	_, err = s.Put(ctx, IndexerRecord{Name: "a"})
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)

	_, err = s.Put(ctx, IndexerRecord{Name: "c"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.True(t, IsNotFound(s.Delete(ctx, "a")))
}
