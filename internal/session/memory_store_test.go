package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLoadMissReturnsIdle(t *testing.T) {
	store := NewMemoryStore(time.Hour)

	sess, err := store.Load(context.Background(), "web_user")
	require.NoError(t, err)
	assert.Equal(t, "web_user", sess.UserID)
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, int64(0), sess.Version)
	assert.True(t, sess.Draft.Empty())
}

func TestMemoryStoreSaveCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	first, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	stale, err := store.Load(ctx, "u1")
	require.NoError(t, err)

	first.State = StateAwaitingEquipment
	require.NoError(t, store.Save(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	stale.State = StateQueryingOT
	assert.ErrorIs(t, store.Save(ctx, stale), ErrConflict)

	got, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingEquipment, got.State)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	sess, _ := store.Load(ctx, "u1")
	sess.State = StateAwaitingDescription
	sess.Draft.Equipment = &EquipmentRef{ID: 3, Name: "Camión 12"}
	require.NoError(t, store.Save(ctx, sess))

	loaded, _ := store.Load(ctx, "u1")
	loaded.Draft.Equipment.Name = "mutated"

	again, _ := store.Load(ctx, "u1")
	assert.Equal(t, "Camión 12", again.Draft.Equipment.Name)
}

func TestMemoryStoreResetAndIdleSince(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	sess, _ := store.Load(ctx, "u1")
	sess.State = StateQueryingOT
	require.NoError(t, store.Save(ctx, sess))

	ids, err := store.IdleSince(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	ids, err = store.IdleSince(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.Reset(ctx, "u1"))
	got, _ := store.Load(ctx, "u1")
	assert.Equal(t, StateIdle, got.State)
	assert.Equal(t, int64(2), got.Version)

	ids, err = store.IdleSince(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStoreResetRejectsStaleWriter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	sess, _ := store.Load(ctx, "u1")
	sess.State = StateAwaitingDescription
	require.NoError(t, store.Save(ctx, sess))
	stale, _ := store.Load(ctx, "u1")

	require.NoError(t, store.Reset(ctx, "u1"))

	stale.State = StateAwaitingPriority
	assert.ErrorIs(t, store.Save(ctx, stale), ErrConflict)
}

func TestMemoryStoreExpireComparesVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)

	sess, _ := store.Load(ctx, "u1")
	sess.State = StateQueryingOT
	require.NoError(t, store.Save(ctx, sess))

	assert.ErrorIs(t, store.Expire(ctx, "u1", 0), ErrConflict)
	got, _ := store.Load(ctx, "u1")
	assert.Equal(t, StateQueryingOT, got.State)

	require.NoError(t, store.Expire(ctx, "u1", 1))
	got, _ = store.Load(ctx, "u1")
	assert.Equal(t, StateIdle, got.State)
	assert.Equal(t, int64(2), got.Version)
}
