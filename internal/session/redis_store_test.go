package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour), mr, client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newTestRedisStore(t)

	sess, err := store.Load(ctx, "whatsapp:+56911111111")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)

	sess.State = StateAwaitingPriority
	sess.Draft = Draft{
		Equipment:   &EquipmentRef{ID: 12, Name: "Excavadora 01", Code: "EXC-001"},
		Description: "pierde aceite hidráulico",
	}
	require.NoError(t, store.Save(ctx, sess))
	assert.Equal(t, int64(1), sess.Version)

	assert.True(t, mr.Exists("cmms:session:whatsapp:+56911111111"))
	ttl := mr.TTL("cmms:session:whatsapp:+56911111111")
	assert.Equal(t, time.Hour, ttl)

	loaded, err := store.Load(ctx, "whatsapp:+56911111111")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPriority, loaded.State)
	require.NotNil(t, loaded.Draft.Equipment)
	assert.Equal(t, 12, loaded.Draft.Equipment.ID)
	assert.Equal(t, "pierde aceite hidráulico", loaded.Draft.Description)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestRedisStoreConflict(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestRedisStore(t)

	a, _ := store.Load(ctx, "u1")
	b, _ := store.Load(ctx, "u1")

	a.State = StateAwaitingEquipment
	require.NoError(t, store.Save(ctx, a))

	b.State = StateQueryingOT
	assert.ErrorIs(t, store.Save(ctx, b), ErrConflict)

	// A reload picks up the winning version and can save again.
	c, _ := store.Load(ctx, "u1")
	c.State = StateAwaitingDescription
	require.NoError(t, store.Save(ctx, c))
	assert.Equal(t, int64(2), c.Version)
}

func TestRedisStoreUnreadablePayloadLoadsIdle(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newTestRedisStore(t)

	require.NoError(t, mr.Set("cmms:session:u1", `{"state":"reporting_fault","version":3}`))

	sess, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, int64(3), sess.Version)
	require.NoError(t, store.Save(ctx, sess))
}

func TestRedisStoreIdleSinceAndReset(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newTestRedisStore(t)

	sess, _ := store.Load(ctx, "u1")
	sess.State = StateQueryingOT
	require.NoError(t, store.Save(ctx, sess))

	ids, err := store.IdleSince(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	ids, err = store.IdleSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.Reset(ctx, "u1"))
	assert.True(t, mr.Exists("cmms:session:u1"))
	ids, err = store.IdleSince(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)

	got, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, got.State)
	assert.Equal(t, int64(2), got.Version)

	// A writer still holding version 1 cannot bring the draft back.
	assert.ErrorIs(t, store.Save(ctx, sess), ErrConflict)
}

func TestRedisStoreIdleSessionsAreNotIndexed(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestRedisStore(t)

	sess, _ := store.Load(ctx, "u1")
	require.NoError(t, store.Save(ctx, sess))

	ids, err := store.IdleSince(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStoreExpireComparesVersion(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestRedisStore(t)

	sess, _ := store.Load(ctx, "u1")
	sess.State = StateAwaitingPriority
	require.NoError(t, store.Save(ctx, sess))
	require.NoError(t, store.Save(ctx, sess))

	assert.ErrorIs(t, store.Expire(ctx, "u1", 1), ErrConflict)
	got, _ := store.Load(ctx, "u1")
	assert.Equal(t, StateAwaitingPriority, got.State)

	require.NoError(t, store.Expire(ctx, "u1", 2))
	got, _ = store.Load(ctx, "u1")
	assert.Equal(t, StateIdle, got.State)
	assert.Equal(t, int64(3), got.Version)
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newTestRedisStore(t)
	mr.Close()

	_, err := store.Load(ctx, "u1")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = store.Save(ctx, New("u1"))
	assert.ErrorIs(t, err, ErrUnavailable)
}
