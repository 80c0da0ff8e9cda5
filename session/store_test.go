package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"flowline.dev/common"
	"flowline.dev/log"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+mr.Addr()+"/0", time.Minute, log.New(log.DefaultConfig(), "session-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestEnsureCreated_FirstContact(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, created, err := store.EnsureCreated(ctx, "+1555", common.PlatformWhatsApp)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, common.PlatformWhatsApp, sess.Platform)

	_, createdAgain, err := store.EnsureCreated(ctx, "+1555", common.PlatformWhatsApp)
	require.NoError(t, err)
	require.False(t, createdAgain)
}

func TestSetDataAndGetData(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetData(ctx, "r1", "cart_id", "abc123"))
	v, ok, err := store.GetData(ctx, "r1", "cart_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", v)

	_, ok, err = store.GetData(ctx, "r1", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetMany_WellKnownFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetMany(ctx, "r2", map[string]interface{}{
		"user_id":       "u1",
		"authenticated": true,
		"anything_else": 42,
	}))

	sess, found, err := store.Get(ctx, "r2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "u1", sess.UserID)
	require.True(t, sess.Authenticated)
	require.EqualValues(t, 42, sess.FlowData["anything_else"])
}

func TestTouch_ResetsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetData(ctx, "r3", "k", "v"))
	mr.FastForward(50 * time.Second)
	require.NoError(t, store.Touch(ctx, "r3"))
	mr.FastForward(50 * time.Second)

	_, found, err := store.Get(ctx, "r3")
	require.NoError(t, err)
	require.True(t, found)
}

func TestClear(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetData(ctx, "r4", "k", "v"))
	require.NoError(t, store.Clear(ctx, "r4"))

	_, found, err := store.Get(ctx, "r4")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAppendHistory_TrimsToLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < historyLimit+5; i++ {
		require.NoError(t, store.AppendHistory(ctx, "r5", "turn"))
	}

	sess, found, err := store.Get(ctx, "r5")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, sess.ConversationHistory, historyLimit)
}

func TestGet_UnreachableCacheDegradesToEmpty(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	sess, found, err := store.Get(context.Background(), "rX")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, sess)
}
