package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

type fixture struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *repository.RedisStore
	feed   *Feed
}

// close stops redis before goleak runs, so only feed goroutines can leak.
func (f *fixture) close() {
	_ = f.client.Close()
	f.mr.Close()
}

func setup(t *testing.T, buffer int) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})

	keys := repository.Keys{Prefix: "test:"}
	store := repository.NewRedisStore(client, keys, 50, zerolog.Nop())
	_, err = store.Provision(context.Background(), &model.Channel{
		ID:          "ch-1",
		Name:        "Main",
		ChannelCode: "GFX1",
		ChannelType: model.ChannelTypeGraphics,
		LayerCount:  2,
	})
	require.NoError(t, err)

	return &fixture{
		mr:     mr,
		client: client,
		store:  store,
		feed:   New(client, keys, store, buffer, zerolog.Nop()),
	}
}

func next[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Updates():
		require.True(t, ok, "subscription ended early: %v", sub.Err())
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed update")
	}
	var zero T
	return zero
}

func appendCommand(t *testing.T, store *repository.RedisStore, typ model.CommandType) *model.ChannelState {
	t.Helper()
	st, err := store.AppendCommand(context.Background(), "ch-1", &model.PlayerCommand{
		ID:        string(typ),
		Type:      typ,
		ChannelID: "ch-1",
		Timestamp: time.Now().UTC(),
	}, nil)
	require.NoError(t, err)
	return st
}

func TestSubscribeState_SnapshotThenUpdates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	appendCommand(t, f.store, model.CommandInitialize)

	sub, err := f.feed.SubscribeState(context.Background(), "ch-1")
	require.NoError(t, err)
	defer sub.Close()

	first := next(t, sub)
	assert.Equal(t, int64(1), first.CommandSequence)

	appendCommand(t, f.store, model.CommandPlay)
	appendCommand(t, f.store, model.CommandStop)

	second := next(t, sub)
	third := next(t, sub)
	assert.Equal(t, int64(2), second.CommandSequence)
	assert.Equal(t, int64(3), third.CommandSequence)
	assert.Equal(t, model.CommandStop, third.PendingCommand.Type)
}

func TestSubscribeState_UnknownChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	_, err := f.feed.SubscribeState(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrChannelNotFound)
}

func TestSubscribeState_SlowSubscriberKeepsNewest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 2)
	defer f.close()

	sub, err := f.feed.SubscribeState(context.Background(), "ch-1")
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		appendCommand(t, f.store, model.CommandUpdate)
	}

	// Whatever was discarded, sequences arrive in order and end at the newest.
	var last int64 = -1
	deadline := time.After(3 * time.Second)
	for last < 10 {
		select {
		case st := <-sub.Updates():
			assert.Greater(t, st.CommandSequence, last)
			last = st.CommandSequence
		case <-deadline:
			t.Fatalf("newest snapshot never delivered, last=%d", last)
		}
	}
}

func TestSubscribeChannels_SnapshotAndEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	sub, err := f.feed.SubscribeChannels(context.Background(), WithBuffer(32))
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	assert.Equal(t, model.ChannelEventSnapshot, snap.Type)
	assert.Equal(t, "ch-1", snap.Channel.ID)
	assert.False(t, snap.WentOffline())

	_, err = f.store.UpdateChannel(context.Background(), "ch-1", func(ch *model.Channel) error {
		ch.PlayerStatus = model.PlayerStatusConnected
		return nil
	})
	require.NoError(t, err)
	_, err = f.store.UpdateChannel(context.Background(), "ch-1", func(ch *model.Channel) error {
		ch.PlayerStatus = model.PlayerStatusDisconnected
		return nil
	})
	require.NoError(t, err)

	online := next(t, sub)
	assert.Equal(t, model.PlayerStatusConnected, online.Channel.PlayerStatus)
	offline := next(t, sub)
	assert.True(t, offline.WentOffline())
}

func TestSubscription_CloseIsCleanAndIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	sub, err := f.feed.SubscribeState(context.Background(), "ch-1")
	require.NoError(t, err)
	next(t, sub)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Err())

	_, ok := <-sub.Updates()
	assert.False(t, ok)
}

func TestSubscription_ContextCancelEndsStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.feed.SubscribeState(ctx, "ch-1")
	require.NoError(t, err)
	next(t, sub)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop on cancel")
	}
	assert.NoError(t, sub.Err())
}

func TestSubscription_ConnectionLossEndsWithError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	sub, err := f.feed.SubscribeState(context.Background(), "ch-1")
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	f.mr.Close()

	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not end after connection loss")
	}
	assert.True(t, errors.Is(sub.Err(), model.ErrSubscription))
}

func TestSubscribeChannels_OverflowEndsStreamWithoutDiscarding(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := setup(t, 8)
	defer f.close()

	sub, err := f.feed.SubscribeChannels(context.Background(), WithBuffer(2))
	require.NoError(t, err)
	defer sub.Close()

	// Nobody reads: the snapshot and two events fill the buffer, the third
	// event cannot be queued.
	statuses := []model.PlayerStatus{
		model.PlayerStatusConnected,
		model.PlayerStatusDisconnected,
		model.PlayerStatusConnecting,
	}
	for _, status := range statuses {
		_, err := f.store.UpdateChannel(context.Background(), "ch-1", func(ch *model.Channel) error {
			ch.PlayerStatus = status
			return nil
		})
		require.NoError(t, err)
	}

	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not end on overflow")
	}
	assert.True(t, errors.Is(sub.Err(), model.ErrSubscription))

	// What was queued is still delivered in order, the offline event included.
	var got []model.ChannelEvent
	for ev := range sub.Updates() {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, model.ChannelEventSnapshot, got[0].Type)
	assert.Equal(t, model.PlayerStatusConnected, got[1].Channel.PlayerStatus)
	assert.True(t, got[2].WentOffline())
}
