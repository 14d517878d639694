package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castdeck/api/internal/model"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *redis.Client, *RedisStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, Keys{Prefix: "test:"}, 200, zerolog.Nop())
	return mr, client, store
}

func provisionTestChannel(t *testing.T, store *RedisStore, id string, layers int) *model.Channel {
	t.Helper()
	ch := &model.Channel{
		ID:             id,
		OrganizationID: "org-1",
		Name:           "Main Graphics",
		ChannelCode:    "GFX1",
		ChannelType:    model.ChannelTypeGraphics,
		LayerCount:     layers,
	}
	_, err := store.Provision(context.Background(), ch)
	require.NoError(t, err)
	return ch
}

func testCommand(channelID string, typ model.CommandType) *model.PlayerCommand {
	return &model.PlayerCommand{
		ID:        "cmd-" + string(typ),
		Type:      typ,
		ChannelID: channelID,
		Timestamp: time.Now().UTC(),
	}
}

func TestRedisStore_ProvisionCreatesChannelAndState(t *testing.T) {
	_, _, store := setupRedisStore(t)
	ctx := context.Background()

	provisionTestChannel(t, store, "ch-1", 3)

	ch, err := store.GetChannel(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlayerStatusDisconnected, ch.PlayerStatus)
	assert.Equal(t, "GFX1", ch.ChannelCode)

	st, err := store.GetState(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "ch-1", st.ChannelID)
	assert.Len(t, st.Layers, 3)
	assert.Zero(t, st.CommandSequence)
	assert.Nil(t, st.PendingCommand)

	channels, err := store.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "ch-1", channels[0].ID)
}

func TestRedisStore_ProvisionDuplicate(t *testing.T) {
	_, _, store := setupRedisStore(t)

	provisionTestChannel(t, store, "ch-1", 1)
	_, err := store.Provision(context.Background(), &model.Channel{ID: "ch-1", LayerCount: 1})
	assert.ErrorIs(t, err, model.ErrChannelExists)
}

func TestRedisStore_GetMissing(t *testing.T) {
	_, _, store := setupRedisStore(t)
	ctx := context.Background()

	_, err := store.GetChannel(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrChannelNotFound)
	_, err = store.GetState(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrChannelNotFound)
	_, err = store.AppendCommand(ctx, "nope", testCommand("nope", model.CommandPlay), nil)
	assert.ErrorIs(t, err, model.ErrChannelNotFound)
}

func TestRedisStore_AppendCommandAdvancesSequence(t *testing.T) {
	_, _, store := setupRedisStore(t)
	ctx := context.Background()
	provisionTestChannel(t, store, "ch-1", 2)

	first := testCommand("ch-1", model.CommandPlay)
	st, err := store.AppendCommand(ctx, "ch-1", first, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.CommandSequence)
	assert.Equal(t, first.ID, st.PendingCommand.ID)
	require.NotNil(t, st.LastCommandAt)

	second := testCommand("ch-1", model.CommandStop)
	st, err = store.AppendCommand(ctx, "ch-1", second, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.CommandSequence)
	assert.Equal(t, model.CommandStop, st.PendingCommand.Type)
	assert.Equal(t, model.CommandStop, st.LastCommand.Type)
}

func TestRedisStore_AppendCommandRejectsStaleExpectation(t *testing.T) {
	_, _, store := setupRedisStore(t)
	ctx := context.Background()
	provisionTestChannel(t, store, "ch-1", 1)

	expected := int64(0)
	_, err := store.AppendCommand(ctx, "ch-1", testCommand("ch-1", model.CommandPlay), &expected)
	require.NoError(t, err)

	// A second writer that also read sequence 0 loses.
	_, err = store.AppendCommand(ctx, "ch-1", testCommand("ch-1", model.CommandStop), &expected)
	require.ErrorIs(t, err, model.ErrStaleSequence)

	st, err := store.GetState(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.CommandSequence)
	assert.Equal(t, model.CommandPlay, st.PendingCommand.Type)
}

func TestRedisStore_ConcurrentAppendsAreUniqueAndGapless(t *testing.T) {
	_, _, store := setupRedisStore(t)
	ctx := context.Background()
	provisionTestChannel(t, store, "ch-1", 1)

	const writers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := store.AppendCommand(ctx, "ch-1", testCommand("ch-1", model.CommandUpdate), nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[st.CommandSequence], "sequence %d handed out twice", st.CommandSequence)
			seen[st.CommandSequence] = true
		}()
	}
	wg.Wait()

	st, err := store.GetState(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), st.CommandSequence)
	for seq := int64(1); seq <= writers; seq++ {
		assert.True(t, seen[seq], "missing sequence %d", seq)
	}
}

func TestRedisStore_UpdateChannelPublishesEvent(t *testing.T) {
	_, client, store := setupRedisStore(t)
	ctx := context.Background()
	provisionTestChannel(t, store, "ch-1", 1)

	sub := client.Subscribe(ctx, store.Keys().ChannelsTopic())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ev, err := store.UpdateChannel(ctx, "ch-1", func(ch *model.Channel) error {
		ch.PlayerStatus = model.PlayerStatusConnected
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.PlayerStatusDisconnected, ev.PreviousStatus)
	assert.False(t, ev.WentOffline())

	select {
	case msg := <-sub.Channel():
		var got model.ChannelEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, model.ChannelEventUpdated, got.Type)
		assert.Equal(t, model.PlayerStatusConnected, got.Channel.PlayerStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("no channel event published")
	}

	ev, err = store.UpdateChannel(ctx, "ch-1", func(ch *model.Channel) error {
		ch.PlayerStatus = model.PlayerStatusDisconnected
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ev.WentOffline())
}

func TestRedisStore_UpdateChannelMutateErrorAborts(t *testing.T) {
	_, _, store := setupRedisStore(t)
	ctx := context.Background()
	provisionTestChannel(t, store, "ch-1", 1)

	boom := errors.New("locked")
	_, err := store.UpdateChannel(ctx, "ch-1", func(ch *model.Channel) error {
		ch.Name = "changed"
		return boom
	})
	require.ErrorIs(t, err, boom)

	ch, err := store.GetChannel(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, "Main Graphics", ch.Name)
}

func TestRedisStore_Sessions(t *testing.T) {
	mr, _, store := setupRedisStore(t)
	ctx := context.Background()

	id, err := store.SelectedChannel(ctx, "op-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SetSelectedChannel(ctx, "op-1", "ch-9"))
	id, err = store.SelectedChannel(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "ch-9", id)
	assert.Greater(t, mr.TTL(store.Keys().Session("op-1")), time.Duration(0))

	require.NoError(t, store.ClearSelectedChannel(ctx, "op-1"))
	id, err = store.SelectedChannel(ctx, "op-1")
	require.NoError(t, err)
	assert.Empty(t, id)
}
