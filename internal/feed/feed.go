// Package feed turns redis pub/sub topics written by the repository into
// per-subscriber streams of full row snapshots.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

const (
	KindState    = "state"
	KindChannels = "channels"

	defaultBuffer = 16
)

// Source loads the snapshots a new subscriber starts from.
type Source interface {
	GetState(ctx context.Context, channelID string) (*model.ChannelState, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

type Feed struct {
	rdb    *redis.Client
	keys   repository.Keys
	source Source
	buffer int
	logger zerolog.Logger
}

func New(rdb *redis.Client, keys repository.Keys, source Source, buffer int, logger zerolog.Logger) *Feed {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Feed{
		rdb:    rdb,
		keys:   keys,
		source: source,
		buffer: buffer,
		logger: logger,
	}
}

type subscribeOptions struct {
	buffer int
}

type SubscribeOption func(*subscribeOptions)

// WithBuffer overrides the per-subscriber buffer size.
func WithBuffer(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func (f *Feed) options(opts []SubscribeOption) subscribeOptions {
	o := subscribeOptions{buffer: f.buffer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// subscribe confirms the redis subscription before the caller takes its
// snapshot, so no committed write can fall between the two.
func (f *Feed) subscribe(ctx context.Context, topic string) (*redis.PubSub, error) {
	ps := f.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %s: %w", model.ErrSubscription, topic, err)
	}
	return ps, nil
}

// SubscribeState streams the state document of one channel. The first
// update is the current document. A slow subscriber skips to the newest
// document.
func (f *Feed) SubscribeState(ctx context.Context, channelID string, opts ...SubscribeOption) (*Subscription[model.ChannelState], error) {
	o := f.options(opts)

	ps, err := f.subscribe(ctx, f.keys.StateTopic(channelID))
	if err != nil {
		return nil, err
	}
	snapshot, err := f.source.GetState(ctx, channelID)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	decode := func(payload string) (model.ChannelState, error) {
		var st model.ChannelState
		err := json.Unmarshal([]byte(payload), &st)
		return st, err
	}
	logger := f.logger.With().Str("kind", KindState).Str("channel_id", channelID).Logger()
	return start(ctx, KindState, true, ps, o.buffer, []model.ChannelState{*snapshot}, decode, logger), nil
}

// SubscribeChannels streams registry events. It starts with one snapshot
// event per existing channel. Events of different channels share the
// buffer, so instead of discarding one the stream ends with
// ErrSubscription when the subscriber falls behind.
func (f *Feed) SubscribeChannels(ctx context.Context, opts ...SubscribeOption) (*Subscription[model.ChannelEvent], error) {
	o := f.options(opts)

	ps, err := f.subscribe(ctx, f.keys.ChannelsTopic())
	if err != nil {
		return nil, err
	}
	channels, err := f.source.ListChannels(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	initial := make([]model.ChannelEvent, len(channels))
	for i, ch := range channels {
		initial[i] = model.ChannelEvent{
			Type:           model.ChannelEventSnapshot,
			PreviousStatus: ch.PlayerStatus,
			Channel:        ch,
			OccurredAt:     ch.UpdatedAt,
		}
	}

	decode := func(payload string) (model.ChannelEvent, error) {
		var ev model.ChannelEvent
		err := json.Unmarshal([]byte(payload), &ev)
		return ev, err
	}
	logger := f.logger.With().Str("kind", KindChannels).Logger()
	return start(ctx, KindChannels, false, ps, o.buffer, initial, decode, logger), nil
}
