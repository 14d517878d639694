package service

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/feed"
	"github.com/castdeck/api/internal/metrics"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/worker"
)

// ChannelFeed is the part of the change feed the reconciler consumes.
type ChannelFeed interface {
	SubscribeChannels(ctx context.Context, opts ...feed.SubscribeOption) (*feed.Subscription[model.ChannelEvent], error)
}

// defaultReconcilerBuffer absorbs bursts of heartbeats without ending the
// channel subscription.
const defaultReconcilerBuffer = 1024

// OfflineReconciler closes the books on channels whose player went away:
// the catalog's on-air flags are reset and every open playout entry is
// ended with channel_offline.
type OfflineReconciler struct {
	feed   ChannelFeed
	tasks  TaskSubmitter
	logger zerolog.Logger
	now    func() time.Time
	buffer int

	// Last player status seen per channel, kept across resubscribes.
	mu   sync.Mutex
	seen map[string]model.PlayerStatus

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewOfflineReconciler(channels ChannelFeed, tasks TaskSubmitter, logger zerolog.Logger) *OfflineReconciler {
	return &OfflineReconciler{
		feed:           channels,
		tasks:          tasks,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		buffer:         defaultReconcilerBuffer,
		seen:           make(map[string]model.PlayerStatus),
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     10 * time.Second,
	}
}

// Run consumes registry events until ctx is done, resubscribing with
// backoff whenever the feed is lost.
func (r *OfflineReconciler) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialBackoff
	bo.MaxInterval = r.maxBackoff

	for {
		sub, err := r.feed.SubscribeChannels(ctx, feed.WithBuffer(r.buffer))
		if err == nil {
			r.logger.Info().Msg("offline reconciler subscribed")
			bo.Reset()
			err = r.consume(ctx, sub)
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		r.logger.Warn().Err(err).Dur("retry_in", wait).Msg("channel feed lost, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *OfflineReconciler) consume(ctx context.Context, sub *feed.Subscription[model.ChannelEvent]) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Updates():
			if !ok {
				return sub.Err()
			}
			r.Handle(ev)
		}
	}
}

// Handle reacts to one registry event. Updates going into disconnected
// trigger the follow-ups. A snapshot only does when the last status seen
// for the channel, before the feed was lost, was not disconnected; the
// first snapshot of a channel never does.
func (r *OfflineReconciler) Handle(ev model.ChannelEvent) {
	r.mu.Lock()
	last, known := r.seen[ev.Channel.ID]
	r.seen[ev.Channel.ID] = ev.Channel.PlayerStatus
	r.mu.Unlock()

	offline := ev.WentOffline()
	if ev.Type == model.ChannelEventSnapshot {
		offline = known &&
			last != model.PlayerStatusDisconnected &&
			ev.Channel.PlayerStatus == model.PlayerStatusDisconnected
	}
	if !offline {
		return
	}

	channelID := ev.Channel.ID
	logger := r.logger.With().Str("channel_id", channelID).Str("event", ev.Type).Logger()
	if ev.Type == model.ChannelEventSnapshot {
		logger.Info().Str("previous_status", string(last)).Msg("channel went offline while the feed was down")
	} else {
		logger.Info().Str("previous_status", string(ev.PreviousStatus)).Msg("channel went offline")
	}
	metrics.OfflineTransitionsTotal.Inc()

	endedAt := ev.OccurredAt
	if endedAt.IsZero() {
		endedAt = r.now()
	}

	// The two follow-ups are independent; one failing does not stop the other.
	if task, err := worker.NewCatalogResetTask(channelID); err != nil {
		logger.Error().Err(err).Msg("failed to build catalog reset task")
	} else if err := r.tasks.Submit(channelID, task); err != nil {
		logger.Error().Err(err).Msg("failed to submit catalog reset")
	}

	if task, err := worker.NewPlayoutEndAllTask(channelID, model.EndReasonChannelOffline, endedAt); err != nil {
		logger.Error().Err(err).Msg("failed to build playout end task")
	} else if err := r.tasks.Submit(channelID, task); err != nil {
		logger.Error().Err(err).Msg("failed to submit playout end")
	}
}
