package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

var errHeartbeatFresh = errors.New("heartbeat is fresh")

// HeartbeatMonitor marks channels disconnected when their player stops
// reporting. The status change reaches the offline reconciler through the
// channel feed like any other transition.
type HeartbeatMonitor struct {
	channels repository.ChannelRepository
	timeout  time.Duration
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHeartbeatMonitor(channels repository.ChannelRepository, timeout, interval time.Duration, logger zerolog.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		channels: channels,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *HeartbeatMonitor) Run(ctx context.Context) error {
	if m.timeout <= 0 || m.interval <= 0 {
		m.logger.Info().Msg("heartbeat monitor disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn().Err(err).Msg("heartbeat sweep failed")
			}
		}
	}
}

func (m *HeartbeatMonitor) stale(ch *model.Channel, now time.Time) bool {
	if ch.PlayerStatus != model.PlayerStatusConnected && ch.PlayerStatus != model.PlayerStatusConnecting {
		return false
	}
	if ch.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*ch.LastHeartbeat) > m.timeout
}

// Sweep disconnects every stale channel and returns how many it changed.
func (m *HeartbeatMonitor) Sweep(ctx context.Context) (int, error) {
	channels, err := m.channels.ListChannels(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	changed := 0
	for i := range channels {
		if !m.stale(&channels[i], now) {
			continue
		}
		id := channels[i].ID
		_, err := m.channels.UpdateChannel(ctx, id, func(ch *model.Channel) error {
			// A heartbeat may have landed since the list was read.
			if !m.stale(ch, now) {
				return errHeartbeatFresh
			}
			ch.PlayerStatus = model.PlayerStatusDisconnected
			return nil
		})
		switch {
		case err == nil:
			changed++
			m.logger.Info().Str("channel_id", id).Dur("timeout", m.timeout).Msg("player heartbeat lost, channel disconnected")
		case errors.Is(err, errHeartbeatFresh), errors.Is(err, model.ErrChannelNotFound):
		default:
			m.logger.Warn().Err(err).Str("channel_id", id).Msg("could not mark channel disconnected")
		}
	}
	return changed, nil
}
