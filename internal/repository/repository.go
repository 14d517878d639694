package repository

import (
	"context"
	"time"

	"github.com/castdeck/api/internal/model"
)

// ChannelRepository is the channel registry.
type ChannelRepository interface {
	// Provision stores the channel and its empty state document together.
	Provision(ctx context.Context, ch *model.Channel) (*model.ChannelState, error)
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	// UpdateChannel applies mutate under optimistic concurrency and
	// publishes the resulting event.
	UpdateChannel(ctx context.Context, id string, mutate func(*model.Channel) error) (*model.ChannelEvent, error)
}

// StateRepository holds the per-channel state document.
type StateRepository interface {
	GetState(ctx context.Context, channelID string) (*model.ChannelState, error)
	// AppendCommand is the only way to obtain a new command sequence.
	// A non-nil expected must equal the current sequence.
	AppendCommand(ctx context.Context, channelID string, cmd *model.PlayerCommand, expected *int64) (*model.ChannelState, error)
	UpdateState(ctx context.Context, channelID string, mutate func(*model.ChannelState) error) (*model.ChannelState, error)
}

// SessionRepository remembers the channel each operator has selected.
type SessionRepository interface {
	SetSelectedChannel(ctx context.Context, operatorID, channelID string) error
	// SelectedChannel returns "" when the operator has no selection.
	SelectedChannel(ctx context.Context, operatorID string) (string, error)
	ClearSelectedChannel(ctx context.Context, operatorID string) error
}

// PlayoutLogRepository stores on-air intervals.
type PlayoutLogRepository interface {
	StartEntry(ctx context.Context, entry *model.PlayoutLogEntry) error
	ReplaceOpenEntry(ctx context.Context, entry *model.PlayoutLogEntry, reason model.EndReason) (int64, error)
	EndActive(ctx context.Context, channelID string, layerIndex int, reason model.EndReason, endedAt time.Time) (int64, error)
	EndAllForChannel(ctx context.Context, channelID string, reason model.EndReason, endedAt time.Time) (int64, error)
	List(ctx context.Context, filter model.PlayoutLogFilter) (*model.PlayoutLogPage, error)
	Each(ctx context.Context, filter model.PlayoutLogFilter, fn func(*model.PlayoutLogEntry) error) error
	Get(ctx context.Context, id string) (*model.PlayoutLogEntry, error)
	UpdateMetadata(ctx context.Context, id string, metadata model.JSON) (*model.PlayoutLogEntry, error)
	Delete(ctx context.Context, id string) error
}

// CommandLogRepository is the append-only dispatch audit.
type CommandLogRepository interface {
	Append(ctx context.Context, entry *model.CommandLogEntry) error
	ListByChannel(ctx context.Context, channelID string, limit int) ([]model.CommandLogEntry, error)
}
