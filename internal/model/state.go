package model

import "time"

// LayerState is the on-air state of one layer as last reported by the player
type LayerState struct {
	Index        int         `json:"index"`
	Status       LayerStatus `json:"status"`
	PageID       *string     `json:"pageId"`
	TemplateName *string     `json:"templateName"`
	OnAirSince   *time.Time  `json:"onAirSince"`
}

// ChannelState is the per-channel document consumed by players and observers
type ChannelState struct {
	ID                 string         `json:"id"`
	ChannelID          string         `json:"channelId"`
	Layers             []LayerState   `json:"layers"`
	PendingCommand     *PlayerCommand `json:"pendingCommand"`
	CommandSequence    int64          `json:"commandSequence"`
	LastCommand        *PlayerCommand `json:"lastCommand"`
	LastCommandAt      *time.Time     `json:"lastCommandAt"`
	LastAcknowledgedAt *time.Time     `json:"lastAcknowledgedAt"`
	ControlledBy       *string        `json:"controlledBy"`
	ControlLockedAt    *time.Time     `json:"controlLockedAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// NewChannelState returns the empty document created alongside a channel.
func NewChannelState(id string, ch *Channel, now time.Time) *ChannelState {
	layers := make([]LayerState, ch.LayerCount)
	for i := range layers {
		layers[i] = LayerState{Index: i, Status: LayerStatusEmpty}
	}
	return &ChannelState{
		ID:        id,
		ChannelID: ch.ID,
		Layers:    layers,
		UpdatedAt: now,
	}
}

// AckRequest is the player's acknowledgment of the commands it executed
type AckRequest struct {
	CommandSequence int64        `json:"commandSequence" validate:"min=0"`
	Layers          []LayerState `json:"layers" validate:"omitempty,dive"`
}
