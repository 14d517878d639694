package model

import (
	"fmt"
	"time"
)

// LayerConfig describes one rendering slot of a channel
type LayerConfig struct {
	Index        int      `json:"index" validate:"min=0"`
	Name         string   `json:"name" validate:"required,max=64"`
	AllowedTypes []string `json:"allowedTypes,omitempty"`
}

// Channel is a registry row: identity, layers, connectivity and exclusivity
type Channel struct {
	ID                      string        `json:"id"`
	OrganizationID          string        `json:"organizationId"`
	Name                    string        `json:"name"`
	ChannelCode             string        `json:"channelCode"`
	ChannelType             ChannelType   `json:"channelType"`
	PlayerURL               string        `json:"playerUrl,omitempty"`
	PlayerStatus            PlayerStatus  `json:"playerStatus"`
	LastHeartbeat           *time.Time    `json:"lastHeartbeat"`
	LoadedProjectID         *string       `json:"loadedProjectId"`
	LastInitialized         *time.Time    `json:"lastInitialized"`
	LayerCount              int           `json:"layerCount"`
	LayerConfig             []LayerConfig `json:"layerConfig"`
	AssignedOperators       []string      `json:"assignedOperators"`
	IsLocked                bool          `json:"isLocked"`
	LockedBy                *string       `json:"lockedBy"`
	AutoInitializeOnConnect bool          `json:"autoInitializeOnConnect"`
	AutoInitializeOnPublish bool          `json:"autoInitializeOnPublish"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// LayerName returns the configured name of a layer, falling back to "Layer N".
func (c *Channel) LayerName(index int) string {
	for _, l := range c.LayerConfig {
		if l.Index == index && l.Name != "" {
			return l.Name
		}
	}
	return fmt.Sprintf("Layer %d", index)
}

// HasLayer reports whether index addresses one of the channel's layers.
func (c *Channel) HasLayer(index int) bool {
	return index >= 0 && index < c.LayerCount
}

// Channel event types
const (
	ChannelEventSnapshot    = "snapshot"
	ChannelEventProvisioned = "provisioned"
	ChannelEventUpdated     = "updated"
)

// ChannelEvent is pushed on every registry row change
type ChannelEvent struct {
	Type           string       `json:"type"`
	PreviousStatus PlayerStatus `json:"previousStatus,omitempty"`
	Channel        Channel      `json:"channel"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

// WentOffline reports a transition into disconnected from any other status.
func (e ChannelEvent) WentOffline() bool {
	return e.Type == ChannelEventUpdated &&
		e.Channel.PlayerStatus == PlayerStatusDisconnected &&
		e.PreviousStatus != PlayerStatusDisconnected
}

// ProvisionChannelRequest is the body of POST /api/channels
type ProvisionChannelRequest struct {
	ID                      string        `json:"id" validate:"omitempty,max=64"`
	OrganizationID          string        `json:"organizationId" validate:"required"`
	Name                    string        `json:"name" validate:"required,max=128"`
	ChannelCode             string        `json:"channelCode" validate:"required,max=32"`
	ChannelType             ChannelType   `json:"channelType" validate:"required,oneof=graphics ticker fullscreen preview"`
	PlayerURL               string        `json:"playerUrl" validate:"omitempty,url"`
	LayerCount              int           `json:"layerCount" validate:"required,min=1,max=32"`
	LayerConfig             []LayerConfig `json:"layerConfig" validate:"omitempty,dive"`
	AssignedOperators       []string      `json:"assignedOperators"`
	AutoInitializeOnConnect bool          `json:"autoInitializeOnConnect"`
	AutoInitializeOnPublish bool          `json:"autoInitializeOnPublish"`
}

// PlayerStatusRequest is sent by the player to report connectivity
type PlayerStatusRequest struct {
	PlayerStatus PlayerStatus `json:"playerStatus" validate:"required,oneof=disconnected connecting connected error"`
}

// SetProjectRequest changes the project loaded on a channel
type SetProjectRequest struct {
	ProjectID *string `json:"projectId"`
}
