package model

import (
	"encoding/json"
	"time"
)

// TemplateSnapshot is a full copy of the renderable template so the
// player can render without fetching it again.
type TemplateSnapshot struct {
	ID         string          `json:"id" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	ProjectID  string          `json:"projectId,omitempty"`
	LayerID    string          `json:"layerId,omitempty"`
	Elements   json.RawMessage `json:"elements,omitempty"`
	Animations json.RawMessage `json:"animations,omitempty"`
}

// PlayerCommand is the unit of dispatch. It is never updated, only
// superseded by a command with a higher sequence.
type PlayerCommand struct {
	ID            string            `json:"id"`
	Type          CommandType       `json:"type"`
	ChannelID     string            `json:"channelId"`
	LayerIndex    *int              `json:"layerIndex,omitempty"`
	PageID        *string           `json:"pageId,omitempty"`
	ProjectID     *string           `json:"projectId,omitempty"`
	ForceReload   bool              `json:"forceReload,omitempty"`
	Template      *TemplateSnapshot `json:"template,omitempty"`
	Bindings      json.RawMessage   `json:"bindings,omitempty"`
	CurrentRecord json.RawMessage   `json:"currentRecord,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	OperatorID    string            `json:"operatorId,omitempty"`
}

// CommandInput is a command without its envelope (id, timestamp, channel)
type CommandInput struct {
	Type          CommandType       `json:"type" validate:"required,oneof=initialize load play update stop clear clear_all"`
	LayerIndex    *int              `json:"layerIndex" validate:"omitempty,min=0"`
	PageID        *string           `json:"pageId"`
	ProjectID     *string           `json:"projectId"`
	ForceReload   bool              `json:"forceReload"`
	Template      *TemplateSnapshot `json:"template" validate:"omitempty"`
	Bindings      json.RawMessage   `json:"bindings"`
	CurrentRecord json.RawMessage   `json:"currentRecord"`
	Payload       json.RawMessage   `json:"payload"`
	OperatorID    string            `json:"-"`
}

// DispatchRequest is the body of POST /api/channels/:channelId/commands
type DispatchRequest struct {
	CommandInput
	ExpectedSequence *int64        `json:"expectedSequence" validate:"omitempty,min=0"`
	TriggerSource    TriggerSource `json:"triggerSource" validate:"omitempty,oneof=manual playlist api scheduled"`
}

// DispatchResponse reports the command as written to the state document
type DispatchResponse struct {
	Command         *PlayerCommand `json:"command"`
	CommandSequence int64          `json:"commandSequence"`
}

// PageRef and ProjectRef carry catalog identities with their display
// names at the time of playout.
type PageRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

type ProjectRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// PlayRequest is the body of POST /api/channels/:channelId/play
type PlayRequest struct {
	LayerIndex       int              `json:"layerIndex" validate:"min=0"`
	Page             PageRef          `json:"page" validate:"required"`
	Template         TemplateSnapshot `json:"template" validate:"required"`
	Project          *ProjectRef      `json:"project" validate:"omitempty"`
	Payload          json.RawMessage  `json:"payload"`
	Bindings         json.RawMessage  `json:"bindings"`
	CurrentRecord    json.RawMessage  `json:"currentRecord"`
	ForceReload      bool             `json:"forceReload"`
	TriggerSource    TriggerSource    `json:"triggerSource" validate:"omitempty,oneof=manual playlist api scheduled"`
	ExpectedSequence *int64           `json:"expectedSequence" validate:"omitempty,min=0"`
	OperatorID       string           `json:"-"`
	OperatorName     string           `json:"-"`
}

// LayerRequest addresses a single layer (stop, clear)
type LayerRequest struct {
	LayerIndex       int           `json:"layerIndex" validate:"min=0"`
	TriggerSource    TriggerSource `json:"triggerSource" validate:"omitempty,oneof=manual playlist api scheduled"`
	ExpectedSequence *int64        `json:"expectedSequence" validate:"omitempty,min=0"`
}

// UpdateRequest pushes new data to the content already on a layer
type UpdateRequest struct {
	LayerIndex       int             `json:"layerIndex" validate:"min=0"`
	Payload          json.RawMessage `json:"payload"`
	Bindings         json.RawMessage `json:"bindings"`
	CurrentRecord    json.RawMessage `json:"currentRecord"`
	TriggerSource    TriggerSource   `json:"triggerSource" validate:"omitempty,oneof=manual playlist api scheduled"`
	ExpectedSequence *int64          `json:"expectedSequence" validate:"omitempty,min=0"`
}

// SelectChannelRequest is the body of PUT /api/session/channel
type SelectChannelRequest struct {
	ChannelID string `json:"channelId" validate:"required"`
}

// ClearAllRequest is the optional body of the clear-all routes
type ClearAllRequest struct {
	TriggerSource    TriggerSource `json:"triggerSource" validate:"omitempty,oneof=manual playlist api scheduled"`
	ExpectedSequence *int64        `json:"expectedSequence" validate:"omitempty,min=0"`
}
