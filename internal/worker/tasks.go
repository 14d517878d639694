package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/castdeck/api/internal/model"
)

// Task types. The same types are used by the in-process ordered queue and
// by the asynq server that picks up dead-lettered work.
const (
	TaskTypePlayoutReplace = "playout:replace"
	TaskTypePlayoutEnd     = "playout:end"
	TaskTypePlayoutEndAll  = "playout:end_all"
	TaskTypeCatalogReset   = "catalog:reset_on_air"
	TaskTypeCommandLog     = "audit:command_log"
)

type PlayoutReplacePayload struct {
	Entry  model.PlayoutLogEntry `json:"entry"`
	Reason model.EndReason       `json:"reason"`
}

type PlayoutEndPayload struct {
	ChannelID  string          `json:"channelId"`
	LayerIndex int             `json:"layerIndex"`
	Reason     model.EndReason `json:"reason"`
	EndedAt    time.Time       `json:"endedAt"`
}

type PlayoutEndAllPayload struct {
	ChannelID string          `json:"channelId"`
	Reason    model.EndReason `json:"reason"`
	EndedAt   time.Time       `json:"endedAt"`
}

type CatalogResetPayload struct {
	ChannelID string `json:"channelId"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}

func NewPlayoutReplaceTask(entry *model.PlayoutLogEntry, reason model.EndReason) (*asynq.Task, error) {
	return newTask(TaskTypePlayoutReplace, PlayoutReplacePayload{Entry: *entry, Reason: reason})
}

func NewPlayoutEndTask(channelID string, layerIndex int, reason model.EndReason, endedAt time.Time) (*asynq.Task, error) {
	return newTask(TaskTypePlayoutEnd, PlayoutEndPayload{
		ChannelID:  channelID,
		LayerIndex: layerIndex,
		Reason:     reason,
		EndedAt:    endedAt.UTC(),
	})
}

func NewPlayoutEndAllTask(channelID string, reason model.EndReason, endedAt time.Time) (*asynq.Task, error) {
	return newTask(TaskTypePlayoutEndAll, PlayoutEndAllPayload{
		ChannelID: channelID,
		Reason:    reason,
		EndedAt:   endedAt.UTC(),
	})
}

func NewCatalogResetTask(channelID string) (*asynq.Task, error) {
	return newTask(TaskTypeCatalogReset, CatalogResetPayload{ChannelID: channelID})
}

func NewCommandLogTask(entry *model.CommandLogEntry) (*asynq.Task, error) {
	return newTask(TaskTypeCommandLog, entry)
}
