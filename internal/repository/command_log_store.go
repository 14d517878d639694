package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/castdeck/api/internal/model"
)

type CommandLogStore struct {
	db *gorm.DB
}

func NewCommandLogStore(db *gorm.DB) *CommandLogStore {
	return &CommandLogStore{db: db}
}

// Append is idempotent on the command id, so redelivered tasks are harmless.
func (s *CommandLogStore) Append(ctx context.Context, entry *model.CommandLogEntry) error {
	if entry.TriggerSource == "" {
		entry.TriggerSource = model.TriggerManual
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "command_id"}}, DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return logErr(err)
	}
	return nil
}

func (s *CommandLogStore) ListByChannel(ctx context.Context, channelID string, limit int) ([]model.CommandLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.CommandLogEntry
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("command_sequence DESC").Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
