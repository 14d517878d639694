package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/castdeck/api/internal/model"
)

// PlayoutLogStore is the gorm implementation of PlayoutLogRepository.
//
// Entry ids and end times are chosen by the caller, so every write can be
// replayed: a start whose id already exists is a no-op, and an end only
// touches entries that are still open and started no later than endedAt.
type PlayoutLogStore struct {
	db *gorm.DB
}

func NewPlayoutLogStore(db *gorm.DB) *PlayoutLogStore {
	return &PlayoutLogStore{db: db}
}

func logErr(err error) error {
	return fmt.Errorf("%w: %w", model.ErrLogWriteFailed, err)
}

func (s *PlayoutLogStore) exists(tx *gorm.DB, id string) (bool, error) {
	var n int64
	if err := tx.Model(&model.PlayoutLogEntry{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func normalizeEntry(e *model.PlayoutLogEntry) {
	e.StartedAt = e.StartedAt.UTC()
	if e.TriggerSource == "" {
		e.TriggerSource = model.TriggerManual
	}
}

// StartEntry inserts an open entry. A second open entry on the same layer
// fails with ErrOpenEntryExists.
func (s *PlayoutLogStore) StartEntry(ctx context.Context, entry *model.PlayoutLogEntry) error {
	normalizeEntry(entry)
	err := s.db.WithContext(ctx).Create(entry).Error
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return logErr(err)
	}
	replayed, lookupErr := s.exists(s.db.WithContext(ctx), entry.ID)
	if lookupErr != nil {
		return logErr(lookupErr)
	}
	if replayed {
		return nil
	}
	return fmt.Errorf("%w: channel %s layer %d", model.ErrOpenEntryExists, entry.ChannelID, entry.LayerIndex)
}

// ReplaceOpenEntry closes whatever is open on the entry's layer at the
// entry's start time and inserts the entry, in one transaction.
func (s *PlayoutLogStore) ReplaceOpenEntry(ctx context.Context, entry *model.PlayoutLogEntry, reason model.EndReason) (int64, error) {
	normalizeEntry(entry)
	var closed int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		replayed, err := s.exists(tx, entry.ID)
		if err != nil {
			return err
		}
		if replayed {
			return nil
		}

		var open []model.PlayoutLogEntry
		err = tx.Where("channel_id = ? AND layer_index = ? AND ended_at IS NULL AND started_at <= ?",
			entry.ChannelID, entry.LayerIndex, entry.StartedAt).
			Find(&open).Error
		if err != nil {
			return err
		}
		closed, err = closeEntries(tx, open, reason, entry.StartedAt)
		if err != nil {
			return err
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: channel %s layer %d", model.ErrOpenEntryExists, entry.ChannelID, entry.LayerIndex)
		}
		return 0, logErr(err)
	}
	return closed, nil
}

func (s *PlayoutLogStore) EndActive(ctx context.Context, channelID string, layerIndex int, reason model.EndReason, endedAt time.Time) (int64, error) {
	endedAt = endedAt.UTC()
	db := s.db.WithContext(ctx)

	var open []model.PlayoutLogEntry
	err := db.Where("channel_id = ? AND layer_index = ? AND ended_at IS NULL AND started_at <= ?",
		channelID, layerIndex, endedAt).
		Find(&open).Error
	if err != nil {
		return 0, logErr(err)
	}
	n, err := closeEntries(db, open, reason, endedAt)
	if err != nil {
		return n, logErr(err)
	}
	return n, nil
}

func (s *PlayoutLogStore) EndAllForChannel(ctx context.Context, channelID string, reason model.EndReason, endedAt time.Time) (int64, error) {
	endedAt = endedAt.UTC()
	db := s.db.WithContext(ctx)

	var open []model.PlayoutLogEntry
	err := db.Where("channel_id = ? AND ended_at IS NULL AND started_at <= ?", channelID, endedAt).
		Find(&open).Error
	if err != nil {
		return 0, logErr(err)
	}
	n, err := closeEntries(db, open, reason, endedAt)
	if err != nil {
		return n, logErr(err)
	}
	return n, nil
}

// closeEntries ends each entry with its own duration. The ended_at guard
// makes a concurrent or repeated close a no-op.
func closeEntries(db *gorm.DB, open []model.PlayoutLogEntry, reason model.EndReason, endedAt time.Time) (int64, error) {
	var total int64
	for i := range open {
		e := &open[i]
		e.Close(endedAt, reason)
		res := db.Model(&model.PlayoutLogEntry{}).
			Where("id = ? AND ended_at IS NULL", e.ID).
			Updates(map[string]any{
				"ended_at":    endedAt,
				"duration_ms": *e.DurationMs,
				"end_reason":  reason,
			})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (s *PlayoutLogStore) filtered(ctx context.Context, f model.PlayoutLogFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&model.PlayoutLogEntry{})
	if f.ChannelID != "" {
		q = q.Where("channel_id = ?", f.ChannelID)
	}
	if f.PageID != "" {
		q = q.Where("page_id = ?", f.PageID)
	}
	if f.TemplateID != "" {
		q = q.Where("template_id = ?", f.TemplateID)
	}
	if f.OperatorID != "" {
		q = q.Where("operator_id = ?", f.OperatorID)
	}
	if f.TriggerSource != "" {
		q = q.Where("trigger_source = ?", f.TriggerSource)
	}
	if f.From != nil {
		q = q.Where("started_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("started_at < ?", f.To.UTC())
	}
	if f.OpenOnly {
		q = q.Where("ended_at IS NULL")
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(page_name) LIKE ? OR LOWER(template_name) LIKE ? OR LOWER(channel_name) LIKE ? OR LOWER(operator_name) LIKE ?)",
			like, like, like, like)
	}
	return q
}

// List returns one page of entries, newest first.
func (s *PlayoutLogStore) List(ctx context.Context, filter model.PlayoutLogFilter) (*model.PlayoutLogPage, error) {
	filter.Normalize()

	var total int64
	if err := s.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, err
	}

	entries := make([]model.PlayoutLogEntry, 0, filter.PageSize)
	err := s.filtered(ctx, filter).
		Order("started_at DESC").Order("id DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return &model.PlayoutLogPage{
		Entries:  entries,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// Each streams every matching entry, newest first, without paging.
func (s *PlayoutLogStore) Each(ctx context.Context, filter model.PlayoutLogFilter, fn func(*model.PlayoutLogEntry) error) error {
	rows, err := s.filtered(ctx, filter).Order("started_at DESC").Order("id DESC").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e model.PlayoutLogEntry
		if err := s.db.ScanRows(rows, &e); err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PlayoutLogStore) Get(ctx context.Context, id string) (*model.PlayoutLogEntry, error) {
	var e model.PlayoutLogEntry
	err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrLogEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *PlayoutLogStore) UpdateMetadata(ctx context.Context, id string, metadata model.JSON) (*model.PlayoutLogEntry, error) {
	res := s.db.WithContext(ctx).Model(&model.PlayoutLogEntry{}).
		Where("id = ?", id).
		Update("metadata", metadata)
	if res.Error != nil {
		return nil, logErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrLogEntryNotFound
	}
	return s.Get(ctx, id)
}

func (s *PlayoutLogStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.PlayoutLogEntry{})
	if res.Error != nil {
		return logErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrLogEntryNotFound
	}
	return nil
}
