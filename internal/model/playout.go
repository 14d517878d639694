package model

import "time"

// PlayoutLogEntry is one on-air interval of a page on a channel layer.
// Display names are copied at write time so history survives renames.
type PlayoutLogEntry struct {
	ID              string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrganizationID  string        `json:"organizationId" gorm:"type:varchar(64);index"`
	ChannelID       string        `json:"channelId" gorm:"type:varchar(64);not null;index:idx_playout_log_channel_started,priority:1"`
	ChannelCode     string        `json:"channelCode" gorm:"type:varchar(32)"`
	ChannelName     string        `json:"channelName" gorm:"type:varchar(128)"`
	LayerIndex      int           `json:"layerIndex" gorm:"not null"`
	LayerName       string        `json:"layerName" gorm:"type:varchar(64)"`
	PageID          *string       `json:"pageId" gorm:"type:varchar(64);index"`
	PageName        *string       `json:"pageName" gorm:"type:varchar(255)"`
	TemplateID      *string       `json:"templateId" gorm:"type:varchar(64);index"`
	TemplateName    *string       `json:"templateName" gorm:"type:varchar(255)"`
	ProjectID       *string       `json:"projectId" gorm:"type:varchar(64)"`
	ProjectName     *string       `json:"projectName" gorm:"type:varchar(255)"`
	PayloadSnapshot JSON          `json:"payloadSnapshot"`
	StartedAt       time.Time     `json:"startedAt" gorm:"not null;index:idx_playout_log_channel_started,priority:2"`
	EndedAt         *time.Time    `json:"endedAt"`
	DurationMs      *int64        `json:"durationMs"`
	EndReason       *EndReason    `json:"endReason" gorm:"type:varchar(32)"`
	OperatorID      *string       `json:"operatorId" gorm:"type:varchar(64);index"`
	OperatorName    *string       `json:"operatorName" gorm:"type:varchar(128)"`
	TriggerSource   TriggerSource `json:"triggerSource" gorm:"type:varchar(16);not null;default:manual"`
	Metadata        JSON          `json:"metadata"`
	CreatedAt       time.Time     `json:"createdAt"`
}

func (PlayoutLogEntry) TableName() string {
	return "playout_log"
}

// IsOpen reports whether the entry is still on air.
func (e *PlayoutLogEntry) IsOpen() bool {
	return e.EndedAt == nil
}

// Close ends the entry at endedAt. Durations are never negative.
func (e *PlayoutLogEntry) Close(endedAt time.Time, reason EndReason) {
	ms := endedAt.Sub(e.StartedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r := reason
	e.EndedAt = &endedAt
	e.DurationMs = &ms
	e.EndReason = &r
}

// CommandLogEntry is the append-only diagnostic record of a dispatch
type CommandLogEntry struct {
	ID              uint          `json:"id" gorm:"primaryKey;autoIncrement"`
	OrganizationID  string        `json:"organizationId" gorm:"type:varchar(64);index"`
	ChannelID       string        `json:"channelId" gorm:"type:varchar(64);not null;index"`
	CommandID       string        `json:"commandId" gorm:"type:varchar(36);uniqueIndex"`
	CommandType     CommandType   `json:"commandType" gorm:"type:varchar(16);not null"`
	CommandSequence int64         `json:"commandSequence"`
	LayerIndex      *int          `json:"layerIndex"`
	PageID          *string       `json:"pageId" gorm:"type:varchar(64)"`
	OperatorID      string        `json:"operatorId" gorm:"type:varchar(64)"`
	Payload         JSON          `json:"payload"`
	TriggerSource   TriggerSource `json:"triggerSource" gorm:"type:varchar(16);not null;default:manual"`
	CreatedAt       time.Time     `json:"createdAt"`
}

func (CommandLogEntry) TableName() string {
	return "command_log"
}

// CommandLogQuery is the query of GET /api/diagnostics/channels/:channelId/commands
type CommandLogQuery struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=500"`
}

// PlayoutLogFilter selects entries for the reporting read path
type PlayoutLogFilter struct {
	ChannelID     string        `query:"channelId"`
	PageID        string        `query:"pageId"`
	TemplateID    string        `query:"templateId"`
	OperatorID    string        `query:"operatorId"`
	TriggerSource TriggerSource `query:"triggerSource" validate:"omitempty,oneof=manual playlist api scheduled"`
	From          *time.Time    `query:"-"`
	To            *time.Time    `query:"-"`
	Search        string        `query:"search" validate:"omitempty,max=128"`
	OpenOnly      bool          `query:"openOnly"`
	Page          int           `query:"page" validate:"omitempty,min=1"`
	PageSize      int           `query:"pageSize" validate:"omitempty,min=1,max=500"`
}

const (
	DefaultLogPageSize = 50
	MaxLogPageSize     = 500
)

// Normalize fills pagination defaults.
func (f *PlayoutLogFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultLogPageSize
	}
	if f.PageSize > MaxLogPageSize {
		f.PageSize = MaxLogPageSize
	}
}

// PlayoutLogPage is one page of the reporting read path
type PlayoutLogPage struct {
	Entries  []PlayoutLogEntry `json:"entries"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

// UpdateLogRequest is the body of PATCH /api/playout-logs/:id
type UpdateLogRequest struct {
	Metadata JSON `json:"metadata" validate:"required"`
}
