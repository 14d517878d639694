package service

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

// QueueInspector is the part of *asynq.Inspector diagnostics needs.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// DepthReporter reports how many tasks the in-process queue holds.
type DepthReporter interface {
	Depth() int64
}

type AuditDiagnostics struct {
	Queue          string `json:"queue"`
	Pending        int    `json:"pending"`
	Active         int    `json:"active"`
	Scheduled      int    `json:"scheduled"`
	Retry          int    `json:"retry"`
	Archived       int    `json:"archived"`
	ProcessedDay   int    `json:"processedToday"`
	FailedDay      int    `json:"failedToday"`
	InProcessDepth int64  `json:"inProcessDepth"`
}

type DiagnosticsService struct {
	inspector QueueInspector
	queue     string
	local     DepthReporter
	commands  repository.CommandLogRepository
}

func NewDiagnosticsService(inspector QueueInspector, queue string, local DepthReporter, commands repository.CommandLogRepository) *DiagnosticsService {
	return &DiagnosticsService{
		inspector: inspector,
		queue:     queue,
		local:     local,
		commands:  commands,
	}
}

// Audit reports the durable audit queue and the in-process queue. A queue
// asynq has never seen reports zeros.
func (s *DiagnosticsService) Audit() (*AuditDiagnostics, error) {
	d := &AuditDiagnostics{Queue: s.queue}
	if s.local != nil {
		d.InProcessDepth = s.local.Depth()
	}

	info, err := s.inspector.GetQueueInfo(s.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.Pending = info.Pending
	d.Active = info.Active
	d.Scheduled = info.Scheduled
	d.Retry = info.Retry
	d.Archived = info.Archived
	d.ProcessedDay = info.Processed
	d.FailedDay = info.Failed
	return d, nil
}

// Commands returns the newest command log entries of a channel, highest
// sequence first.
func (s *DiagnosticsService) Commands(ctx context.Context, channelID string, limit int) ([]model.CommandLogEntry, error) {
	entries, err := s.commands.ListByChannel(ctx, channelID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.CommandLogEntry{}
	}
	return entries, nil
}
