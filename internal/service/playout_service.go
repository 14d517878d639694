package service

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
	"github.com/castdeck/api/internal/worker"
)

// PlayoutService dispatches on-air commands and keeps the playout log in
// step with them. Log writes go through the ordered background queue keyed
// by channel, so one channel's events are applied in submission order.
type PlayoutService struct {
	channels   repository.ChannelRepository
	logs       repository.PlayoutLogRepository
	dispatcher *DispatchService
	tasks      TaskSubmitter
	logger     zerolog.Logger
	now        func() time.Time
}

func NewPlayoutService(
	channels repository.ChannelRepository,
	logs repository.PlayoutLogRepository,
	dispatcher *DispatchService,
	tasks TaskSubmitter,
	logger zerolog.Logger,
) *PlayoutService {
	return &PlayoutService{
		channels:   channels,
		logs:       logs,
		dispatcher: dispatcher,
		tasks:      tasks,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// submit hands a log task to the queue. Failures never reach the caller:
// the command has already been dispatched.
func (s *PlayoutService) submit(channelID string, task *asynq.Task, err error) {
	if err == nil {
		err = s.tasks.Submit(channelID, task)
	}
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("channel_id", channelID).
			Msg("failed to submit playout log task")
	}
}

// PlayOnChannel puts a page on air and replaces whatever entry was open on
// the layer.
func (s *PlayoutService) PlayOnChannel(ctx context.Context, channelID string, req *model.PlayRequest) (*model.DispatchResponse, error) {
	if channelID == "" {
		return nil, model.ErrNoChannelSelected
	}
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	resp, err := s.dispatcher.dispatch(ctx, ch, playInput(req), DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
	if err != nil {
		return nil, err
	}

	entry := playoutEntry(ch, req, resp.Command.Timestamp)
	task, err := worker.NewPlayoutReplaceTask(entry, model.EndReasonReplaced)
	s.submit(ch.ID, task, err)
	return resp, nil
}

func (s *PlayoutService) StopOnChannel(ctx context.Context, channelID string, req *model.LayerRequest, operatorID string) (*model.DispatchResponse, error) {
	return s.endOnChannel(ctx, channelID, model.CommandStop, req, operatorID, model.EndReasonManual)
}

func (s *PlayoutService) ClearOnChannel(ctx context.Context, channelID string, req *model.LayerRequest, operatorID string) (*model.DispatchResponse, error) {
	return s.endOnChannel(ctx, channelID, model.CommandClear, req, operatorID, model.EndReasonCleared)
}

func (s *PlayoutService) endOnChannel(ctx context.Context, channelID string, t model.CommandType, req *model.LayerRequest, operatorID string, reason model.EndReason) (*model.DispatchResponse, error) {
	if channelID == "" {
		return nil, model.ErrNoChannelSelected
	}
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	input := layerInput(t, req.LayerIndex)
	input.OperatorID = operatorID
	resp, err := s.dispatcher.dispatch(ctx, ch, input, DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
	if err != nil {
		return nil, err
	}

	task, err := worker.NewPlayoutEndTask(ch.ID, req.LayerIndex, reason, resp.Command.Timestamp)
	s.submit(ch.ID, task, err)
	return resp, nil
}

func (s *PlayoutService) ClearAllOnChannel(ctx context.Context, channelID string, operatorID string, opts DispatchOptions) (*model.DispatchResponse, error) {
	if channelID == "" {
		return nil, model.ErrNoChannelSelected
	}
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	resp, err := s.dispatcher.dispatch(ctx, ch, &model.CommandInput{
		Type:       model.CommandClearAll,
		OperatorID: operatorID,
	}, opts)
	if err != nil {
		return nil, err
	}

	task, err := worker.NewPlayoutEndAllTask(ch.ID, model.EndReasonCleared, resp.Command.Timestamp)
	s.submit(ch.ID, task, err)
	return resp, nil
}

// playoutEntry builds the open entry for a play. The id is fixed here so a
// replayed task does not insert twice.
func playoutEntry(ch *model.Channel, req *model.PlayRequest, startedAt time.Time) *model.PlayoutLogEntry {
	trigger := req.TriggerSource
	if trigger == "" {
		trigger = model.TriggerManual
	}
	entry := &model.PlayoutLogEntry{
		ID:              uuid.NewString(),
		OrganizationID:  ch.OrganizationID,
		ChannelID:       ch.ID,
		ChannelCode:     ch.ChannelCode,
		ChannelName:     ch.Name,
		LayerIndex:      req.LayerIndex,
		LayerName:       ch.LayerName(req.LayerIndex),
		PageID:          optional(req.Page.ID),
		PageName:        optional(req.Page.Name),
		TemplateID:      optional(req.Template.ID),
		TemplateName:    optional(req.Template.Name),
		PayloadSnapshot: model.JSON(req.Payload),
		StartedAt:       startedAt,
		OperatorID:      optional(req.OperatorID),
		OperatorName:    optional(req.OperatorName),
		TriggerSource:   trigger,
	}
	if req.Project != nil {
		entry.ProjectID = optional(req.Project.ID)
		entry.ProjectName = optional(req.Project.Name)
	}
	return entry
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PlayoutService) ListLogs(ctx context.Context, filter model.PlayoutLogFilter) (*model.PlayoutLogPage, error) {
	filter.Normalize()
	return s.logs.List(ctx, filter)
}

func (s *PlayoutService) GetLog(ctx context.Context, id string) (*model.PlayoutLogEntry, error) {
	return s.logs.Get(ctx, id)
}

func (s *PlayoutService) UpdateLogMetadata(ctx context.Context, id string, req *model.UpdateLogRequest) (*model.PlayoutLogEntry, error) {
	return s.logs.UpdateMetadata(ctx, id, req.Metadata)
}

func (s *PlayoutService) DeleteLog(ctx context.Context, id string) error {
	return s.logs.Delete(ctx, id)
}

var exportHeader = []string{
	"id", "channel_id", "channel_code", "channel_name", "layer_index", "layer_name",
	"page_id", "page_name", "template_id", "template_name", "project_id", "project_name",
	"started_at", "ended_at", "duration_ms", "end_reason", "operator_id", "operator_name",
	"trigger_source",
}

// ExportCSV writes every entry matching filter, ignoring its pagination.
func (s *PlayoutService) ExportCSV(ctx context.Context, filter model.PlayoutLogFilter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	err := s.logs.Each(ctx, filter, func(e *model.PlayoutLogEntry) error {
		return cw.Write(exportRow(e))
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func exportRow(e *model.PlayoutLogEntry) []string {
	row := []string{
		e.ID, e.ChannelID, e.ChannelCode, e.ChannelName,
		strconv.Itoa(e.LayerIndex), e.LayerName,
		deref(e.PageID), deref(e.PageName), deref(e.TemplateID), deref(e.TemplateName),
		deref(e.ProjectID), deref(e.ProjectName),
		e.StartedAt.UTC().Format(time.RFC3339), "", "", "",
		deref(e.OperatorID), deref(e.OperatorName), string(e.TriggerSource),
	}
	if e.EndedAt != nil {
		row[13] = e.EndedAt.UTC().Format(time.RFC3339)
	}
	if e.DurationMs != nil {
		row[14] = strconv.FormatInt(*e.DurationMs, 10)
	}
	if e.EndReason != nil {
		row[15] = string(*e.EndReason)
	}
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
