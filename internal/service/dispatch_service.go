package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/metrics"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

// CommandRecorder appends to the command log without ever failing the caller.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, entry *model.CommandLogEntry)
}

// TaskSubmitter accepts background work ordered by key.
type TaskSubmitter interface {
	Submit(key string, task *asynq.Task) error
}

type DispatchOptions struct {
	// ExpectedSequence is the sequence the caller last observed. Required
	// under reject_stale, ignored under last_writer_wins.
	ExpectedSequence *int64
	TriggerSource    model.TriggerSource
}

// DispatchService writes commands into channel state documents.
type DispatchService struct {
	channels repository.ChannelRepository
	states   repository.StateRepository
	audit    CommandRecorder
	policy   model.SequencePolicy
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatchService(
	channels repository.ChannelRepository,
	states repository.StateRepository,
	audit CommandRecorder,
	policy model.SequencePolicy,
	logger zerolog.Logger,
) *DispatchService {
	if !policy.Valid() {
		policy = model.SequencePolicyLastWriterWins
	}
	return &DispatchService{
		channels: channels,
		states:   states,
		audit:    audit,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *DispatchService) Policy() model.SequencePolicy {
	return s.policy
}

// Dispatch resolves the channel and writes the command as its pending
// command under the next sequence.
func (s *DispatchService) Dispatch(ctx context.Context, channelID string, input *model.CommandInput, opts DispatchOptions) (*model.DispatchResponse, error) {
	if channelID == "" {
		return nil, model.ErrNoChannelSelected
	}
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		metrics.IncDispatch(string(input.Type), metrics.ResultError)
		return nil, err
	}
	return s.dispatch(ctx, ch, input, opts)
}

func (s *DispatchService) dispatch(ctx context.Context, ch *model.Channel, input *model.CommandInput, opts DispatchOptions) (*model.DispatchResponse, error) {
	if input.LayerIndex != nil && !ch.HasLayer(*input.LayerIndex) {
		metrics.IncDispatch(string(input.Type), metrics.ResultError)
		return nil, fmt.Errorf("%w: %d of %d", model.ErrInvalidLayer, *input.LayerIndex, ch.LayerCount)
	}

	var expected *int64
	if s.policy == model.SequencePolicyRejectStale {
		if opts.ExpectedSequence == nil {
			metrics.IncDispatch(string(input.Type), metrics.ResultError)
			return nil, model.ErrSequenceRequired
		}
		expected = opts.ExpectedSequence
	}

	cmd := &model.PlayerCommand{
		ID:            uuid.NewString(),
		Type:          input.Type,
		ChannelID:     ch.ID,
		LayerIndex:    input.LayerIndex,
		PageID:        input.PageID,
		ProjectID:     input.ProjectID,
		ForceReload:   input.ForceReload,
		Template:      input.Template,
		Bindings:      input.Bindings,
		CurrentRecord: input.CurrentRecord,
		Payload:       input.Payload,
		Timestamp:     s.now(),
		OperatorID:    input.OperatorID,
	}

	logger := s.logger.With().
		Str("channel_id", ch.ID).
		Str("command_id", cmd.ID).
		Str("type", string(cmd.Type)).
		Logger()

	st, err := s.states.AppendCommand(ctx, ch.ID, cmd, expected)
	if err != nil {
		if errors.Is(err, model.ErrStaleSequence) {
			metrics.IncDispatch(string(cmd.Type), metrics.ResultStale)
			logger.Info().Err(err).Msg("dispatch rejected as stale")
		} else {
			metrics.IncDispatch(string(cmd.Type), metrics.ResultError)
			logger.Error().Err(err).Msg("dispatch failed")
		}
		return nil, err
	}
	metrics.IncDispatch(string(cmd.Type), metrics.ResultOK)
	logger.Debug().Int64("sequence", st.CommandSequence).Msg("command dispatched")

	s.recordCommand(ctx, ch, cmd, st.CommandSequence, opts.TriggerSource)

	return &model.DispatchResponse{
		Command:         cmd,
		CommandSequence: st.CommandSequence,
	}, nil
}

func (s *DispatchService) recordCommand(ctx context.Context, ch *model.Channel, cmd *model.PlayerCommand, sequence int64, trigger model.TriggerSource) {
	if s.audit == nil {
		return
	}
	if trigger == "" {
		trigger = model.TriggerManual
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		s.logger.Warn().Err(err).Str("command_id", cmd.ID).Msg("command log payload not encoded")
		payload = nil
	}
	// The request may be gone by the time the audit write runs.
	s.audit.RecordCommand(context.WithoutCancel(ctx), &model.CommandLogEntry{
		OrganizationID:  ch.OrganizationID,
		ChannelID:       ch.ID,
		CommandID:       cmd.ID,
		CommandType:     cmd.Type,
		CommandSequence: sequence,
		LayerIndex:      cmd.LayerIndex,
		PageID:          cmd.PageID,
		OperatorID:      cmd.OperatorID,
		Payload:         model.JSON(payload),
		TriggerSource:   trigger,
		CreatedAt:       cmd.Timestamp,
	})
}
