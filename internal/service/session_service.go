package service

import (
	"context"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

// SessionService dispatches against the channel an operator has selected.
// Its wrappers only write commands; they do not touch the playout log.
type SessionService struct {
	sessions   repository.SessionRepository
	channels   repository.ChannelRepository
	dispatcher *DispatchService
}

func NewSessionService(sessions repository.SessionRepository, channels repository.ChannelRepository, dispatcher *DispatchService) *SessionService {
	return &SessionService{
		sessions:   sessions,
		channels:   channels,
		dispatcher: dispatcher,
	}
}

func (s *SessionService) SelectChannel(ctx context.Context, operatorID, channelID string) (*model.Channel, error) {
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SetSelectedChannel(ctx, operatorID, ch.ID); err != nil {
		return nil, err
	}
	return ch, nil
}

// SelectedChannel fails with ErrNoChannelSelected when nothing is selected.
func (s *SessionService) SelectedChannel(ctx context.Context, operatorID string) (*model.Channel, error) {
	id, err := s.sessions.SelectedChannel(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, model.ErrNoChannelSelected
	}
	return s.channels.GetChannel(ctx, id)
}

func (s *SessionService) Deselect(ctx context.Context, operatorID string) error {
	return s.sessions.ClearSelectedChannel(ctx, operatorID)
}

func (s *SessionService) dispatch(ctx context.Context, operatorID string, input *model.CommandInput, opts DispatchOptions) (*model.DispatchResponse, error) {
	channelID, err := s.sessions.SelectedChannel(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	input.OperatorID = operatorID
	return s.dispatcher.Dispatch(ctx, channelID, input, opts)
}

func (s *SessionService) Play(ctx context.Context, operatorID string, req *model.PlayRequest) (*model.DispatchResponse, error) {
	return s.dispatch(ctx, operatorID, playInput(req), DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
}

func (s *SessionService) Stop(ctx context.Context, operatorID string, req *model.LayerRequest) (*model.DispatchResponse, error) {
	return s.dispatch(ctx, operatorID, layerInput(model.CommandStop, req.LayerIndex), DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
}

func (s *SessionService) Update(ctx context.Context, operatorID string, req *model.UpdateRequest) (*model.DispatchResponse, error) {
	layer := req.LayerIndex
	return s.dispatch(ctx, operatorID, &model.CommandInput{
		Type:          model.CommandUpdate,
		LayerIndex:    &layer,
		Payload:       req.Payload,
		Bindings:      req.Bindings,
		CurrentRecord: req.CurrentRecord,
	}, DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
}

func (s *SessionService) Clear(ctx context.Context, operatorID string, req *model.LayerRequest) (*model.DispatchResponse, error) {
	return s.dispatch(ctx, operatorID, layerInput(model.CommandClear, req.LayerIndex), DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
}

func (s *SessionService) ClearAll(ctx context.Context, operatorID string, opts DispatchOptions) (*model.DispatchResponse, error) {
	return s.dispatch(ctx, operatorID, &model.CommandInput{Type: model.CommandClearAll}, opts)
}

func layerInput(t model.CommandType, layer int) *model.CommandInput {
	return &model.CommandInput{Type: t, LayerIndex: &layer}
}

// playInput carries the full template so the player never refetches it.
func playInput(req *model.PlayRequest) *model.CommandInput {
	layer := req.LayerIndex
	pageID := req.Page.ID
	template := req.Template
	input := &model.CommandInput{
		Type:          model.CommandPlay,
		LayerIndex:    &layer,
		PageID:        &pageID,
		ForceReload:   req.ForceReload,
		Template:      &template,
		Bindings:      req.Bindings,
		CurrentRecord: req.CurrentRecord,
		Payload:       req.Payload,
		OperatorID:    req.OperatorID,
	}
	if req.Project != nil {
		projectID := req.Project.ID
		input.ProjectID = &projectID
	}
	return input
}
