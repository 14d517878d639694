package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

type ChannelService struct {
	channels   repository.ChannelRepository
	states     repository.StateRepository
	dispatcher *DispatchService
	logger     zerolog.Logger
	now        func() time.Time
}

func NewChannelService(
	channels repository.ChannelRepository,
	states repository.StateRepository,
	dispatcher *DispatchService,
	logger zerolog.Logger,
) *ChannelService {
	return &ChannelService{
		channels:   channels,
		states:     states,
		dispatcher: dispatcher,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Provision registers a channel together with its empty state document.
func (s *ChannelService) Provision(ctx context.Context, req *model.ProvisionChannelRequest) (*model.Channel, *model.ChannelState, error) {
	layers := req.LayerConfig
	seen := make(map[int]bool, len(layers))
	for _, l := range layers {
		if l.Index < 0 || l.Index >= req.LayerCount {
			return nil, nil, fmt.Errorf("%w: layer config index %d of %d", model.ErrInvalidLayer, l.Index, req.LayerCount)
		}
		if seen[l.Index] {
			return nil, nil, fmt.Errorf("%w: layer config index %d repeated", model.ErrInvalidLayer, l.Index)
		}
		seen[l.Index] = true
	}
	if len(layers) == 0 {
		layers = make([]model.LayerConfig, req.LayerCount)
		for i := range layers {
			layers[i] = model.LayerConfig{Index: i}
		}
	}
	for i := range layers {
		if layers[i].Name == "" {
			layers[i].Name = fmt.Sprintf("Layer %d", layers[i].Index)
		}
	}

	ch := &model.Channel{
		ID:                      req.ID,
		OrganizationID:          req.OrganizationID,
		Name:                    req.Name,
		ChannelCode:             req.ChannelCode,
		ChannelType:             req.ChannelType,
		PlayerURL:               req.PlayerURL,
		PlayerStatus:            model.PlayerStatusDisconnected,
		LayerCount:              req.LayerCount,
		LayerConfig:             layers,
		AssignedOperators:       req.AssignedOperators,
		AutoInitializeOnConnect: req.AutoInitializeOnConnect,
		AutoInitializeOnPublish: req.AutoInitializeOnPublish,
	}
	st, err := s.channels.Provision(ctx, ch)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().
		Str("channel_id", ch.ID).
		Str("channel_code", ch.ChannelCode).
		Int("layers", ch.LayerCount).
		Msg("channel provisioned")
	return ch, st, nil
}

func (s *ChannelService) List(ctx context.Context) ([]model.Channel, error) {
	return s.channels.ListChannels(ctx)
}

func (s *ChannelService) Get(ctx context.Context, id string) (*model.Channel, error) {
	return s.channels.GetChannel(ctx, id)
}

func (s *ChannelService) GetState(ctx context.Context, id string) (*model.ChannelState, error) {
	return s.states.GetState(ctx, id)
}

// ReportPlayerStatus records a player heartbeat. Coming up to connected
// stamps lastInitialized and, when the channel asks for it, re-initializes
// the loaded project.
func (s *ChannelService) ReportPlayerStatus(ctx context.Context, channelID string, status model.PlayerStatus) (*model.Channel, error) {
	now := s.now()
	ev, err := s.channels.UpdateChannel(ctx, channelID, func(ch *model.Channel) error {
		if status == model.PlayerStatusConnected && ch.PlayerStatus != model.PlayerStatusConnected {
			ch.LastInitialized = &now
		}
		ch.PlayerStatus = status
		ch.LastHeartbeat = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	ch := &ev.Channel
	cameUp := status == model.PlayerStatusConnected && ev.PreviousStatus != model.PlayerStatusConnected
	if cameUp && ch.AutoInitializeOnConnect && ch.LoadedProjectID != nil {
		s.initialize(ctx, ch)
	}
	return ch, nil
}

// initialize asks the player to load the channel's project. It is a side
// effect of another operation and only logs on failure.
func (s *ChannelService) initialize(ctx context.Context, ch *model.Channel) {
	opts := DispatchOptions{TriggerSource: model.TriggerAPI}
	if s.dispatcher.Policy() == model.SequencePolicyRejectStale {
		st, err := s.states.GetState(ctx, ch.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("channel_id", ch.ID).Msg("auto initialize skipped")
			return
		}
		seq := st.CommandSequence
		opts.ExpectedSequence = &seq
	}
	projectID := *ch.LoadedProjectID
	_, err := s.dispatcher.dispatch(ctx, ch, &model.CommandInput{
		Type:        model.CommandInitialize,
		ProjectID:   &projectID,
		ForceReload: true,
	}, opts)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel_id", ch.ID).Msg("auto initialize failed")
	}
}

// Acknowledge records what the player executed. The pending command is
// cleared only when the acknowledged sequence is still the current one.
func (s *ChannelService) Acknowledge(ctx context.Context, channelID string, req *model.AckRequest) (*model.ChannelState, error) {
	now := s.now()
	return s.states.UpdateState(ctx, channelID, func(st *model.ChannelState) error {
		st.LastAcknowledgedAt = &now
		if req.CommandSequence == st.CommandSequence {
			st.PendingCommand = nil
		}
		for _, l := range req.Layers {
			if l.Index < 0 || l.Index >= len(st.Layers) {
				continue
			}
			st.Layers[l.Index] = l
		}
		return nil
	})
}

// Lock gives operatorID exclusive use of the channel. Relocking by the
// holder is a no-op.
func (s *ChannelService) Lock(ctx context.Context, channelID, operatorID string) (*model.Channel, error) {
	ev, err := s.channels.UpdateChannel(ctx, channelID, func(ch *model.Channel) error {
		if ch.IsLocked && ch.LockedBy != nil && *ch.LockedBy != operatorID {
			return model.ErrChannelLocked
		}
		ch.IsLocked = true
		ch.LockedBy = &operatorID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ev.Channel, nil
}

func (s *ChannelService) Unlock(ctx context.Context, channelID, operatorID string) (*model.Channel, error) {
	ev, err := s.channels.UpdateChannel(ctx, channelID, func(ch *model.Channel) error {
		if ch.IsLocked && ch.LockedBy != nil && *ch.LockedBy != operatorID {
			return model.ErrChannelLocked
		}
		ch.IsLocked = false
		ch.LockedBy = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ev.Channel, nil
}

// SetLoadedProject changes the project loaded on a channel. A connected
// player is re-initialized when the channel has auto-initialize on publish.
func (s *ChannelService) SetLoadedProject(ctx context.Context, channelID string, projectID *string) (*model.Channel, error) {
	ev, err := s.channels.UpdateChannel(ctx, channelID, func(ch *model.Channel) error {
		ch.LoadedProjectID = projectID
		return nil
	})
	if err != nil {
		return nil, err
	}
	ch := &ev.Channel
	if ch.AutoInitializeOnPublish && ch.LoadedProjectID != nil && ch.PlayerStatus == model.PlayerStatusConnected {
		s.initialize(ctx, ch)
	}
	return ch, nil
}

// TakeControl marks operatorID as the advisory controller of the channel.
func (s *ChannelService) TakeControl(ctx context.Context, channelID, operatorID string) (*model.ChannelState, error) {
	now := s.now()
	return s.states.UpdateState(ctx, channelID, func(st *model.ChannelState) error {
		if st.ControlledBy != nil && *st.ControlledBy != operatorID {
			return model.ErrChannelLocked
		}
		st.ControlledBy = &operatorID
		st.ControlLockedAt = &now
		return nil
	})
}

func (s *ChannelService) ReleaseControl(ctx context.Context, channelID, operatorID string) (*model.ChannelState, error) {
	return s.states.UpdateState(ctx, channelID, func(st *model.ChannelState) error {
		if st.ControlledBy != nil && *st.ControlledBy != operatorID {
			return model.ErrChannelLocked
		}
		st.ControlledBy = nil
		st.ControlLockedAt = nil
		return nil
	})
}
