package service

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castdeck/api/internal/model"
)

func TestChannel_ProvisionDefaultsLayerNames(t *testing.T) {
	f := newFixture(t, model.SequencePolicyLastWriterWins)
	ctx := context.Background()

	ch := f.provision(t, "ch-1", 2)
	assert.Equal(t, model.PlayerStatusDisconnected, ch.PlayerStatus)
	require.Len(t, ch.LayerConfig, 2)
	assert.Equal(t, "Layer 1", ch.LayerConfig[1].Name)

	st, err := f.channels.GetState(ctx, "ch-1")
	require.NoError(t, err)
	assert.Len(t, st.Layers, 2)

	_, _, err = f.channels.Provision(ctx, &model.ProvisionChannelRequest{ID: "ch-1", LayerCount: 1})
	assert.ErrorIs(t, err, model.ErrChannelExists)

	list, err := f.channels.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestChannel_ProvisionRejectsBadLayerConfig(t *testing.T) {
	f := newFixture(t, model.SequencePolicyLastWriterWins)
	ctx := context.Background()

	cases := map[string][]model.LayerConfig{
		"index past count": {{Index: 0, Name: "main"}, {Index: 2, Name: "lower"}},
		"negative index":   {{Index: -1, Name: "main"}},
		"repeated index":   {{Index: 1, Name: "a"}, {Index: 1, Name: "b"}},
	}
	for name, layers := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.channels.Provision(ctx, &model.ProvisionChannelRequest{
				ID: "ch-bad", LayerCount: 2, LayerConfig: layers,
			})
			assert.ErrorIs(t, err, model.ErrInvalidLayer)
		})
	}

	_, err := f.channels.GetState(ctx, "ch-bad")
	assert.ErrorIs(t, err, model.ErrChannelNotFound)

	ch, _, err := f.channels.Provision(ctx, &model.ProvisionChannelRequest{
		ID: "ch-ok", LayerCount: 2, LayerConfig: []model.LayerConfig{{Index: 1, Name: "lower"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "lower", ch.LayerName(1))
	assert.Equal(t, "Layer 0", ch.LayerName(0))
}

func TestChannel_ReportPlayerStatus(t *testing.T) {
	f := newFixture(t, model.SequencePolicyLastWriterWins)
	ctx := context.Background()
	f.provision(t, "ch-1", 1)

	ch, err := f.channels.ReportPlayerStatus(ctx, "ch-1", model.PlayerStatusConnecting)
	require.NoError(t, err)
	require.NotNil(t, ch.LastHeartbeat)
	assert.Nil(t, ch.LastInitialized)

	ch, err = f.channels.ReportPlayerStatus(ctx, "ch-1", model.PlayerStatusConnected)
	require.NoError(t, err)
	require.NotNil(t, ch.LastInitialized)
	first := *ch.LastInitialized

	// A heartbeat while connected does not re-initialize.
	ch, err = f.channels.ReportPlayerStatus(ctx, "ch-1", model.PlayerStatusConnected)
	require.NoError(t, err)
	assert.True(t, first.Equal(*ch.LastInitialized))
	assert.True(t, ch.LastHeartbeat.After(first))

	// No project loaded: nothing dispatched.
	st, err := f.channels.GetState(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.CommandSequence)

	_, err = f.channels.ReportPlayerStatus(ctx, "missing", model.PlayerStatusConnected)
	assert.ErrorIs(t, err, model.ErrChannelNotFound)
}

func TestChannel_AutoInitializeOnConnect(t *testing.T) {
	for _, policy := range []model.SequencePolicy{model.SequencePolicyLastWriterWins, model.SequencePolicyRejectStale} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, policy)
			ctx := context.Background()
			_, _, err := f.channels.Provision(ctx, &model.ProvisionChannelRequest{
				ID:                      "ch-1",
				OrganizationID:          "org-1",
				Name:                    "Ticker",
				ChannelCode:             "TCK",
				ChannelType:             model.ChannelTypeTicker,
				LayerCount:              1,
				AutoInitializeOnConnect: true,
			})
			require.NoError(t, err)

			project := "proj-1"
			_, err = f.channels.SetLoadedProject(ctx, "ch-1", &project)
			require.NoError(t, err)

			_, err = f.channels.ReportPlayerStatus(ctx, "ch-1", model.PlayerStatusConnected)
			require.NoError(t, err)

			st, err := f.channels.GetState(ctx, "ch-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), st.CommandSequence)
			require.NotNil(t, st.PendingCommand)
			assert.Equal(t, model.CommandInitialize, st.PendingCommand.Type)
			assert.Equal(t, "proj-1", *st.PendingCommand.ProjectID)

			entries := f.recorder.all()
			require.Len(t, entries, 1)
			assert.Equal(t, model.TriggerAPI, entries[0].TriggerSource)
		})
	}
}

func TestChannel_AutoInitializeOnPublish(t *testing.T) {
	f := newFixture(t, model.SequencePolicyLastWriterWins)
	ctx := context.Background()
	_, _, err := f.channels.Provision(ctx, &model.ProvisionChannelRequest{
		ID:                      "ch-1",
		OrganizationID:          "org-1",
		Name:                    "Fullscreen",
		ChannelCode:             "FS",
		ChannelType:             model.ChannelTypeFullscreen,
		LayerCount:              1,
		AutoInitializeOnPublish: true,
	})
	require.NoError(t, err)

	project := "proj-2"
	// Player offline: nothing to initialize.
	_, err = f.channels.SetLoadedProject(ctx, "ch-1", &project)
	require.NoError(t, err)
	assert.Empty(t, f.recorder.all())

	_, err = f.channels.ReportPlayerStatus(ctx, "ch-1", model.PlayerStatusConnected)
	require.NoError(t, err)
	ch, err := f.channels.SetLoadedProject(ctx, "ch-1", &project)
	require.NoError(t, err)
	assert.Equal(t, "proj-2", *ch.LoadedProjectID)
	require.Len(t, f.recorder.all(), 1)
	assert.Equal(t, model.CommandInitialize, f.recorder.all()[0].CommandType)
}

func TestChannel_Acknowledge(t *testing.T) {
	f := newFixture(t, model.SequencePolicyLastWriterWins)
	ctx := context.Background()
	f.provision(t, "ch-1", 2)

	_, err := f.dispatcher.Dispatch(ctx, "ch-1", &model.CommandInput{Type: model.CommandClearAll}, DispatchOptions{})
	require.NoError(t, err)
	_, err = f.dispatcher.Dispatch(ctx, "ch-1", &model.CommandInput{Type: model.CommandClearAll}, DispatchOptions{})
	require.NoError(t, err)

	page := "A"
	// Acknowledging an older sequence keeps the newer pending command.
	st, err := f.channels.Acknowledge(ctx, "ch-1", &model.AckRequest{
		CommandSequence: 1,
		Layers:          []model.LayerState{{Index: 1, Status: model.LayerStatusOnAir, PageID: &page}, {Index: 9}},
	})
	require.NoError(t, err)
	assert.NotNil(t, st.PendingCommand)
	require.NotNil(t, st.LastAcknowledgedAt)
	assert.Equal(t, model.LayerStatusOnAir, st.Layers[1].Status)
	assert.Len(t, st.Layers, 2)

	st, err = f.channels.Acknowledge(ctx, "ch-1", &model.AckRequest{CommandSequence: 2})
	require.NoError(t, err)
	assert.Nil(t, st.PendingCommand)
	assert.Equal(t, int64(2), st.CommandSequence)
}

func TestChannel_LockAndControl(t *testing.T) {
	f := newFixture(t, model.SequencePolicyLastWriterWins)
	ctx := context.Background()
	f.provision(t, "ch-1", 1)

	ch, err := f.channels.Lock(ctx, "ch-1", "op-1")
	require.NoError(t, err)
	assert.True(t, ch.IsLocked)
	assert.Equal(t, "op-1", *ch.LockedBy)

	_, err = f.channels.Lock(ctx, "ch-1", "op-1")
	require.NoError(t, err)
	_, err = f.channels.Lock(ctx, "ch-1", "op-2")
	assert.ErrorIs(t, err, model.ErrChannelLocked)
	_, err = f.channels.Unlock(ctx, "ch-1", "op-2")
	assert.ErrorIs(t, err, model.ErrChannelLocked)

	ch, err = f.channels.Unlock(ctx, "ch-1", "op-1")
	require.NoError(t, err)
	assert.False(t, ch.IsLocked)
	assert.Nil(t, ch.LockedBy)

	st, err := f.channels.TakeControl(ctx, "ch-1", "op-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", *st.ControlledBy)
	require.NotNil(t, st.ControlLockedAt)

	_, err = f.channels.TakeControl(ctx, "ch-1", "op-2")
	assert.ErrorIs(t, err, model.ErrChannelLocked)
	_, err = f.channels.ReleaseControl(ctx, "ch-1", "op-2")
	assert.ErrorIs(t, err, model.ErrChannelLocked)

	st, err = f.channels.ReleaseControl(ctx, "ch-1", "op-1")
	require.NoError(t, err)
	assert.Nil(t, st.ControlledBy)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f *fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

type fixedDepth int64

func (d fixedDepth) Depth() int64 { return int64(d) }

func TestDiagnostics_Audit(t *testing.T) {
	svc := NewDiagnosticsService(&fakeInspector{info: &asynq.QueueInfo{
		Queue: "audit", Pending: 3, Retry: 2, Archived: 1, Processed: 40, Failed: 4,
	}}, "audit", fixedDepth(5), nil)
	d, err := svc.Audit()
	require.NoError(t, err)
	assert.Equal(t, 3, d.Pending)
	assert.Equal(t, 2, d.Retry)
	assert.Equal(t, 1, d.Archived)
	assert.Equal(t, 40, d.ProcessedDay)
	assert.Equal(t, int64(5), d.InProcessDepth)

	svc = NewDiagnosticsService(&fakeInspector{err: asynq.ErrQueueNotFound}, "audit", nil, nil)
	d, err = svc.Audit()
	require.NoError(t, err)
	assert.Equal(t, "audit", d.Queue)
	assert.Zero(t, d.Pending)

	svc = NewDiagnosticsService(&fakeInspector{err: errors.New("redis down")}, "audit", nil, nil)
	_, err = svc.Audit()
	assert.Error(t, err)
}
