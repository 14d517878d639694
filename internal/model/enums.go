package model

// Channel types
type ChannelType string

const (
	ChannelTypeGraphics   ChannelType = "graphics"
	ChannelTypeTicker     ChannelType = "ticker"
	ChannelTypeFullscreen ChannelType = "fullscreen"
	ChannelTypePreview    ChannelType = "preview"
)

var ValidChannelTypes = []ChannelType{
	ChannelTypeGraphics, ChannelTypeTicker, ChannelTypeFullscreen, ChannelTypePreview,
}

// Player connectivity
type PlayerStatus string

const (
	PlayerStatusDisconnected PlayerStatus = "disconnected"
	PlayerStatusConnecting   PlayerStatus = "connecting"
	PlayerStatusConnected    PlayerStatus = "connected"
	PlayerStatusError        PlayerStatus = "error"
)

var ValidPlayerStatuses = []PlayerStatus{
	PlayerStatusDisconnected, PlayerStatusConnecting, PlayerStatusConnected, PlayerStatusError,
}

// Per-layer on-air state
type LayerStatus string

const (
	LayerStatusEmpty   LayerStatus = "empty"
	LayerStatusLoading LayerStatus = "loading"
	LayerStatusReady   LayerStatus = "ready"
	LayerStatusOnAir   LayerStatus = "on_air"
)

// Command types
type CommandType string

const (
	CommandInitialize CommandType = "initialize"
	CommandLoad       CommandType = "load"
	CommandPlay       CommandType = "play"
	CommandUpdate     CommandType = "update"
	CommandStop       CommandType = "stop"
	CommandClear      CommandType = "clear"
	CommandClearAll   CommandType = "clear_all"
)

var ValidCommandTypes = []CommandType{
	CommandInitialize, CommandLoad, CommandPlay, CommandUpdate,
	CommandStop, CommandClear, CommandClearAll,
}

// Playout end reasons
type EndReason string

const (
	EndReasonManual         EndReason = "manual"
	EndReasonReplaced       EndReason = "replaced"
	EndReasonCleared        EndReason = "cleared"
	EndReasonChannelOffline EndReason = "channel_offline"
)

// Trigger sources
type TriggerSource string

const (
	TriggerManual    TriggerSource = "manual"
	TriggerPlaylist  TriggerSource = "playlist"
	TriggerAPI       TriggerSource = "api"
	TriggerScheduled TriggerSource = "scheduled"
)

// SequencePolicy decides what happens when a dispatch was prepared
// against a sequence that is no longer current.
type SequencePolicy string

const (
	// Every dispatch gets the next sequence; the latest write is pending.
	SequencePolicyLastWriterWins SequencePolicy = "last_writer_wins"
	// Dispatches must name the sequence they observed; stale ones fail.
	SequencePolicyRejectStale SequencePolicy = "reject_stale"
)

func (p SequencePolicy) Valid() bool {
	return p == SequencePolicyLastWriterWins || p == SequencePolicyRejectStale
}
