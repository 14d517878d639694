package model

// WebSocket message types
const (
	WSMessageTypeState   = "state"
	WSMessageTypeChannel = "channel"
	WSMessageTypeError   = "error"
	WSMessageTypePing    = "ping"
	WSMessageTypePong    = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStateMessage carries a complete channel state snapshot
type WSStateMessage struct {
	Type      string        `json:"type"`
	ChannelID string        `json:"channelId"`
	State     *ChannelState `json:"state"`
}

// WSChannelMessage carries a registry change
type WSChannelMessage struct {
	Type  string        `json:"type"`
	Event *ChannelEvent `json:"event"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
