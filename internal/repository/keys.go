package repository

import "strconv"

// Keys builds the redis key and topic names under a common prefix.
type Keys struct {
	Prefix string
}

func (k Keys) Channel(id string) string {
	return k.Prefix + "channel:" + id
}

func (k Keys) State(channelID string) string {
	return k.Prefix + "channel_state:" + channelID
}

func (k Keys) Channels() string {
	return k.Prefix + "channels"
}

func (k Keys) Session(operatorID string) string {
	return k.Prefix + "session:" + operatorID + ":channel"
}

// StateTopic carries full state documents of one channel.
func (k Keys) StateTopic(channelID string) string {
	return k.Prefix + "feed:channel_state:" + channelID
}

// ChannelsTopic carries registry events for every channel.
func (k Keys) ChannelsTopic() string {
	return k.Prefix + "feed:channels"
}

// RateLimit is the fixed-window counter of one subject.
func (k Keys) RateLimit(subject string, window int64) string {
	return k.Prefix + "ratelimit:" + subject + ":" + strconv.FormatInt(window, 10)
}
