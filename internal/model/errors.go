package model

import "errors"

var (
	ErrChannelNotFound   = errors.New("channel not found")
	ErrChannelExists     = errors.New("channel already exists")
	ErrStateWriteFailed  = errors.New("state write failed")
	ErrLogWriteFailed    = errors.New("log write failed")
	ErrSubscription      = errors.New("subscription failed")
	ErrNoChannelSelected = errors.New("no channel selected")
	ErrStaleSequence     = errors.New("stale command sequence")
	ErrSequenceRequired  = errors.New("expected sequence required")
	ErrOpenEntryExists   = errors.New("open playout entry exists for layer")
	ErrLogEntryNotFound  = errors.New("playout log entry not found")
	ErrQueueFull         = errors.New("background queue full")
	ErrInvalidLayer      = errors.New("layer index out of range")
	ErrChannelLocked     = errors.New("channel locked by another operator")
)
