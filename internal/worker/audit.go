package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/metrics"
	"github.com/castdeck/api/internal/model"
)

const (
	defaultAuditBuffer  = 1024
	auditEnqueueTimeout = 5 * time.Second
)

// CommandAudit hands command log entries to asynq from its own goroutine,
// so the dispatcher never waits on the enqueue. Failures are logged and
// counted and never reach the dispatcher's caller.
type CommandAudit struct {
	client    TaskEnqueuer
	queue     string
	maxRetry  int
	retention time.Duration
	logger    zerolog.Logger

	entries chan *model.CommandLogEntry
}

func NewCommandAudit(client TaskEnqueuer, queue string, maxRetry int, retention time.Duration, buffer int, logger zerolog.Logger) *CommandAudit {
	if buffer < 1 {
		buffer = defaultAuditBuffer
	}
	return &CommandAudit{
		client:    client,
		queue:     queue,
		maxRetry:  maxRetry,
		retention: retention,
		logger:    logger,
		entries:   make(chan *model.CommandLogEntry, buffer),
	}
}

// RecordCommand queues the entry without blocking. A full buffer drops it.
func (a *CommandAudit) RecordCommand(_ context.Context, entry *model.CommandLogEntry) {
	select {
	case a.entries <- entry:
	default:
		metrics.IncAuditEnqueue("command_log", metrics.ResultDropped)
		a.logger.Warn().
			Str("channel_id", entry.ChannelID).
			Str("command_id", entry.CommandID).
			Msg("command log buffer full, entry dropped")
	}
}

// Depth reports entries waiting to be enqueued.
func (a *CommandAudit) Depth() int {
	return len(a.entries)
}

// Run enqueues entries until ctx is done, then flushes what is still
// buffered.
func (a *CommandAudit) Run(ctx context.Context) error {
	for {
		select {
		case entry := <-a.entries:
			a.enqueue(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-a.entries:
					a.enqueue(entry)
				default:
					return nil
				}
			}
		}
	}
}

// enqueue is bounded by its own timeout; shutdown still flushes.
func (a *CommandAudit) enqueue(entry *model.CommandLogEntry) {
	logger := a.logger.With().
		Str("channel_id", entry.ChannelID).
		Str("command_id", entry.CommandID).
		Int64("sequence", entry.CommandSequence).
		Logger()

	task, err := NewCommandLogTask(entry)
	if err != nil {
		metrics.IncAuditEnqueue("command_log", metrics.ResultError)
		logger.Error().Err(err).Msg("command log task not built")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditEnqueueTimeout)
	defer cancel()
	_, err = a.client.EnqueueContext(ctx, task,
		asynq.Queue(a.queue),
		asynq.MaxRetry(a.maxRetry),
		asynq.Retention(a.retention),
		asynq.TaskID("command_log:"+entry.CommandID),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		metrics.IncAuditEnqueue("command_log", metrics.ResultError)
		logger.Warn().Err(err).Msg("command log enqueue failed")
		return
	}
	metrics.IncAuditEnqueue("command_log", metrics.ResultOK)
}
