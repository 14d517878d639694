package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/catalog"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
)

// CatalogResetter clears the on-air flags of every page bound to a channel.
type CatalogResetter interface {
	ResetOnAir(ctx context.Context, channelID string) error
}

// PlayoutWorker applies playout log, command log and catalog tasks. It is
// the handler of both the ordered in-process queue and the asynq server.
type PlayoutWorker struct {
	playout  repository.PlayoutLogRepository
	commands repository.CommandLogRepository
	catalog  CatalogResetter
	logger   zerolog.Logger
}

func NewPlayoutWorker(
	playout repository.PlayoutLogRepository,
	commands repository.CommandLogRepository,
	catalog CatalogResetter,
	logger zerolog.Logger,
) *PlayoutWorker {
	return &PlayoutWorker{
		playout:  playout,
		commands: commands,
		catalog:  catalog,
		logger:   logger,
	}
}

// Register binds every task type to the worker.
func (w *PlayoutWorker) Register(mux *asynq.ServeMux) {
	for _, t := range []string{
		TaskTypePlayoutReplace,
		TaskTypePlayoutEnd,
		TaskTypePlayoutEndAll,
		TaskTypeCatalogReset,
		TaskTypeCommandLog,
	} {
		mux.Handle(t, w)
	}
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// ProcessTask handles one task. Errors wrapping asynq.SkipRetry will not
// succeed on a retry.
func (w *PlayoutWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	switch t.Type() {
	case TaskTypePlayoutReplace:
		var p PlayoutReplacePayload
		if err := decode(t, &p); err != nil {
			return err
		}
		closed, err := w.playout.ReplaceOpenEntry(ctx, &p.Entry, p.Reason)
		if errors.Is(err, model.ErrOpenEntryExists) {
			// A later play already owns the layer.
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}
		w.logger.Debug().
			Str("channel_id", p.Entry.ChannelID).
			Int("layer", p.Entry.LayerIndex).
			Int64("closed", closed).
			Msg("playout entry started")
		return nil

	case TaskTypePlayoutEnd:
		var p PlayoutEndPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		closed, err := w.playout.EndActive(ctx, p.ChannelID, p.LayerIndex, p.Reason, p.EndedAt)
		if err != nil {
			return err
		}
		w.logger.Debug().
			Str("channel_id", p.ChannelID).
			Int("layer", p.LayerIndex).
			Str("reason", string(p.Reason)).
			Int64("closed", closed).
			Msg("playout entries ended")
		return nil

	case TaskTypePlayoutEndAll:
		var p PlayoutEndAllPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		closed, err := w.playout.EndAllForChannel(ctx, p.ChannelID, p.Reason, p.EndedAt)
		if err != nil {
			return err
		}
		w.logger.Debug().
			Str("channel_id", p.ChannelID).
			Str("reason", string(p.Reason)).
			Int64("closed", closed).
			Msg("all playout entries ended")
		return nil

	case TaskTypeCatalogReset:
		var p CatalogResetPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		err := w.catalog.ResetOnAir(ctx, p.ChannelID)
		if errors.Is(err, catalog.ErrRejected) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err

	case TaskTypeCommandLog:
		var entry model.CommandLogEntry
		if err := decode(t, &entry); err != nil {
			return err
		}
		return w.commands.Append(ctx, &entry)
	}

	return fmt.Errorf("unknown task type %q: %w", t.Type(), asynq.SkipRetry)
}
