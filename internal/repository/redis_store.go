package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
)

const sessionTTL = 12 * time.Hour

// RedisStore keeps the channel registry, the state documents and operator
// sessions in redis. Every row mutation is a WATCH/MULTI transaction that
// also publishes the new row, so subscribers never see a write that did
// not commit.
type RedisStore struct {
	rdb        *redis.Client
	keys       Keys
	maxRetries uint
	logger     zerolog.Logger
	now        func() time.Time
}

func NewRedisStore(rdb *redis.Client, keys Keys, maxRetries int, logger zerolog.Logger) *RedisStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RedisStore{
		rdb:        rdb,
		keys:       keys,
		maxRetries: uint(maxRetries),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) Keys() Keys {
	return s.keys
}

func writeErr(err error) error {
	return fmt.Errorf("%w: %w", model.ErrStateWriteFailed, err)
}

// cas runs fn under WATCH on key and retries lost races with backoff.
// Errors returned by fn are final.
func (s *RedisStore) cas(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond

	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug().Str("key", key).Int("attempt", attempt).Msg("optimistic write lost race, retrying")
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(s.maxRetries))
	if errors.Is(err, redis.TxFailedErr) {
		return writeErr(fmt.Errorf("gave up after %d attempts: %w", attempt, err))
	}
	return err
}

func (s *RedisStore) Provision(ctx context.Context, ch *model.Channel) (*model.ChannelState, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	now := s.now()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	if ch.PlayerStatus == "" {
		ch.PlayerStatus = model.PlayerStatusDisconnected
	}
	if ch.AssignedOperators == nil {
		ch.AssignedOperators = []string{}
	}
	state := model.NewChannelState(uuid.NewString(), ch, now)

	chData, err := json.Marshal(ch)
	if err != nil {
		return nil, err
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	evData, err := json.Marshal(model.ChannelEvent{
		Type:       model.ChannelEventProvisioned,
		Channel:    *ch,
		OccurredAt: now,
	})
	if err != nil {
		return nil, err
	}

	chKey := s.keys.Channel(ch.ID)
	err = s.cas(ctx, chKey, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, chKey).Result()
		if err != nil {
			return writeErr(err)
		}
		if n > 0 {
			return model.ErrChannelExists
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, chKey, chData, 0)
			p.Set(ctx, s.keys.State(ch.ID), stateData, 0)
			p.SAdd(ctx, s.keys.Channels(), ch.ID)
			p.Publish(ctx, s.keys.ChannelsTopic(), evData)
			return nil
		})
		if err != nil && !errors.Is(err, redis.TxFailedErr) {
			return writeErr(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *RedisStore) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	data, err := s.rdb.Get(ctx, s.keys.Channel(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, model.ErrChannelNotFound
		}
		return nil, err
	}

	var ch model.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("decode channel %s: %w", id, err)
	}
	return &ch, nil
}

func (s *RedisStore) ListChannels(ctx context.Context) ([]model.Channel, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.Channels()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Channel{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.Channel(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	channels := make([]model.Channel, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var ch model.Channel
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			s.logger.Warn().Err(err).Str("channel_id", ids[i]).Msg("skipping undecodable channel row")
			continue
		}
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].ChannelCode != channels[j].ChannelCode {
			return channels[i].ChannelCode < channels[j].ChannelCode
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func (s *RedisStore) UpdateChannel(ctx context.Context, id string, mutate func(*model.Channel) error) (*model.ChannelEvent, error) {
	key := s.keys.Channel(id)
	var event *model.ChannelEvent

	err := s.cas(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return model.ErrChannelNotFound
		}
		if err != nil {
			return writeErr(err)
		}
		var ch model.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("decode channel %s: %w", id, err)
		}

		previous := ch.PlayerStatus
		if err := mutate(&ch); err != nil {
			return err
		}
		ch.ID = id
		ch.UpdatedAt = s.now()

		ev := model.ChannelEvent{
			Type:           model.ChannelEventUpdated,
			PreviousStatus: previous,
			Channel:        ch,
			OccurredAt:     ch.UpdatedAt,
		}
		chData, err := json.Marshal(&ch)
		if err != nil {
			return err
		}
		evData, err := json.Marshal(&ev)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, chData, 0)
			p.Publish(ctx, s.keys.ChannelsTopic(), evData)
			return nil
		})
		if err != nil {
			if errors.Is(err, redis.TxFailedErr) {
				return err
			}
			return writeErr(err)
		}
		event = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *RedisStore) GetState(ctx context.Context, channelID string) (*model.ChannelState, error) {
	data, err := s.rdb.Get(ctx, s.keys.State(channelID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, model.ErrChannelNotFound
		}
		return nil, err
	}
	return decodeState(channelID, data)
}

func decodeState(channelID string, data []byte) (*model.ChannelState, error) {
	var st model.ChannelState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", channelID, err)
	}
	return &st, nil
}

func (s *RedisStore) AppendCommand(ctx context.Context, channelID string, cmd *model.PlayerCommand, expected *int64) (*model.ChannelState, error) {
	return s.UpdateState(ctx, channelID, func(st *model.ChannelState) error {
		if expected != nil && *expected != st.CommandSequence {
			return fmt.Errorf("%w: expected %d, current %d", model.ErrStaleSequence, *expected, st.CommandSequence)
		}
		at := cmd.Timestamp
		st.CommandSequence++
		st.PendingCommand = cmd
		st.LastCommand = cmd
		st.LastCommandAt = &at
		return nil
	})
}

func (s *RedisStore) UpdateState(ctx context.Context, channelID string, mutate func(*model.ChannelState) error) (*model.ChannelState, error) {
	key := s.keys.State(channelID)
	var result *model.ChannelState

	err := s.cas(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return model.ErrChannelNotFound
		}
		if err != nil {
			return writeErr(err)
		}
		st, err := decodeState(channelID, data)
		if err != nil {
			return err
		}

		if err := mutate(st); err != nil {
			return err
		}
		st.ChannelID = channelID
		st.UpdatedAt = s.now()

		out, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			p.Publish(ctx, s.keys.StateTopic(channelID), out)
			return nil
		})
		if err != nil {
			if errors.Is(err, redis.TxFailedErr) {
				return err
			}
			return writeErr(err)
		}
		result = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) SetSelectedChannel(ctx context.Context, operatorID, channelID string) error {
	return s.rdb.Set(ctx, s.keys.Session(operatorID), channelID, sessionTTL).Err()
}

func (s *RedisStore) SelectedChannel(ctx context.Context, operatorID string) (string, error) {
	id, err := s.rdb.Get(ctx, s.keys.Session(operatorID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (s *RedisStore) ClearSelectedChannel(ctx context.Context, operatorID string) error {
	return s.rdb.Del(ctx, s.keys.Session(operatorID)).Err()
}
