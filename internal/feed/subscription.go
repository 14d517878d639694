package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/metrics"
	"github.com/castdeck/api/internal/model"
)

// Subscription is one consumer's view of a topic. Updates is closed when
// the subscription ends; Err then tells whether it was lost.
type Subscription[T any] struct {
	kind    string
	lossy   bool
	updates chan T
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func start[T any](
	ctx context.Context,
	kind string,
	lossy bool,
	ps *redis.PubSub,
	buffer int,
	initial []T,
	decode func(string) (T, error),
	logger zerolog.Logger,
) *Subscription[T] {
	// The snapshot must fit regardless of the buffer size.
	capacity := buffer + len(initial)

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		kind:    kind,
		lossy:   lossy,
		updates: make(chan T, capacity),
		pubsub:  ps,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
	}
	for _, v := range initial {
		s.updates <- v
	}

	metrics.FeedSubscriptions.WithLabelValues(kind).Inc()
	go s.watch(ctx)
	go s.run(ctx, decode)
	return s
}

func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Err returns ErrSubscription (wrapped) when the stream ended because the
// redis connection was lost. It is nil after Close.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription[T]) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *Subscription[T]) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// watch unblocks the pending Receive once the subscription is cancelled.
func (s *Subscription[T]) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = s.pubsub.Close()
	case <-s.done:
	}
}

func (s *Subscription[T]) run(ctx context.Context, decode func(string) (T, error)) {
	defer func() {
		_ = s.pubsub.Close()
		metrics.FeedSubscriptions.WithLabelValues(s.kind).Dec()
		close(s.updates)
		close(s.done)
	}()

	for {
		raw, err := s.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("feed connection lost")
				s.fail(fmt.Errorf("%w: %w", model.ErrSubscription, err))
			}
			return
		}

		switch msg := raw.(type) {
		case *redis.Message:
			v, err := decode(msg.Payload)
			if err != nil {
				s.logger.Warn().Err(err).Msg("dropping undecodable feed message")
				continue
			}
			if !s.deliver(v) {
				s.logger.Warn().Int("buffer", cap(s.updates)).Msg("feed subscriber fell behind")
				metrics.IncFeedOverflow(s.kind)
				s.fail(fmt.Errorf("%w: %s subscriber buffer overflow", model.ErrSubscription, s.kind))
				return
			}
		case *redis.Subscription:
			if msg.Kind == "unsubscribe" && msg.Count == 0 {
				s.fail(model.ErrSubscription)
				return
			}
		}
	}
}

// deliver never blocks. On a lossy subscription a full buffer discards
// the oldest snapshot so the newest one is always delivered in order;
// otherwise it reports false and the stream has to end.
func (s *Subscription[T]) deliver(v T) bool {
	for {
		select {
		case s.updates <- v:
			return true
		default:
		}
		if !s.lossy {
			return false
		}
		select {
		case <-s.updates:
			metrics.IncFeedCoalesced(s.kind)
		default:
		}
	}
}
