package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/metrics"
	"github.com/castdeck/api/internal/model"
)

var ErrQueueClosed = errors.New("background queue closed")

// TaskEnqueuer is the part of *asynq.Client the workers use.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type QueueConfig struct {
	Workers        int
	Size           int
	MaxTries       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Tasks that exhaust MaxTries are enqueued here for asynq to retry.
	DeadLetterQueue    string
	DeadLetterMaxRetry int
	DeadLetterTTL      time.Duration
}

type queuedTask struct {
	key  string
	task *asynq.Task
}

// Queue runs background tasks in submission order per key. Keys are
// hashed onto a fixed set of shards, each drained by one goroutine, so two
// tasks for the same channel never run concurrently or out of order.
type Queue struct {
	cfg        QueueConfig
	handler    asynq.Handler
	deadLetter TaskEnqueuer
	logger     zerolog.Logger

	shards []chan queuedTask
	depth  atomic.Int64

	mu      sync.RWMutex
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(cfg QueueConfig, handler asynq.Handler, deadLetter TaskEnqueuer, logger zerolog.Logger) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Size < cfg.Workers {
		cfg.Size = cfg.Workers
	}
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	shards := make([]chan queuedTask, cfg.Workers)
	per := cfg.Size / cfg.Workers
	for i := range shards {
		shards[i] = make(chan queuedTask, per)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:        cfg,
		handler:    handler,
		deadLetter: deadLetter,
		logger:     logger,
		shards:     shards,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches one goroutine per shard.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for _, shard := range q.shards {
		q.wg.Add(1)
		go q.drain(shard)
	}
}

func (q *Queue) shardFor(key string) chan queuedTask {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

// Submit never blocks. A full shard rejects the task with ErrQueueFull.
func (q *Queue) Submit(key string, task *asynq.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.shardFor(key) <- queuedTask{key: key, task: task}:
		metrics.QueueDepth.Set(float64(q.depth.Add(1)))
		return nil
	default:
		metrics.IncBackgroundTask(task.Type(), metrics.ResultDropped)
		q.logger.Error().
			Str("key", key).
			Str("task_type", task.Type()).
			Msg("background queue full, task rejected")
		return fmt.Errorf("%w: %s", model.ErrQueueFull, task.Type())
	}
}

// Depth is the number of tasks waiting or running.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// Close stops accepting tasks and waits for queued ones to finish. If ctx
// expires first, in-flight retries are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, shard := range q.shards {
		close(shard)
	}
	started := q.started
	q.mu.Unlock()

	if !started {
		q.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) drain(shard chan queuedTask) {
	defer q.wg.Done()
	for qt := range shard {
		q.process(qt)
		metrics.QueueDepth.Set(float64(q.depth.Add(-1)))
	}
}

func (q *Queue) process(qt queuedTask) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.InitialBackoff
	bo.MaxInterval = q.cfg.MaxBackoff

	taskType := qt.task.Type()
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := q.handler.ProcessTask(q.ctx, qt.task)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, asynq.SkipRetry) {
			return struct{}{}, backoff.Permanent(err)
		}
		if attempt < q.cfg.MaxTries {
			metrics.IncBackgroundTask(taskType, metrics.ResultRetry)
			q.logger.Warn().Err(err).
				Str("key", qt.key).
				Str("task_type", taskType).
				Int("attempt", attempt).
				Msg("background task failed, retrying")
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(q.ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(q.cfg.MaxTries)),
	)
	if err == nil {
		metrics.IncBackgroundTask(taskType, metrics.ResultOK)
		return
	}
	if errors.Is(err, asynq.SkipRetry) {
		metrics.IncBackgroundTask(taskType, metrics.ResultFailed)
		q.logger.Error().Err(err).
			Str("key", qt.key).
			Str("task_type", taskType).
			Msg("background task failed permanently")
		return
	}
	q.deadLetterTask(qt, attempt, err)
}

func (q *Queue) deadLetterTask(qt queuedTask, attempts int, cause error) {
	taskType := qt.task.Type()
	logger := q.logger.With().
		Str("key", qt.key).
		Str("task_type", taskType).
		Int("attempts", attempts).
		Logger()

	if q.deadLetter == nil || q.cfg.DeadLetterQueue == "" {
		metrics.IncBackgroundTask(taskType, metrics.ResultFailed)
		logger.Error().Err(cause).RawJSON("payload", qt.task.Payload()).Msg("background task abandoned")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []asynq.Option{asynq.Queue(q.cfg.DeadLetterQueue)}
	if q.cfg.DeadLetterMaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(q.cfg.DeadLetterMaxRetry))
	}
	if q.cfg.DeadLetterTTL > 0 {
		opts = append(opts, asynq.Retention(q.cfg.DeadLetterTTL))
	}
	info, err := q.deadLetter.EnqueueContext(ctx, qt.task, opts...)
	if err != nil {
		metrics.IncBackgroundTask(taskType, metrics.ResultFailed)
		logger.Error().Err(err).AnErr("cause", cause).RawJSON("payload", qt.task.Payload()).
			Msg("dead-letter enqueue failed, task abandoned")
		return
	}

	metrics.IncBackgroundTask(taskType, metrics.ResultDeadLetter)
	logger.Warn().Err(cause).Str("asynq_id", info.ID).Str("queue", info.Queue).
		Msg("background task handed to durable queue")
}
