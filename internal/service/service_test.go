package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
	"github.com/castdeck/api/internal/worker"
)

type fakeRecorder struct {
	mu      sync.Mutex
	entries []*model.CommandLogEntry
}

func (f *fakeRecorder) RecordCommand(_ context.Context, entry *model.CommandLogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeRecorder) all() []*model.CommandLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.CommandLogEntry(nil), f.entries...)
}

type fakeCatalog struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCatalog) ResetOnAir(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, channelID)
	return nil
}

func (f *fakeCatalog) resets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	store    *repository.RedisStore
	logs     *repository.PlayoutLogStore
	recorder *fakeRecorder
	catalog  *fakeCatalog
	queue    *worker.Queue
	clock    *stepClock

	dispatcher *DispatchService
	sessions   *SessionService
	playout    *PlayoutService
	channels   *ChannelService
}

func newFixture(t *testing.T, policy model.SequencePolicy) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := repository.NewRedisStore(rdb, repository.Keys{Prefix: "test:"}, 200, zerolog.Nop())

	db, err := repository.OpenDB(config.DatabaseConfig{
		Driver:      "sqlite",
		DSN:         "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		AutoMigrate: true,
	}, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	logs := repository.NewPlayoutLogStore(db)
	catalog := &fakeCatalog{}
	handler := worker.NewPlayoutWorker(logs, repository.NewCommandLogStore(db), catalog, zerolog.Nop())

	queue := worker.NewQueue(worker.QueueConfig{
		Workers:        2,
		Size:           64,
		MaxTries:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, handler, nil, zerolog.Nop())
	queue.Start()
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	clock := newStepClock()
	recorder := &fakeRecorder{}
	dispatcher := NewDispatchService(store, store, recorder, policy, zerolog.Nop())
	dispatcher.now = clock.now
	channels := NewChannelService(store, store, dispatcher, zerolog.Nop())
	channels.now = clock.now

	return &fixture{
		mr:         mr,
		rdb:        rdb,
		store:      store,
		logs:       logs,
		recorder:   recorder,
		catalog:    catalog,
		queue:      queue,
		clock:      clock,
		dispatcher: dispatcher,
		sessions:   NewSessionService(store, store, dispatcher),
		playout:    NewPlayoutService(store, logs, dispatcher, queue, zerolog.Nop()),
		channels:   channels,
	}
}

// flush waits for every submitted background task to be applied.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.queue.Close(ctx))
}

func (f *fixture) provision(t *testing.T, id string, layers int) *model.Channel {
	t.Helper()
	ch, _, err := f.channels.Provision(context.Background(), &model.ProvisionChannelRequest{
		ID:             id,
		OrganizationID: "org-1",
		Name:           "Main Graphics",
		ChannelCode:    "GFX1",
		ChannelType:    model.ChannelTypeGraphics,
		LayerCount:     layers,
	})
	require.NoError(t, err)
	return ch
}

func (f *fixture) openEntries(t *testing.T, channelID string) []model.PlayoutLogEntry {
	t.Helper()
	page, err := f.logs.List(context.Background(), model.PlayoutLogFilter{ChannelID: channelID, OpenOnly: true, PageSize: 100})
	require.NoError(t, err)
	return page.Entries
}

func (f *fixture) allEntries(t *testing.T, channelID string) []model.PlayoutLogEntry {
	t.Helper()
	page, err := f.logs.List(context.Background(), model.PlayoutLogFilter{ChannelID: channelID, PageSize: 100})
	require.NoError(t, err)
	return page.Entries
}

func playRequest(layer int, page string) *model.PlayRequest {
	return &model.PlayRequest{
		LayerIndex: layer,
		Page:       model.PageRef{ID: page, Name: "Page " + page},
		Template:   model.TemplateSnapshot{ID: "tpl-" + page, Name: "Lower Third"},
		Payload:    []byte(`{"title":"` + page + `"}`),
		OperatorID: "op-1",
	}
}

// syncSubmitter runs tasks inline and remembers them.
type syncSubmitter struct {
	mu      sync.Mutex
	handler asynq.Handler
	tasks   []*asynq.Task
	keys    []string
}

func (s *syncSubmitter) Submit(key string, task *asynq.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	s.keys = append(s.keys, key)
	if s.handler != nil {
		return s.handler.ProcessTask(context.Background(), task)
	}
	return nil
}

func (s *syncSubmitter) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Type()
	}
	return out
}

func (s *syncSubmitter) channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// gatedSubmitter blocks the first submission until released.
type gatedSubmitter struct {
	syncSubmitter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSubmitter() *gatedSubmitter {
	return &gatedSubmitter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSubmitter) Submit(key string, task *asynq.Task) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.syncSubmitter.Submit(key, task)
}
