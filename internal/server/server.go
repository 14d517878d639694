// Package server wires the stores, services and workers into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/castdeck/api/internal/catalog"
	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/feed"
	"github.com/castdeck/api/internal/log"
	"github.com/castdeck/api/internal/middleware"
	"github.com/castdeck/api/internal/repository"
	"github.com/castdeck/api/internal/service"
	"github.com/castdeck/api/internal/worker"
	ws "github.com/castdeck/api/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	redis       *redis.Client
	db          *gorm.DB
	asynqClient *asynq.Client
	inspector   *asynq.Inspector
	asynqServer *asynq.Server
	mux         *asynq.ServeMux

	queue      *worker.Queue
	audit      *worker.CommandAudit
	hub        *ws.Hub
	reconciler *service.OfflineReconciler
	heartbeat  *worker.HeartbeatMonitor
	app        *fiber.App
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// New connects to redis and the log database and builds every component.
func New(cfg *config.Config) (*Server, error) {
	logger := log.WithComponent("server")

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
	}

	db, err := repository.OpenDB(cfg.Database, cfg.IsDevelopment())
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		redis:       redisClient,
		db:          db,
		asynqClient: asynq.NewClient(redisOpt(cfg.Redis)),
		inspector:   asynq.NewInspector(redisOpt(cfg.Redis)),
	}
	s.build()
	return s, nil
}

func (s *Server) build() {
	cfg := s.cfg
	keys := repository.Keys{Prefix: cfg.Redis.KeyPrefix}

	store := repository.NewRedisStore(s.redis, keys, cfg.Dispatch.MaxCASRetries, log.WithComponent("redis_store"))
	playoutLogs := repository.NewPlayoutLogStore(s.db)
	commandLogs := repository.NewCommandLogStore(s.db)

	playoutWorker := worker.NewPlayoutWorker(playoutLogs, commandLogs, catalog.NewClient(cfg.Catalog), log.WithComponent("playout_worker"))

	s.queue = worker.NewQueue(worker.QueueConfig{
		Workers:            cfg.Audit.Workers,
		Size:               cfg.Audit.QueueSize,
		MaxTries:           cfg.Audit.MaxTries,
		InitialBackoff:     cfg.Audit.InitialBackoff,
		MaxBackoff:         cfg.Audit.MaxBackoff,
		DeadLetterQueue:    cfg.Audit.Queue,
		DeadLetterMaxRetry: cfg.Audit.MaxRetry,
		DeadLetterTTL:      time.Duration(cfg.Audit.RetentionHours) * time.Hour,
	}, playoutWorker, s.asynqClient, log.WithComponent("queue"))

	s.asynqServer = asynq.NewServer(redisOpt(cfg.Redis), asynq.Config{
		Concurrency: cfg.Audit.Concurrency,
		Queues: map[string]int{
			cfg.Audit.Queue: 1,
		},
		Logger:   asynqLogger{log.WithComponent("asynq")},
		LogLevel: asynq.WarnLevel,
	})
	s.mux = asynq.NewServeMux()
	playoutWorker.Register(s.mux)

	s.audit = worker.NewCommandAudit(s.asynqClient, cfg.Audit.Queue, cfg.Audit.MaxRetry,
		time.Duration(cfg.Audit.RetentionHours)*time.Hour, cfg.Audit.QueueSize, log.WithComponent("audit"))

	dispatcher := service.NewDispatchService(store, store, s.audit, cfg.Dispatch.SequencePolicy, log.WithComponent("dispatch"))
	channels := service.NewChannelService(store, store, dispatcher, log.WithComponent("channels"))
	changes := feed.New(s.redis, keys, store, cfg.Feed.Buffer, log.WithComponent("feed"))

	s.hub = ws.NewHub(changes, log.WithComponent("hub"))
	s.reconciler = service.NewOfflineReconciler(changes, s.queue, log.WithComponent("reconciler"))
	s.heartbeat = worker.NewHeartbeatMonitor(store, cfg.Player.HeartbeatTimeout, cfg.Player.CheckInterval, log.WithComponent("heartbeat"))

	services := Services{
		Dispatcher:  dispatcher,
		Sessions:    service.NewSessionService(store, store, dispatcher),
		Playout:     service.NewPlayoutService(store, playoutLogs, dispatcher, s.queue, log.WithComponent("playout")),
		Channels:    channels,
		Diagnostics: service.NewDiagnosticsService(s.inspector, cfg.Audit.Queue, s.queue, commandLogs),
	}
	limiter := middleware.NewRateLimiter(s.redis, keys, log.WithComponent("ratelimit"))

	s.app = NewApp(AppOptions{
		JWTSecret:      cfg.JWT.Secret,
		Gateway:        cfg.Gateway.Enabled,
		DispatchPerMin: cfg.RateLimit.DispatchPerMin,
	}, services, s.hub, limiter, log.WithComponent("http"))
}

// Run serves until ctx is done or a component fails, then shuts every
// component down. Queued background tasks are drained before it returns.
func (s *Server) Run(ctx context.Context) error {
	s.queue.Start()
	if err := s.asynqServer.Start(s.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.hub.Run(gctx) })
	g.Go(func() error { return s.audit.Run(gctx) })
	g.Go(func() error { return s.reconciler.Run(gctx) })
	g.Go(func() error { return s.heartbeat.Run(gctx) })

	g.Go(func() error {
		addr := ":" + s.cfg.Server.Port
		s.logger.Info().Str("addr", addr).Str("policy", string(s.cfg.Dispatch.SequencePolicy)).Msg("server starting")
		return s.app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("shutting down server")
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.logger.Error().Err(err).Msg("server shutdown error")
		}
		return nil
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if qerr := s.queue.Close(drainCtx); qerr != nil {
		s.logger.Warn().Err(qerr).Int64("depth", s.queue.Depth()).Msg("background queue not drained")
	}
	s.asynqServer.Shutdown()
	s.close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) close() {
	_ = s.asynqClient.Close()
	_ = s.inspector.Close()
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = s.redis.Close()
}
