package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/castdeck/api/internal/config"
	"github.com/castdeck/api/internal/feed"
	"github.com/castdeck/api/internal/middleware"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/repository"
	"github.com/castdeck/api/internal/server"
	"github.com/castdeck/api/internal/service"
	ws "github.com/castdeck/api/internal/websocket"
	"github.com/castdeck/api/internal/worker"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	store *repository.RedisStore
	queue *worker.Queue
	hub   *ws.Hub
	auth  *middleware.AuthMiddleware
}

// queueRecorder writes command log entries through the ordered queue.
type queueRecorder struct {
	queue *worker.Queue
}

func (r queueRecorder) RecordCommand(_ context.Context, entry *model.CommandLogEntry) {
	task, err := worker.NewCommandLogTask(entry)
	if err != nil {
		return
	}
	_ = r.queue.Submit(entry.ChannelID, task)
}

type missingQueue struct{}

func (missingQueue) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return nil, asynq.ErrQueueNotFound
}

// setupApp creates the Fiber app the server builds, backed by miniredis and
// an in-memory sqlite log database.
func setupApp(t *testing.T, policy model.SequencePolicy) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	keys := repository.Keys{Prefix: "e2e:"}
	store := repository.NewRedisStore(redisClient, keys, 50, zerolog.Nop())

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
	playoutLogs := repository.NewPlayoutLogStore(db)
	commandLogs := repository.NewCommandLogStore(db)

	playoutWorker := worker.NewPlayoutWorker(playoutLogs, commandLogs, nopCatalog{}, zerolog.Nop())
	queue := worker.NewQueue(worker.QueueConfig{Workers: 2, Size: 64, MaxTries: 3}, playoutWorker, nil, zerolog.Nop())
	queue.Start()
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	dispatcher := service.NewDispatchService(store, store, queueRecorder{queue}, policy, zerolog.Nop())
	changes := feed.New(redisClient, keys, store, 16, zerolog.Nop())

	hub := ws.NewHub(changes, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	services := server.Services{
		Dispatcher:  dispatcher,
		Sessions:    service.NewSessionService(store, store, dispatcher),
		Playout:     service.NewPlayoutService(store, playoutLogs, dispatcher, queue, zerolog.Nop()),
		Channels:    service.NewChannelService(store, store, dispatcher, zerolog.Nop()),
		Diagnostics: service.NewDiagnosticsService(missingQueue{}, "audit", queue, commandLogs),
	}

	// Use very high rate limits so tests don't get blocked
	app := server.NewApp(server.AppOptions{
		JWTSecret:      testJWTSecret,
		DispatchPerMin: 10000,
	}, services, hub, middleware.NewRateLimiter(redisClient, keys, zerolog.Nop()), zerolog.Nop())

	return &testApp{
		app:   app,
		mr:    mr,
		store: store,
		queue: queue,
		hub:   hub,
		auth:  middleware.NewAuthMiddleware(testJWTSecret),
	}
}

type nopCatalog struct{}

func (nopCatalog) ResetOnAir(context.Context, string) error { return nil }

// generateToken creates an HMAC JWT token for test requests.
func (ta *testApp) generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := ta.auth.GenerateToken(userID, userID+"@example.com", "Operator "+userID)
	require.NoError(t, err)
	return token
}

// doRequest performs an HTTP request against the Fiber app.
func (ta *testApp) doRequest(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// doAuthRequest performs a request as operator op-1.
func (ta *testApp) doAuthRequest(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ta.doRequest(t, method, path, body, ta.generateToken(t, "op-1"))
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func parseJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(readBody(t, resp), v))
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, readBody(t, resp))
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func assertError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	assertStatus(t, resp, status)
	var body errorBody
	parseJSON(t, resp, &body)
	require.Equal(t, code, body.Error.Code, body.Error.Message)
}

func (ta *testApp) provision(t *testing.T, id string, layers int) {
	t.Helper()
	resp := ta.doAuthRequest(t, "POST", "/api/channels", map[string]interface{}{
		"id":             id,
		"organizationId": "org-1",
		"name":           "Main Graphics",
		"channelCode":    "GFX1",
		"channelType":    "graphics",
		"layerCount":     layers,
	})
	assertStatus(t, resp, fiber.StatusCreated)
	_ = readBody(t, resp)
}

func (ta *testApp) logs(t *testing.T, query string) model.PlayoutLogPage {
	t.Helper()
	resp := ta.doAuthRequest(t, "GET", "/api/playout-logs"+query, nil)
	assertStatus(t, resp, fiber.StatusOK)
	var page model.PlayoutLogPage
	parseJSON(t, resp, &page)
	return page
}

func (ta *testApp) eventuallyLogs(t *testing.T, query string, n int) model.PlayoutLogPage {
	t.Helper()
	var page model.PlayoutLogPage
	require.Eventually(t, func() bool {
		page = ta.logs(t, query)
		return len(page.Entries) == n
	}, 3*time.Second, 20*time.Millisecond)
	return page
}

func playBody(layer int, page string) map[string]interface{} {
	return map[string]interface{}{
		"layerIndex": layer,
		"page":       map[string]string{"id": page, "name": "Page " + page},
		"template":   map[string]string{"id": "tpl-1", "name": "Lower Third"},
		"payload":    map[string]string{"title": page},
	}
}
