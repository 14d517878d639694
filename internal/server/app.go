package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/handler"
	"github.com/castdeck/api/internal/middleware"
	"github.com/castdeck/api/internal/service"
	ws "github.com/castdeck/api/internal/websocket"
	"github.com/castdeck/api/pkg/response"
)

// Services is what the HTTP surface calls into.
type Services struct {
	Dispatcher  *service.DispatchService
	Sessions    *service.SessionService
	Playout     *service.PlayoutService
	Channels    *service.ChannelService
	Diagnostics *service.DiagnosticsService
}

type AppOptions struct {
	JWTSecret      string
	Gateway        bool
	DispatchPerMin int
}

// NewApp builds the fiber app with every route mounted.
func NewApp(opts AppOptions, svc Services, hub *ws.Hub, limiter *middleware.RateLimiter, logger zerolog.Logger) *fiber.App {
	validate := validator.New()

	channelHandler := handler.NewChannelHandler(svc.Channels, validate, logger)
	commandHandler := handler.NewCommandHandler(svc.Dispatcher, svc.Playout, validate, logger)
	sessionHandler := handler.NewSessionHandler(svc.Sessions, validate, logger)
	logHandler := handler.NewPlayoutLogHandler(svc.Playout, validate, logger)
	playerHandler := handler.NewPlayerHandler(svc.Channels, validate, logger)
	diagnosticsHandler := handler.NewDiagnosticsHandler(svc.Diagnostics, validate, logger)

	var authenticate fiber.Handler
	if opts.Gateway {
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		authenticate = middleware.NewAuthMiddleware(opts.JWTSecret).Authenticate()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             4 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api", authenticate)
	dispatchLimit := limiter.DispatchLimit(opts.DispatchPerMin)

	channels := api.Group("/channels")
	channels.Get("/", channelHandler.List)
	channels.Post("/", channelHandler.Create)
	channels.Get("/:channelId", channelHandler.Get)
	channels.Get("/:channelId/state", channelHandler.State)
	channels.Put("/:channelId/lock", channelHandler.Lock)
	channels.Delete("/:channelId/lock", channelHandler.Unlock)
	channels.Put("/:channelId/project", channelHandler.SetProject)
	channels.Put("/:channelId/control", channelHandler.TakeControl)
	channels.Delete("/:channelId/control", channelHandler.ReleaseControl)
	channels.Post("/:channelId/commands", dispatchLimit, commandHandler.Dispatch)
	channels.Post("/:channelId/play", dispatchLimit, commandHandler.Play)
	channels.Post("/:channelId/stop", dispatchLimit, commandHandler.Stop)
	channels.Post("/:channelId/clear", dispatchLimit, commandHandler.Clear)
	channels.Post("/:channelId/clear-all", dispatchLimit, commandHandler.ClearAll)

	session := api.Group("/session")
	session.Put("/channel", sessionHandler.SelectChannel)
	session.Get("/channel", sessionHandler.SelectedChannel)
	session.Delete("/channel", sessionHandler.Deselect)
	session.Post("/play", dispatchLimit, sessionHandler.Play)
	session.Post("/stop", dispatchLimit, sessionHandler.Stop)
	session.Post("/update", dispatchLimit, sessionHandler.Update)
	session.Post("/clear", dispatchLimit, sessionHandler.Clear)
	session.Post("/clear-all", dispatchLimit, sessionHandler.ClearAll)

	logs := api.Group("/playout-logs")
	logs.Get("/", logHandler.List)
	logs.Get("/export", logHandler.Export)
	logs.Get("/:id", logHandler.Get)
	logs.Patch("/:id", logHandler.Update)
	logs.Delete("/:id", logHandler.Delete)

	player := api.Group("/player/channels")
	player.Put("/:channelId/status", playerHandler.ReportStatus)
	player.Post("/:channelId/ack", playerHandler.Ack)

	api.Get("/diagnostics/audit", diagnosticsHandler.Audit)
	api.Get("/diagnostics/channels/:channelId/commands", diagnosticsHandler.Commands)

	// WebSocket routes
	wsGroup := app.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, authenticate)

	wsGroup.Get("/channels", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, ws.ChannelsTopic)
	}))
	wsGroup.Get("/channels/:channelId/state", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, ws.StateTopic(c.Params("channelId")))
	}))

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
