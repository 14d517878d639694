package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/middleware"
	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/service"
	"github.com/castdeck/api/pkg/response"
)

type ChannelHandler struct {
	service   *service.ChannelService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewChannelHandler(svc *service.ChannelService, v *validator.Validate, logger zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

type provisionResponse struct {
	Channel *model.Channel      `json:"channel"`
	State   *model.ChannelState `json:"state"`
}

// List handles GET /api/channels
func (h *ChannelHandler) List(c *fiber.Ctx) error {
	channels, err := h.service.List(c.Context())
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, fiber.Map{"channels": channels})
}

// Create handles POST /api/channels
func (h *ChannelHandler) Create(c *fiber.Ctx) error {
	var req model.ProvisionChannelRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	ch, st, err := h.service.Provision(c.Context(), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, provisionResponse{Channel: ch, State: st})
}

// Get handles GET /api/channels/:channelId
func (h *ChannelHandler) Get(c *fiber.Ctx) error {
	ch, err := h.service.Get(c.Context(), c.Params("channelId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// State handles GET /api/channels/:channelId/state
func (h *ChannelHandler) State(c *fiber.Ctx) error {
	st, err := h.service.GetState(c.Context(), c.Params("channelId"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, st)
}

// Lock handles PUT /api/channels/:channelId/lock
func (h *ChannelHandler) Lock(c *fiber.Ctx) error {
	ch, err := h.service.Lock(c.Context(), c.Params("channelId"), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// Unlock handles DELETE /api/channels/:channelId/lock
func (h *ChannelHandler) Unlock(c *fiber.Ctx) error {
	ch, err := h.service.Unlock(c.Context(), c.Params("channelId"), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// SetProject handles PUT /api/channels/:channelId/project
func (h *ChannelHandler) SetProject(c *fiber.Ctx) error {
	var req model.SetProjectRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	ch, err := h.service.SetLoadedProject(c.Context(), c.Params("channelId"), req.ProjectID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// TakeControl handles PUT /api/channels/:channelId/control
func (h *ChannelHandler) TakeControl(c *fiber.Ctx) error {
	st, err := h.service.TakeControl(c.Context(), c.Params("channelId"), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, st)
}

// ReleaseControl handles DELETE /api/channels/:channelId/control
func (h *ChannelHandler) ReleaseControl(c *fiber.Ctx) error {
	st, err := h.service.ReleaseControl(c.Context(), c.Params("channelId"), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, st)
}
