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

type SessionHandler struct {
	service   *service.SessionService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewSessionHandler(svc *service.SessionService, v *validator.Validate, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// SelectChannel handles PUT /api/session/channel
func (h *SessionHandler) SelectChannel(c *fiber.Ctx) error {
	var req model.SelectChannelRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	ch, err := h.service.SelectChannel(c.Context(), middleware.GetUserID(c), req.ChannelID)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// SelectedChannel handles GET /api/session/channel
func (h *SessionHandler) SelectedChannel(c *fiber.Ctx) error {
	ch, err := h.service.SelectedChannel(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// Deselect handles DELETE /api/session/channel
func (h *SessionHandler) Deselect(c *fiber.Ctx) error {
	if err := h.service.Deselect(c.Context(), middleware.GetUserID(c)); err != nil {
		return writeError(c, h.logger, err)
	}
	return response.NoContent(c)
}

// Play handles POST /api/session/play
func (h *SessionHandler) Play(c *fiber.Ctx) error {
	var req model.PlayRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	result, err := h.service.Play(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// Stop handles POST /api/session/stop
func (h *SessionHandler) Stop(c *fiber.Ctx) error {
	var req model.LayerRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	result, err := h.service.Stop(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// Update handles POST /api/session/update
func (h *SessionHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	result, err := h.service.Update(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// Clear handles POST /api/session/clear
func (h *SessionHandler) Clear(c *fiber.Ctx) error {
	var req model.LayerRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	result, err := h.service.Clear(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// ClearAll handles POST /api/session/clear-all
func (h *SessionHandler) ClearAll(c *fiber.Ctx) error {
	var req model.ClearAllRequest
	if ok, err := parseBody(c, h.validator, &req, true); !ok {
		return err
	}

	result, err := h.service.ClearAll(c.Context(), middleware.GetUserID(c), service.DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}
