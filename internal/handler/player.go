package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/service"
	"github.com/castdeck/api/pkg/response"
)

// PlayerHandler serves the routes called by playout engines.
type PlayerHandler struct {
	service   *service.ChannelService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewPlayerHandler(svc *service.ChannelService, v *validator.Validate, logger zerolog.Logger) *PlayerHandler {
	return &PlayerHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// ReportStatus handles PUT /api/player/channels/:channelId/status
func (h *PlayerHandler) ReportStatus(c *fiber.Ctx) error {
	var req model.PlayerStatusRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	ch, err := h.service.ReportPlayerStatus(c.Context(), c.Params("channelId"), req.PlayerStatus)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, ch)
}

// Ack handles POST /api/player/channels/:channelId/ack
func (h *PlayerHandler) Ack(c *fiber.Ctx) error {
	var req model.AckRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	st, err := h.service.Acknowledge(c.Context(), c.Params("channelId"), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, st)
}
