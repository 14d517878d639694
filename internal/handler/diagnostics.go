package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/service"
	"github.com/castdeck/api/pkg/response"
)

type DiagnosticsHandler struct {
	service   *service.DiagnosticsService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewDiagnosticsHandler(svc *service.DiagnosticsService, v *validator.Validate, logger zerolog.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{service: svc, validator: v, logger: logger}
}

// Audit handles GET /api/diagnostics/audit
func (h *DiagnosticsHandler) Audit(c *fiber.Ctx) error {
	d, err := h.service.Audit()
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, d)
}

// Commands handles GET /api/diagnostics/channels/:channelId/commands
func (h *DiagnosticsHandler) Commands(c *fiber.Ctx) error {
	var q model.CommandLogQuery
	if err := c.QueryParser(&q); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}
	if err := h.validator.Struct(q); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	entries, err := h.service.Commands(c.Context(), c.Params("channelId"), q.Limit)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, fiber.Map{"commands": entries})
}
