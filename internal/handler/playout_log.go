package handler

import (
	"bytes"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/internal/service"
	"github.com/castdeck/api/pkg/response"
)

type PlayoutLogHandler struct {
	service   *service.PlayoutService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewPlayoutLogHandler(svc *service.PlayoutService, v *validator.Validate, logger zerolog.Logger) *PlayoutLogHandler {
	return &PlayoutLogHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// parseFilter reads the reporting filter from the query string. from and
// to are RFC 3339 timestamps.
func (h *PlayoutLogHandler) parseFilter(c *fiber.Ctx) (model.PlayoutLogFilter, bool, error) {
	var filter model.PlayoutLogFilter
	if err := c.QueryParser(&filter); err != nil {
		return filter, false, response.ValidationError(c, "Invalid query parameters", nil)
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, false, response.ValidationError(c, "Invalid time range", map[string]string{p.name: "rfc3339"})
		}
		*p.dst = &t
	}

	if err := h.validator.Struct(&filter); err != nil {
		return filter, false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return filter, true, nil
}

// List handles GET /api/playout-logs
func (h *PlayoutLogHandler) List(c *fiber.Ctx) error {
	filter, ok, err := h.parseFilter(c)
	if !ok {
		return err
	}

	page, err := h.service.ListLogs(c.Context(), filter)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, page)
}

// Export handles GET /api/playout-logs/export
func (h *PlayoutLogHandler) Export(c *fiber.Ctx) error {
	filter, ok, err := h.parseFilter(c)
	if !ok {
		return err
	}

	var buf bytes.Buffer
	if err := h.service.ExportCSV(c.Context(), filter, &buf); err != nil {
		return writeError(c, h.logger, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="playout-log.csv"`)
	return c.Send(buf.Bytes())
}

// Get handles GET /api/playout-logs/:id
func (h *PlayoutLogHandler) Get(c *fiber.Ctx) error {
	entry, err := h.service.GetLog(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, entry)
}

// Update handles PATCH /api/playout-logs/:id
func (h *PlayoutLogHandler) Update(c *fiber.Ctx) error {
	var req model.UpdateLogRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	entry, err := h.service.UpdateLogMetadata(c.Context(), c.Params("id"), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.OK(c, entry)
}

// Delete handles DELETE /api/playout-logs/:id
func (h *PlayoutLogHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteLog(c.Context(), c.Params("id")); err != nil {
		return writeError(c, h.logger, err)
	}
	return response.NoContent(c)
}
