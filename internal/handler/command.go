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

// CommandHandler serves dispatch against an explicit channel. The play,
// stop and clear routes also reconcile the playout log.
type CommandHandler struct {
	dispatcher *service.DispatchService
	playout    *service.PlayoutService
	validator  *validator.Validate
	logger     zerolog.Logger
}

func NewCommandHandler(dispatcher *service.DispatchService, playout *service.PlayoutService, v *validator.Validate, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		dispatcher: dispatcher,
		playout:    playout,
		validator:  v,
		logger:     logger,
	}
}

// Dispatch handles POST /api/channels/:channelId/commands
func (h *CommandHandler) Dispatch(c *fiber.Ctx) error {
	var req model.DispatchRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}
	req.OperatorID = middleware.GetUserID(c)

	result, err := h.dispatcher.Dispatch(c.Context(), c.Params("channelId"), &req.CommandInput, service.DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// Play handles POST /api/channels/:channelId/play
func (h *CommandHandler) Play(c *fiber.Ctx) error {
	var req model.PlayRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}
	req.OperatorID = middleware.GetUserID(c)
	req.OperatorName = middleware.GetUserName(c)

	result, err := h.playout.PlayOnChannel(c.Context(), c.Params("channelId"), &req)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// Stop handles POST /api/channels/:channelId/stop
func (h *CommandHandler) Stop(c *fiber.Ctx) error {
	var req model.LayerRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	result, err := h.playout.StopOnChannel(c.Context(), c.Params("channelId"), &req, middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// Clear handles POST /api/channels/:channelId/clear
func (h *CommandHandler) Clear(c *fiber.Ctx) error {
	var req model.LayerRequest
	if ok, err := parseBody(c, h.validator, &req, false); !ok {
		return err
	}

	result, err := h.playout.ClearOnChannel(c.Context(), c.Params("channelId"), &req, middleware.GetUserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}

// ClearAll handles POST /api/channels/:channelId/clear-all
func (h *CommandHandler) ClearAll(c *fiber.Ctx) error {
	var req model.ClearAllRequest
	if ok, err := parseBody(c, h.validator, &req, true); !ok {
		return err
	}

	result, err := h.playout.ClearAllOnChannel(c.Context(), c.Params("channelId"), middleware.GetUserID(c), service.DispatchOptions{
		ExpectedSequence: req.ExpectedSequence,
		TriggerSource:    req.TriggerSource,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return response.Created(c, result)
}
