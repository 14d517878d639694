package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/model"
	"github.com/castdeck/api/pkg/response"
)

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// parseBody decodes and validates a JSON body. When it reports false the
// error response has already been written. An empty body is accepted when
// optional is set.
func parseBody(c *fiber.Ctx, v *validator.Validate, req interface{}, optional bool) (bool, error) {
	if optional && len(c.Body()) == 0 {
		return true, nil
	}
	if err := c.BodyParser(req); err != nil {
		return false, response.ValidationError(c, "Invalid request body", nil)
	}
	if err := v.Struct(req); err != nil {
		return false, response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	return true, nil
}

// writeError maps service errors to the API error envelope.
func writeError(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, model.ErrChannelNotFound):
		return response.NotFound(c, "Channel not found")
	case errors.Is(err, model.ErrLogEntryNotFound):
		return response.NotFound(c, "Playout log entry not found")
	case errors.Is(err, model.ErrStaleSequence):
		return response.SequenceConflict(c, err.Error(), nil)
	case errors.Is(err, model.ErrNoChannelSelected),
		errors.Is(err, model.ErrSequenceRequired),
		errors.Is(err, model.ErrInvalidLayer):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, model.ErrChannelExists),
		errors.Is(err, model.ErrChannelLocked),
		errors.Is(err, model.ErrOpenEntryExists):
		return response.Conflict(c, err.Error())
	case errors.Is(err, model.ErrStateWriteFailed):
		return response.StateWriteFailed(c, "Channel state could not be written, retry the command")
	}

	logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return response.ServiceError(c, "Internal error")
}
