package response

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	apperrors "huddle/pkg/errors"
)

func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func Forbidden(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func NotFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// Conflict signals an invalid-state rejection. Clients treat it as a benign
// race: no error surfaced, just a resync against the entity's current state.
func Conflict(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"success": false,
		"error":   message,
		"code":    apperrors.CodeInvalidState,
	})
}

func InternalError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Internal server error",
	})
}

// Error maps a coded application error onto the matching HTTP envelope.
func Error(c *fiber.Ctx, err error) error {
	switch apperrors.Code(err) {
	case apperrors.CodeNotFound:
		return NotFound(c, err.Error())
	case apperrors.CodeNotAuthorized:
		return Forbidden(c, err.Error())
	case apperrors.CodeInvalidState:
		return Conflict(c, err.Error())
	case apperrors.CodeBadRequest:
		return BadRequest(c, err.Error())
	default:
		return InternalError(c, err)
	}
}

func ValidationError(c *fiber.Ctx, err error) error {
	var errs []string

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			errs = append(errs, e.Field()+" "+e.Tag())
		}
	} else {
		errs = append(errs, err.Error())
	}

	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"errors":  errs,
	})
}
