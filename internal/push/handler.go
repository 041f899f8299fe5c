package push

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"huddle/internal/common/response"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// RegisterToken registers a device token for call notifications.
// POST /api/v1/push/register
func (h *Handler) RegisterToken(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	uid, _ := uuid.Parse(userID)

	var req RegisterTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return response.ValidationError(c, err)
	}

	if err := h.service.RegisterDeviceToken(c.Context(), uid, &req); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"message": "Device token registered"})
}

// DeactivateToken stops deliveries to a device token.
// POST /api/v1/push/deactivate
func (h *Handler) DeactivateToken(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	uid, _ := uuid.Parse(userID)

	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return response.ValidationError(c, err)
	}

	if err := h.service.DeactivateToken(c.Context(), uid, req.Token); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"message": "Device token deactivated"})
}
