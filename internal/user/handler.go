package user

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

func (h *Handler) GetMe(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	uid, _ := uuid.Parse(userID)

	u, err := h.service.GetUser(c.Context(), uid)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, u)
}

func (h *Handler) GetUser(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid user ID")
	}

	u, err := h.service.GetUser(c.Context(), id)
	if err != nil {
		return response.Error(c, err)
	}

	// Email stays private to the owner
	u.Email = ""

	return response.Success(c, u)
}

func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	uid, _ := uuid.Parse(userID)

	var req UpdateProfileDTO
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, err)
	}

	u, err := h.service.UpdateProfile(c.Context(), uid, &req)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, u)
}
