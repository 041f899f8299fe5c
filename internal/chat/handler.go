package chat

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"huddle/internal/common/response"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) GetMessages(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	uid, _ := uuid.Parse(userID)

	conversationID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid conversation ID")
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	messages, err := h.service.GetMessages(c.Context(), conversationID, uid, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}
