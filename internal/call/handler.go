package call

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

type InitiateCallRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required,uuid"`
	CallType   string `json:"call_type" validate:"required,oneof=audio video"`
}

// InitiateCall starts ringing another user.
// POST /api/v1/calls/initiate
func (h *Handler) InitiateCall(c *fiber.Ctx) error {
	callerID := currentUserID(c)

	var req InitiateCallRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return response.ValidationError(c, err)
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		return response.BadRequest(c, "Invalid receiver id")
	}

	session, err := h.service.InitiateCall(c.Context(), callerID, receiverID, req.CallType)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, session)
}

// AnswerCall accepts a ringing call.
// POST /api/v1/calls/:id/answer
func (h *Handler) AnswerCall(c *fiber.Ctx) error {
	callID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid call id")
	}

	session, err := h.service.AnswerCall(c.Context(), callID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, session)
}

// DeclineCall rejects a ringing call.
// POST /api/v1/calls/:id/decline
func (h *Handler) DeclineCall(c *fiber.Ctx) error {
	callID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid call id")
	}

	declined, err := h.service.DeclineCall(c.Context(), callID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, declined)
}

// EndCall hangs up from either side. Ending an already-settled call is not
// an error; the settled call is returned as-is.
// POST /api/v1/calls/:id/end
func (h *Handler) EndCall(c *fiber.Ctx) error {
	callID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid call id")
	}

	ended, err := h.service.EndCall(c.Context(), callID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, ended)
}

// PollIncoming returns the newest call ringing for the user, if any.
// GET /api/v1/calls/incoming
func (h *Handler) PollIncoming(c *fiber.Ctx) error {
	incoming, err := h.service.PollIncoming(c.Context(), currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	if incoming == nil {
		return response.Success(c, fiber.Map{"call": nil})
	}

	return response.Success(c, incoming)
}

// GetActiveCall returns the user's ongoing call for reconnection after a
// page reload.
// GET /api/v1/calls/active
func (h *Handler) GetActiveCall(c *fiber.Ctx) error {
	session, err := h.service.GetActiveCall(c.Context(), currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}
	if session == nil {
		return response.Success(c, fiber.Map{"call": nil})
	}

	return response.Success(c, session)
}

// GetCallHistory lists the user's past calls, newest first.
// GET /api/v1/calls/history
func (h *Handler) GetCallHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	calls, err := h.service.GetCallHistory(c.Context(), currentUserID(c), limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"calls": calls})
}

// GetCallStatus returns the current state of a call for outgoing-side
// polling.
// GET /api/v1/calls/:id
func (h *Handler) GetCallStatus(c *fiber.Ctx) error {
	callID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid call id")
	}

	call, err := h.service.GetCallStatus(c.Context(), callID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, call)
}

func currentUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := uuid.Parse(c.Locals("userID").(string))
	return id
}
