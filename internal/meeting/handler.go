package meeting

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"huddle/internal/common/response"
	"huddle/internal/roster"
)

// RosterReader serves room-state snapshots for rendering.
type RosterReader interface {
	Snapshot(room string) roster.Snapshot
}

type Handler struct {
	service  *Service
	rosters  RosterReader
	validate *validator.Validate
}

func NewHandler(service *Service, rosters RosterReader) *Handler {
	return &Handler{
		service:  service,
		rosters:  rosters,
		validate: validator.New(),
	}
}

// CreateMeeting creates a meeting with the caller as host.
// POST /api/v1/meetings
func (h *Handler) CreateMeeting(c *fiber.Ctx) error {
	var req CreateMeetingRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return response.ValidationError(c, err)
	}

	session, err := h.service.CreateMeeting(c.Context(), currentUserID(c), &req)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, session)
}

// JoinMeeting joins or requests to join a meeting. When approval is
// required the response carries pending=true and no token.
// POST /api/v1/meetings/:id/join
func (h *Handler) JoinMeeting(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	result, err := h.service.JoinMeeting(c.Context(), meetingID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, result)
}

// AdmitParticipant approves a pending join request (host only).
// POST /api/v1/meetings/:id/participants/:userId/admit
func (h *Handler) AdmitParticipant(c *fiber.Ctx) error {
	meetingID, userID, err := meetingAndUserParams(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	p, err := h.service.AdmitParticipant(c.Context(), meetingID, currentUserID(c), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, p)
}

// DeclineParticipant rejects a pending join request (host only).
// POST /api/v1/meetings/:id/participants/:userId/decline
func (h *Handler) DeclineParticipant(c *fiber.Ctx) error {
	meetingID, userID, err := meetingAndUserParams(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	p, err := h.service.DeclineParticipant(c.Context(), meetingID, currentUserID(c), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, p)
}

// EndMeeting ends the meeting for everyone (host only).
// POST /api/v1/meetings/:id/end
func (h *Handler) EndMeeting(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	m, err := h.service.EndMeeting(c.Context(), meetingID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, m)
}

// LeaveMeeting settles the caller's own registration.
// POST /api/v1/meetings/:id/leave
func (h *Handler) LeaveMeeting(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	if err := h.service.LeaveMeeting(c.Context(), meetingID, currentUserID(c)); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"message": "Left meeting"})
}

// ToggleHandRaise raises or lowers the caller's hand.
// POST /api/v1/meetings/:id/hand
func (h *Handler) ToggleHandRaise(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	var req struct {
		Raised bool `json:"raised"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	if err := h.service.ToggleHandRaise(c.Context(), meetingID, currentUserID(c), req.Raised); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"raised": req.Raised})
}

// SendReaction broadcasts an emoji reaction.
// POST /api/v1/meetings/:id/reaction
func (h *Handler) SendReaction(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	var req struct {
		Emoji string `json:"emoji" validate:"required,max=16"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return response.ValidationError(c, err)
	}

	if err := h.service.SendReaction(c.Context(), meetingID, currentUserID(c), req.Emoji); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"emoji": req.Emoji})
}

// GetMeetingHistory lists the caller's meetings, newest first.
// GET /api/v1/meetings/history
func (h *Handler) InviteParticipant(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return response.ValidationError(c, err)
	}

	if err := h.service.InviteParticipant(c.Context(), meetingID, currentUserID(c), req.Email); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"invited": req.Email})
}

func (h *Handler) GetMeetingHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	meetings, err := h.service.GetMeetingHistory(c.Context(), currentUserID(c), limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"meetings": meetings})
}

// GetMeeting returns the meeting record.
// GET /api/v1/meetings/:id
func (h *Handler) GetMeeting(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	m, err := h.service.GetMeeting(c.Context(), meetingID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, m)
}

// ListParticipants returns the registered roster; the host also sees
// pending requests.
// GET /api/v1/meetings/:id/participants
func (h *Handler) ListParticipants(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	participants, err := h.service.ListParticipants(c.Context(), meetingID, currentUserID(c))
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, fiber.Map{"participants": participants})
}

// GetRoomState returns the live in-room snapshot: who is present, raised
// hands, active reactions, and the current screen sharer.
// GET /api/v1/meetings/:id/roster
func (h *Handler) GetRoomState(c *fiber.Ctx) error {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.BadRequest(c, "Invalid meeting id")
	}

	m, err := h.service.GetMeeting(c.Context(), meetingID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, h.rosters.Snapshot(m.RoomName))
}

func meetingAndUserParams(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	meetingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid meeting id")
	}
	userID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid user id")
	}
	return meetingID, userID, nil
}

func currentUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := uuid.Parse(c.Locals("userID").(string))
	return id
}
