package meetings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devjunction/backend/internal/models"
	"github.com/devjunction/backend/pkg/response"
)

// CreateRequest is the body for POST /meetings.
type CreateRequest struct {
	BookingID       string               `json:"booking_id" binding:"required"`
	MeetingURL      string               `json:"meeting_url" binding:"required"`
	StartTime       string               `json:"start_time" binding:"required"` // RFC3339
	DurationMinutes int                  `json:"duration_minutes" binding:"required"`
	CreatedBy       string               `json:"created_by" binding:"required,uuid"`
	Participants    []ParticipantRequest `json:"participants" binding:"required"`
}

// ParticipantRequest is one participant entry in CreateRequest.
type ParticipantRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Role   string `json:"role" binding:"required"`
}

// StatusRequest is the body for PATCH /meetings/:meetingId/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UserRequest is the body for join/leave calls.
type UserRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

// Handler exposes the meeting lifecycle manager over HTTP.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a meeting handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Create handles POST /meetings: idempotent creation keyed on booking_id.
// Responds 201 when this call inserted the meeting, 200 when it already existed.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		response.BadRequest(c, "invalid start_time")
		return
	}
	createdBy, err := uuid.Parse(req.CreatedBy)
	if err != nil {
		response.BadRequest(c, "invalid created_by")
		return
	}
	participants := make([]models.Participant, 0, len(req.Participants))
	for _, p := range req.Participants {
		uid, err := uuid.Parse(p.UserID)
		if err != nil {
			response.BadRequest(c, "invalid participant user_id")
			return
		}
		participants = append(participants, models.Participant{UserID: uid, Role: p.Role})
	}

	m, created, err := h.service.EnsureMeeting(c.Request.Context(), CreateParams{
		BookingID:       req.BookingID,
		MeetingURL:      req.MeetingURL,
		StartTime:       startTime,
		DurationMinutes: req.DurationMinutes,
		CreatedBy:       createdBy,
		Participants:    participants,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			response.Conflict(c, "meeting creation conflicted, retry")
		case errors.Is(err, ErrInvalidParams):
			response.BadRequest(c, err.Error())
		default:
			h.logger.Error("create meeting", zap.String("booking_id", req.BookingID), zap.Error(err))
			response.Internal(c, "failed to create meeting")
		}
		return
	}
	if created {
		response.Created(c, m)
		return
	}
	response.OK(c, m)
}

// UpdateStatus handles PATCH /meetings/:meetingId/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.service.SetStatus(c.Request.Context(), id, models.MeetingStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition):
			response.Conflict(c, err.Error())
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "meeting not found")
		default:
			h.logger.Error("update status", zap.String("meeting_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to update status")
		}
		return
	}
	response.OK(c, m)
}

// Join handles POST /meetings/:meetingId/join.
func (h *Handler) Join(c *gin.Context) {
	h.stamp(c, h.service.RecordJoin)
}

// Leave handles POST /meetings/:meetingId/leave.
func (h *Handler) Leave(c *gin.Context) {
	h.stamp(c, h.service.RecordLeave)
}

func (h *Handler) stamp(c *gin.Context, record func(ctx context.Context, id, userID uuid.UUID) (*models.Meeting, error)) {
	id, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}
	m, err := record(c.Request.Context(), id, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrParticipantNotFound):
			response.NotFound(c, "participant not found")
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "meeting not found")
		default:
			h.logger.Error("record participant", zap.String("meeting_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to record participant")
		}
		return
	}
	response.OK(c, m)
}

// GetByBookingID handles GET /meetings/booking/:bookingId.
func (h *Handler) GetByBookingID(c *gin.Context) {
	m, err := h.service.GetByBookingID(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("get by booking", zap.String("booking_id", c.Param("bookingId")), zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}
	response.OK(c, m)
}

// GetDetails handles GET /meetings/:meetingId.
func (h *Handler) GetDetails(c *gin.Context) {
	id, err := uuid.Parse(c.Param("meetingId"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	detail, err := h.service.GetDetails(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "meeting not found")
			return
		}
		h.logger.Error("get details", zap.String("meeting_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to fetch meeting")
		return
	}
	response.OK(c, detail)
}

// ListUpcoming handles GET /meetings/user/:userId/upcoming. As a side effect,
// expired candidates are swept before the surviving list is returned.
func (h *Handler) ListUpcoming(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	list, err := h.service.ListUpcoming(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list upcoming", zap.String("user_id", userID.String()), zap.Error(err))
		response.Internal(c, "failed to list meetings")
		return
	}
	if list == nil {
		list = []models.Meeting{}
	}
	response.OK(c, list)
}
