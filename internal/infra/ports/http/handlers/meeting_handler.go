package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mentorloop/meetroom/internal/application/constant"
	"github.com/mentorloop/meetroom/internal/domain/models"
	"github.com/mentorloop/meetroom/internal/infra/adapters/memory"
	"github.com/mentorloop/meetroom/internal/infra/appctx"
)

// MeetingHandler serves the minimal meeting directory the room client
// consumes: a create used by hosts and the "get meeting by id" read used to
// decide host status.
type MeetingHandler struct {
	meetingRepo memory.MeetingRepository
}

func NewMeetingHandler(meetingRepo memory.MeetingRepository) *MeetingHandler {
	return &MeetingHandler{
		meetingRepo: meetingRepo,
	}
}

func (h *MeetingHandler) Create(c echo.Context) error {
	var meeting models.Meeting
	if err := c.Bind(&meeting); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if meeting.RoomID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "roomId is required"})
	}

	identity, ok := appctx.IdentityFrom(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	meeting.CreatedBy = identity.UserID

	h.meetingRepo.Put(meeting)

	slog.Info(
		"meeting created",
		slog.String(constant.RoomID, meeting.RoomID),
		slog.String(constant.UserID, meeting.CreatedBy),
	)

	return c.JSON(http.StatusCreated, map[string]models.Meeting{"meeting": meeting})
}

func (h *MeetingHandler) GetByID(c echo.Context) error {
	meeting, ok := h.meetingRepo.GetByID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "meeting not found"})
	}

	return c.JSON(http.StatusOK, map[string]models.Meeting{"meeting": meeting})
}
