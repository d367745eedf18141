package handlers

import (
	"context"

	"github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/services"
	"github.com/classloop/collab-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type PresenceHandler struct {
	presenceService PresenceServiceInterface
	sessionService  SessionServiceInterface
}

func NewPresenceHandler(presenceService PresenceServiceInterface, sessionService SessionServiceInterface) *PresenceHandler {
	return &PresenceHandler{
		presenceService: presenceService,
		sessionService:  sessionService,
	}
}

// UpdateCursor overwrites the caller's cursor. Any participant may move a
// cursor, view-only included.
func (h *PresenceHandler) UpdateCursor(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.BadRequest("invalid session id")
		return
	}

	var req dto.CursorUpdateRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	ctx := context.Background()

	session, err := h.sessionService.GetByID(ctx, sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}
	participant, err := h.sessionService.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	cursor, err := h.presenceService.UpdateCursor(ctx, session.Token, userID, participant.Color, services.CursorUpdate{
		ContentPath:    req.ContentPath,
		Position:       req.Position,
		SelectionStart: req.SelectionStart,
		SelectionEnd:   req.SelectionEnd,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, cursor)
}

func (h *PresenceHandler) Typing(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.BadRequest("invalid session id")
		return
	}

	ctx := context.Background()

	session, err := h.sessionService.GetByID(ctx, sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if _, err := h.sessionService.GetParticipant(ctx, sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	if err := h.presenceService.SignalTyping(ctx, session.Token, userID); err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, map[string]string{"message": "ok"})
}

func (h *PresenceHandler) Cursors(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.BadRequest("invalid session id")
		return
	}

	ctx := context.Background()

	session, err := h.sessionService.GetByID(ctx, sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}

	cursors, err := h.presenceService.ActiveCursors(ctx, session.Token)
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, cursors)
}
