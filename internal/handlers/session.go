package handlers

import (
	"context"

	"github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type SessionHandler struct {
	sessionService SessionServiceInterface
}

func NewSessionHandler(sessionService SessionServiceInterface) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (h *SessionHandler) Create(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	var req dto.CreateSessionRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	if req.EntityType == "" {
		c.BadRequest("entity_type is required")
		return
	}
	if req.EntityID == uuid.Nil {
		c.BadRequest("entity_id is required")
		return
	}
	// A zero max_participants falls through to the service's configured
	// default.
	session, err := h.sessionService.Create(context.Background(), req.EntityType, req.EntityID, userID, req.MaxParticipants)
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(201, sessionResponse(session))
}

func (h *SessionHandler) Get(c *drift.Context) {
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

	session, err := h.sessionService.GetByID(context.Background(), sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, sessionResponse(session))
}

// ActiveForTarget looks up the single active session for an entity, if any.
func (h *SessionHandler) ActiveForTarget(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	entityType := c.QueryParam("entity_type")
	if entityType == "" {
		c.BadRequest("entity_type is required")
		return
	}
	entityID, err := uuid.Parse(c.QueryParam("entity_id"))
	if err != nil {
		c.BadRequest("invalid entity_id")
		return
	}

	session, err := h.sessionService.ActiveForTarget(context.Background(), entityType, entityID)
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, sessionResponse(session))
}

func (h *SessionHandler) Join(c *drift.Context) {
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

	var req dto.AddParticipantRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		req.UserID = userID
	}
	if req.Permission == "" {
		req.Permission = models.PermissionEdit
	}

	participant, err := h.sessionService.AddParticipant(context.Background(), sessionID, req.UserID, req.Permission)
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(201, participantResponse(participant))
}

func (h *SessionHandler) Leave(c *drift.Context) {
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

	if err := h.sessionService.RemoveParticipant(context.Background(), sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "left session"})
}

func (h *SessionHandler) Kick(c *drift.Context) {
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
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.BadRequest("invalid user id")
		return
	}

	if err := h.sessionService.KickParticipant(context.Background(), sessionID, userID, targetID); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "participant removed"})
}

func (h *SessionHandler) UpdatePermission(c *drift.Context) {
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
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.BadRequest("invalid user id")
		return
	}

	var req dto.UpdatePermissionRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	if err := h.sessionService.UpdatePermission(context.Background(), sessionID, userID, targetID, req.Permission); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "permission updated"})
}

func (h *SessionHandler) Participants(c *drift.Context) {
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

	participants, err := h.sessionService.Participants(context.Background(), sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}

	response := make([]dto.ParticipantResponse, len(participants))
	for i := range participants {
		response[i] = participantResponse(&participants[i])
	}
	_ = c.JSON(200, response)
}

func (h *SessionHandler) Heartbeat(c *drift.Context) {
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

	if err := h.sessionService.Heartbeat(context.Background(), sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "ok"})
}

func (h *SessionHandler) Away(c *drift.Context) {
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

	if err := h.sessionService.MarkAway(context.Background(), sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "ok"})
}

func (h *SessionHandler) Pause(c *drift.Context) {
	h.transition(c, h.sessionService.Pause)
}

func (h *SessionHandler) Resume(c *drift.Context) {
	h.transition(c, h.sessionService.Resume)
}

func (h *SessionHandler) transition(c *drift.Context, fn func(ctx context.Context, sessionID, actorID uuid.UUID) error) {
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

	if err := fn(context.Background(), sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	session, err := h.sessionService.GetByID(context.Background(), sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, sessionResponse(session))
}

func (h *SessionHandler) TakeSnapshot(c *drift.Context) {
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

	if _, err := h.sessionService.GetParticipant(context.Background(), sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	snapshot, err := h.sessionService.TakeSnapshot(context.Background(), sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(201, snapshot)
}

func (h *SessionHandler) RestoreSnapshot(c *drift.Context) {
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

	if err := h.sessionService.RestoreSnapshot(context.Background(), sessionID, userID); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "snapshot restored"})
}

// End tears the session down. Admin only; idempotent for an already ended
// session.
func (h *SessionHandler) End(c *drift.Context) {
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

	participant, err := h.sessionService.GetParticipant(context.Background(), sessionID, userID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if !models.PermissionAtLeast(participant.Permission, models.PermissionAdmin) {
		c.Forbidden("insufficient permission")
		return
	}

	if err := h.sessionService.End(context.Background(), sessionID); err != nil {
		serviceError(c, err)
		return
	}

	_ = c.JSON(200, map[string]string{"message": "session ended"})
}

func sessionResponse(s *models.Session) dto.SessionResponse {
	return dto.SessionResponse{
		ID:               s.ID,
		Token:            s.Token,
		EntityType:       s.EntityType,
		EntityID:         s.EntityID,
		State:            s.State,
		MaxParticipants:  s.MaxParticipants,
		EditCount:        s.EditCount,
		ConflictCount:    s.ConflictCount,
		SnapshotSequence: s.SnapshotSequence,
		CreatedBy:        s.CreatedBy,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		EndedAt:          s.EndedAt,
	}
}

func participantResponse(p *models.Participant) dto.ParticipantResponse {
	return dto.ParticipantResponse{
		ID:         p.ID,
		SessionID:  p.SessionID,
		UserID:     p.UserID,
		Permission: p.Permission,
		Status:     p.Status,
		Color:      p.Color,
		JoinedAt:   p.JoinedAt,
		LastSeenAt: p.LastSeenAt,
		LeftAt:     p.LeftAt,
	}
}
