package handlers

import (
	"context"
	"strconv"

	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/middleware"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

// StreamHandler serves the session event feed: a persistent SSE stream plus
// the durable timeline for audit views.
type StreamHandler struct {
	hub            HubInterface
	sessionService SessionServiceInterface
	eventService   EventServiceInterface
}

func NewStreamHandler(hub HubInterface, sessionService SessionServiceInterface, eventService EventServiceInterface) *StreamHandler {
	return &StreamHandler{
		hub:            hub,
		sessionService: sessionService,
		eventService:   eventService,
	}
}

// Connect opens the SSE stream and subscribes the client to the session's
// channel. There is no replay; clients catch up through the state endpoint.
func (h *StreamHandler) Connect(c *drift.Context) {
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

	sseCtx := c.SSE()

	clientID := uuid.New().String()
	client := &broadcast.Client{
		ID:       clientID,
		UserID:   userID,
		Sessions: map[string]bool{session.Token: true},
		Send:     make(chan []byte, 256),
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	if err := sseCtx.SendJSON(map[string]string{
		"type":      "connected",
		"client_id": clientID,
	}, "system", ""); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Request.Context().Done()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			if err := sseCtx.Send(string(msg), "message", ""); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Subscribe adds another session's channel to an existing stream client.
func (h *StreamHandler) Subscribe(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	clientID := c.Param("clientId")
	if clientID == "" {
		c.BadRequest("client_id is required")
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

	h.hub.Subscribe(clientID, session.Token)
	_ = c.JSON(200, map[string]string{"message": "subscribed"})
}

func (h *StreamHandler) Unsubscribe(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	clientID := c.Param("clientId")
	if clientID == "" {
		c.BadRequest("client_id is required")
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

	h.hub.Unsubscribe(clientID, session.Token)
	_ = c.JSON(200, map[string]string{"message": "unsubscribed"})
}

// Timeline returns the persisted event history, newest first.
func (h *StreamHandler) Timeline(c *drift.Context) {
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

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	events, err := h.eventService.Timeline(context.Background(), sessionID, limit)
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, events)
}
