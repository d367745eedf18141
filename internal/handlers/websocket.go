package handlers

import (
	"context"
	"encoding/json"
	"log"

	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/services"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
	"github.com/m1z23r/drift/pkg/websocket"
)

// WebSocketHandler is the bidirectional alternative to the SSE stream:
// broadcasts flow out, presence updates flow in. Edits still go through the
// HTTP submit endpoint so every operation passes the same pipeline.
type WebSocketHandler struct {
	hub             HubInterface
	sessionService  SessionServiceInterface
	presenceService PresenceServiceInterface
}

func NewWebSocketHandler(hub HubInterface, sessionService SessionServiceInterface, presenceService PresenceServiceInterface) *WebSocketHandler {
	return &WebSocketHandler{
		hub:             hub,
		sessionService:  sessionService,
		presenceService: presenceService,
	}
}

type wsInbound struct {
	Type           string `json:"type"`
	ContentPath    string `json:"content_path"`
	Position       int    `json:"position"`
	SelectionStart *int   `json:"selection_start,omitempty"`
	SelectionEnd   *int   `json:"selection_end,omitempty"`
}

func (h *WebSocketHandler) Connect(c *drift.Context) {
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
	participant, err := h.sessionService.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	conn, err := websocket.Upgrade(c)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(websocket.CloseNormalClosure, ""); err != nil {
			log.Printf("WebSocket close error: %v", err)
		}
	}()

	clientID := uuid.New().String()
	client := &broadcast.Client{
		ID:       clientID,
		UserID:   userID,
		Sessions: map[string]bool{session.Token: true},
		Send:     make(chan []byte, 256),
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client)
	defer func() { _ = h.presenceService.RemoveCursor(context.Background(), session.Token, userID) }()

	if err := conn.WriteJSON(map[string]string{
		"type":      "connected",
		"client_id": clientID,
	}); err != nil {
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range client.Send {
			if err := conn.WriteText(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}

		switch in.Type {
		case "cursor":
			_, err := h.presenceService.UpdateCursor(ctx, session.Token, userID, participant.Color, services.CursorUpdate{
				ContentPath:    in.ContentPath,
				Position:       in.Position,
				SelectionStart: in.SelectionStart,
				SelectionEnd:   in.SelectionEnd,
			})
			if err != nil {
				log.Printf("cursor update failed for user %s: %v", userID, err)
			}
		case "typing":
			if err := h.presenceService.SignalTyping(ctx, session.Token, userID); err != nil {
				log.Printf("typing signal failed for user %s: %v", userID, err)
			}
		case "heartbeat":
			if err := h.sessionService.Heartbeat(ctx, sessionID, userID); err != nil {
				log.Printf("heartbeat failed for user %s: %v", userID, err)
			}
		}

		select {
		case <-writeDone:
			return
		default:
		}
	}
}
