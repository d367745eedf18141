package handlers

import (
	"context"
	"encoding/json"

	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/classloop/collab-api/internal/services"
	"github.com/google/uuid"
)

// SessionServiceInterface defines the methods used by handlers from SessionService
type SessionServiceInterface interface {
	Create(ctx context.Context, entityType string, entityID, creatorID uuid.UUID, maxParticipants int) (*models.Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	ActiveForTarget(ctx context.Context, entityType string, entityID uuid.UUID) (*models.Session, error)
	AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, permission string) (*models.Participant, error)
	RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error
	KickParticipant(ctx context.Context, sessionID, actorID, targetID uuid.UUID) error
	UpdatePermission(ctx context.Context, sessionID, actorID, targetID uuid.UUID, permission string) error
	Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error
	MarkAway(ctx context.Context, sessionID, userID uuid.UUID) error
	Pause(ctx context.Context, sessionID, actorID uuid.UUID) error
	Resume(ctx context.Context, sessionID, actorID uuid.UUID) error
	TakeSnapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error)
	RestoreSnapshot(ctx context.Context, sessionID, actorID uuid.UUID) error
	End(ctx context.Context, sessionID uuid.UUID) error
	Participants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	GetParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error)
}

// OperationServiceInterface defines the methods used by handlers from OperationService
type OperationServiceInterface interface {
	Get(ctx context.Context, operationID uuid.UUID) (*models.EditOperation, error)
	OpsSince(ctx context.Context, sessionID uuid.UUID, fromSequence int64, limit int) ([]models.EditOperation, error)
	Conflicted(ctx context.Context, sessionID uuid.UUID) ([]models.EditOperation, error)
	ResolveConflict(ctx context.Context, operationID, resolverID uuid.UUID, strategy string, resolved *ot.Op) (*models.EditOperation, error)
}

// EngineInterface defines the methods used by handlers from the collab engine
type EngineInterface interface {
	Submit(ctx context.Context, sessionID, userID uuid.UUID, baseSequence int64, payload ot.Op) (*models.EditOperation, error)
	CurrentSequence(sessionID uuid.UUID) (int64, error)
	Snapshot(sessionID uuid.UUID) (json.RawMessage, int64, error)
}

// PresenceServiceInterface defines the methods used by handlers from PresenceService
type PresenceServiceInterface interface {
	UpdateCursor(ctx context.Context, token string, userID uuid.UUID, color string, update services.CursorUpdate) (*models.CursorPosition, error)
	SignalTyping(ctx context.Context, token string, userID uuid.UUID) error
	ActiveCursors(ctx context.Context, token string) ([]models.CursorPosition, error)
	RemoveCursor(ctx context.Context, token string, userID uuid.UUID) error
}

// EventServiceInterface defines the methods used by handlers from EventService
type EventServiceInterface interface {
	Timeline(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.CollaborationEvent, error)
}

// HubInterface defines the methods used by handlers from the broadcast hub
type HubInterface interface {
	Register(client *broadcast.Client)
	Unregister(client *broadcast.Client)
	Subscribe(clientID, sessionToken string)
	Unsubscribe(clientID, sessionToken string)
}
