package testutil

import (
	"context"
	"encoding/json"

	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/classloop/collab-api/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSessionService mocks the SessionService
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, entityType string, entityID, creatorID uuid.UUID, maxParticipants int) (*models.Session, error) {
	args := m.Called(ctx, entityType, entityID, creatorID, maxParticipants)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionService) GetByID(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionService) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionService) ActiveForTarget(ctx context.Context, entityType string, entityID uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, entityType, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionService) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, permission string) (*models.Participant, error) {
	args := m.Called(ctx, sessionID, userID, permission)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockSessionService) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *MockSessionService) KickParticipant(ctx context.Context, sessionID, actorID, targetID uuid.UUID) error {
	args := m.Called(ctx, sessionID, actorID, targetID)
	return args.Error(0)
}

func (m *MockSessionService) UpdatePermission(ctx context.Context, sessionID, actorID, targetID uuid.UUID, permission string) error {
	args := m.Called(ctx, sessionID, actorID, targetID, permission)
	return args.Error(0)
}

func (m *MockSessionService) Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *MockSessionService) MarkAway(ctx context.Context, sessionID, userID uuid.UUID) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *MockSessionService) Pause(ctx context.Context, sessionID, actorID uuid.UUID) error {
	args := m.Called(ctx, sessionID, actorID)
	return args.Error(0)
}

func (m *MockSessionService) Resume(ctx context.Context, sessionID, actorID uuid.UUID) error {
	args := m.Called(ctx, sessionID, actorID)
	return args.Error(0)
}

func (m *MockSessionService) TakeSnapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionSnapshot), args.Error(1)
}

func (m *MockSessionService) RestoreSnapshot(ctx context.Context, sessionID, actorID uuid.UUID) error {
	args := m.Called(ctx, sessionID, actorID)
	return args.Error(0)
}

func (m *MockSessionService) End(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockSessionService) Participants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *MockSessionService) GetParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	args := m.Called(ctx, sessionID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

// MockOperationService mocks the OperationService
type MockOperationService struct {
	mock.Mock
}

func (m *MockOperationService) Get(ctx context.Context, operationID uuid.UUID) (*models.EditOperation, error) {
	args := m.Called(ctx, operationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditOperation), args.Error(1)
}

func (m *MockOperationService) OpsSince(ctx context.Context, sessionID uuid.UUID, fromSequence int64, limit int) ([]models.EditOperation, error) {
	args := m.Called(ctx, sessionID, fromSequence, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EditOperation), args.Error(1)
}

func (m *MockOperationService) Conflicted(ctx context.Context, sessionID uuid.UUID) ([]models.EditOperation, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EditOperation), args.Error(1)
}

func (m *MockOperationService) ResolveConflict(ctx context.Context, operationID, resolverID uuid.UUID, strategy string, resolved *ot.Op) (*models.EditOperation, error) {
	args := m.Called(ctx, operationID, resolverID, strategy, resolved)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditOperation), args.Error(1)
}

// MockEngine mocks the collaboration engine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Submit(ctx context.Context, sessionID, userID uuid.UUID, baseSequence int64, payload ot.Op) (*models.EditOperation, error) {
	args := m.Called(ctx, sessionID, userID, baseSequence, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditOperation), args.Error(1)
}

func (m *MockEngine) CurrentSequence(sessionID uuid.UUID) (int64, error) {
	args := m.Called(sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEngine) Snapshot(sessionID uuid.UUID) (json.RawMessage, int64, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).(json.RawMessage), args.Get(1).(int64), args.Error(2)
}

// MockPresenceService mocks the PresenceService
type MockPresenceService struct {
	mock.Mock
}

func (m *MockPresenceService) UpdateCursor(ctx context.Context, token string, userID uuid.UUID, color string, update services.CursorUpdate) (*models.CursorPosition, error) {
	args := m.Called(ctx, token, userID, color, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CursorPosition), args.Error(1)
}

func (m *MockPresenceService) SignalTyping(ctx context.Context, token string, userID uuid.UUID) error {
	args := m.Called(ctx, token, userID)
	return args.Error(0)
}

func (m *MockPresenceService) ActiveCursors(ctx context.Context, token string) ([]models.CursorPosition, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CursorPosition), args.Error(1)
}

func (m *MockPresenceService) RemoveCursor(ctx context.Context, token string, userID uuid.UUID) error {
	args := m.Called(ctx, token, userID)
	return args.Error(0)
}

// MockEventService mocks the EventService
type MockEventService struct {
	mock.Mock
}

func (m *MockEventService) Timeline(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.CollaborationEvent, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CollaborationEvent), args.Error(1)
}

// MockHub mocks the broadcast hub
type MockHub struct {
	mock.Mock
}

func (m *MockHub) Register(client *broadcast.Client) {
	m.Called(client)
}

func (m *MockHub) Unregister(client *broadcast.Client) {
	m.Called(client)
}

func (m *MockHub) Subscribe(clientID, sessionToken string) {
	m.Called(clientID, sessionToken)
}

func (m *MockHub) Unsubscribe(clientID, sessionToken string) {
	m.Called(clientID, sessionToken)
}
