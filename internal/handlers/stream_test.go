package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/services"
	"github.com/classloop/collab-api/tests/testutil"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupStreamTest(t *testing.T) (*testutil.MockHub, *testutil.MockSessionService, *testutil.MockEventService, *StreamHandler, *services.JWTService) {
	t.Helper()
	mockHub := new(testutil.MockHub)
	mockSessionService := new(testutil.MockSessionService)
	mockEventService := new(testutil.MockEventService)
	handler := NewStreamHandler(mockHub, mockSessionService, mockEventService)
	return mockHub, mockSessionService, mockEventService, handler, newTestJWTService()
}

func TestStreamHandler_Subscribe_Success(t *testing.T) {
	mockHub, mockSessionService, _, handler, jwtSvc := setupStreamTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)
	clientID := uuid.New().String()

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockSessionService.On("GetParticipant", mock.Anything, session.ID, userID).
		Return(editParticipant(session.ID, userID, models.PermissionEdit), nil)
	mockHub.On("Subscribe", clientID, session.Token).Return()

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/stream/:clientId/subscribe/:sessionId", handler.Subscribe)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/stream/"+clientID+"/subscribe/"+session.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockHub.AssertExpectations(t)
	mockSessionService.AssertExpectations(t)
}

func TestStreamHandler_Subscribe_NotParticipant(t *testing.T) {
	_, mockSessionService, _, handler, jwtSvc := setupStreamTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), uuid.New())
	clientID := uuid.New().String()

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockSessionService.On("GetParticipant", mock.Anything, session.ID, userID).
		Return(nil, services.ErrParticipantNotFound)

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/stream/:clientId/subscribe/:sessionId", handler.Subscribe)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/stream/"+clientID+"/subscribe/"+session.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	mockSessionService.AssertExpectations(t)
}

func TestStreamHandler_Unsubscribe_Success(t *testing.T) {
	mockHub, mockSessionService, _, handler, jwtSvc := setupStreamTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)
	clientID := uuid.New().String()

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockHub.On("Unsubscribe", clientID, session.Token).Return()

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/stream/:clientId/unsubscribe/:sessionId", handler.Unsubscribe)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/stream/"+clientID+"/unsubscribe/"+session.ID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockHub.AssertExpectations(t)
}

func TestStreamHandler_Timeline_Success(t *testing.T) {
	_, mockSessionService, mockEventService, handler, jwtSvc := setupStreamTest(t)
	_ = mockSessionService

	userID := uuid.New()
	sessionID := uuid.New()
	actorID := uuid.New()
	events := []models.CollaborationEvent{
		{ID: uuid.New(), SessionID: sessionID, EventType: models.EventOperationApplied, ActorID: &actorID, CreatedAt: time.Now().UTC()},
		{ID: uuid.New(), SessionID: sessionID, EventType: models.EventParticipantJoined, ActorID: &actorID, CreatedAt: time.Now().UTC()},
	}

	mockEventService.On("Timeline", mock.Anything, sessionID, 20).Return(events, nil)

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Get("/sessions/:sessionId/events", handler.Timeline)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodGet,
		"/sessions/"+sessionID.String()+"/events?limit=20", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response []models.CollaborationEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response, 2)
	assert.Equal(t, models.EventOperationApplied, response[0].EventType)
	mockEventService.AssertExpectations(t)
}

func TestStreamHandler_Timeline_Unauthorized(t *testing.T) {
	_, _, _, handler, jwtSvc := setupStreamTest(t)

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Get("/sessions/:sessionId/events", handler.Timeline)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.New().String()+"/events", nil)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
