package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/classloop/collab-api/internal/collab"
	"github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/classloop/collab-api/internal/services"
	"github.com/classloop/collab-api/pkg/dto"
	"github.com/classloop/collab-api/tests/testutil"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
	driftmw "github.com/m1z23r/drift/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupOperationTest(t *testing.T) (*testutil.MockOperationService, *testutil.MockSessionService, *testutil.MockEngine, *OperationHandler, *services.JWTService) {
	t.Helper()
	mockOperationService := new(testutil.MockOperationService)
	mockSessionService := new(testutil.MockSessionService)
	mockEngine := new(testutil.MockEngine)
	handler := NewOperationHandler(mockOperationService, mockSessionService, mockEngine)
	return mockOperationService, mockSessionService, mockEngine, handler, newTestJWTService()
}

func editParticipant(sessionID, userID uuid.UUID, permission string) *models.Participant {
	return &models.Participant{
		ID:         uuid.New(),
		SessionID:  sessionID,
		UserID:     userID,
		Permission: permission,
		Status:     models.ParticipantActive,
	}
}

func appliedOp(sessionID, userID uuid.UUID, seq int64) *models.EditOperation {
	now := time.Now().UTC()
	return &models.EditOperation{
		ID:             uuid.New(),
		SessionID:      sessionID,
		UserID:         userID,
		SequenceNumber: seq,
		BaseSequence:   seq - 1,
		Kind:           models.OpKindInsert,
		ContentPath:    "body",
		Position:       4,
		Text:           "hi",
		Status:         models.OpStatusApplied,
		SubmittedAt:    now,
		AppliedAt:      &now,
	}
}

func TestOperationHandler_Submit_Applied(t *testing.T) {
	_, mockSessionService, mockEngine, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)
	op := appliedOp(session.ID, userID, 7)

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockSessionService.On("GetParticipant", mock.Anything, session.ID, userID).
		Return(editParticipant(session.ID, userID, models.PermissionEdit), nil)
	mockEngine.On("Submit", mock.Anything, session.ID, userID, int64(6),
		ot.Op{Kind: models.OpKindInsert, Path: "body", Position: 4, Text: "hi"}).
		Return(op, nil)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/sessions/:sessionId/operations", handler.Submit)

	body := dto.SubmitOperationRequest{
		BaseSequence: 6,
		Kind:         models.OpKindInsert,
		ContentPath:  "body",
		Position:     4,
		Text:         "hi",
	}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/sessions/"+session.ID.String()+"/operations", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var response dto.OperationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, int64(7), response.SequenceNumber)
	assert.Equal(t, models.OpStatusApplied, response.Status)

	mockSessionService.AssertExpectations(t)
	mockEngine.AssertExpectations(t)
}

func TestOperationHandler_Submit_Conflicted(t *testing.T) {
	_, mockSessionService, mockEngine, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)
	op := appliedOp(session.ID, userID, 8)
	op.Status = models.OpStatusConflicted
	op.Kind = models.OpKindFormat
	detail := "format target range was deleted"
	op.ConflictDetail = &detail

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockSessionService.On("GetParticipant", mock.Anything, session.ID, userID).
		Return(editParticipant(session.ID, userID, models.PermissionEdit), nil)
	mockEngine.On("Submit", mock.Anything, session.ID, userID, int64(7), mock.Anything).Return(op, nil)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/sessions/:sessionId/operations", handler.Submit)

	body := dto.SubmitOperationRequest{
		BaseSequence: 7,
		Kind:         models.OpKindFormat,
		ContentPath:  "body",
		Position:     0,
		Length:       5,
	}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/sessions/"+session.ID.String()+"/operations", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var response dto.OperationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, models.OpStatusConflicted, response.Status)
	require.NotNil(t, response.ConflictDetail)

	mockEngine.AssertExpectations(t)
}

func TestOperationHandler_Submit_PausedSession(t *testing.T) {
	_, mockSessionService, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)
	session.State = models.SessionStatePaused

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/sessions/:sessionId/operations", handler.Submit)

	body := dto.SubmitOperationRequest{BaseSequence: 1, Kind: models.OpKindInsert, ContentPath: "body", Text: "x"}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/sessions/"+session.ID.String()+"/operations", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not accept operations")
	mockSessionService.AssertExpectations(t)
}

func TestOperationHandler_Submit_ViewOnlyForbidden(t *testing.T) {
	_, mockSessionService, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockSessionService.On("GetParticipant", mock.Anything, session.ID, userID).
		Return(editParticipant(session.ID, userID, models.PermissionViewOnly), nil)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/sessions/:sessionId/operations", handler.Submit)

	body := dto.SubmitOperationRequest{BaseSequence: 1, Kind: models.OpKindInsert, ContentPath: "body", Text: "x"}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/sessions/"+session.ID.String()+"/operations", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	mockSessionService.AssertExpectations(t)
}

func TestOperationHandler_Submit_UnknownKind(t *testing.T) {
	_, _, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	sessionID := uuid.New()

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/sessions/:sessionId/operations", handler.Submit)

	body := dto.SubmitOperationRequest{BaseSequence: 1, Kind: "scribble", ContentPath: "body"}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/sessions/"+sessionID.String()+"/operations", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOperationHandler_Submit_StaleBase(t *testing.T) {
	_, mockSessionService, mockEngine, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	session := activeSession("note", uuid.New(), userID)

	mockSessionService.On("GetByID", mock.Anything, session.ID).Return(session, nil)
	mockSessionService.On("GetParticipant", mock.Anything, session.ID, userID).
		Return(editParticipant(session.ID, userID, models.PermissionEdit), nil)
	mockEngine.On("Submit", mock.Anything, session.ID, userID, int64(1), mock.Anything).
		Return(nil, collab.ErrStaleBase)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/sessions/:sessionId/operations", handler.Submit)

	body := dto.SubmitOperationRequest{BaseSequence: 1, Kind: models.OpKindInsert, ContentPath: "body", Text: "x"}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/sessions/"+session.ID.String()+"/operations", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "fresh snapshot")
	mockEngine.AssertExpectations(t)
}

func TestOperationHandler_List_Success(t *testing.T) {
	mockOperationService, _, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	sessionID := uuid.New()
	ops := []models.EditOperation{*appliedOp(sessionID, userID, 3), *appliedOp(sessionID, userID, 4)}

	mockOperationService.On("OpsSince", mock.Anything, sessionID, int64(2), 50).Return(ops, nil)

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Get("/sessions/:sessionId/operations", handler.List)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodGet,
		"/sessions/"+sessionID.String()+"/operations?since=2&limit=50", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response []dto.OperationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response, 2)
	assert.Equal(t, int64(3), response[0].SequenceNumber)
	mockOperationService.AssertExpectations(t)
}

func TestOperationHandler_Resolve_LastWriterWins(t *testing.T) {
	mockOperationService, _, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	sessionID := uuid.New()
	op := appliedOp(sessionID, userID, 5)
	op.Status = models.OpStatusRejected
	strategy := models.ResolutionLastWriterWins
	op.ResolutionStrategy = &strategy
	op.ResolvedBy = &userID

	mockOperationService.On("ResolveConflict", mock.Anything, op.ID, userID,
		models.ResolutionLastWriterWins, (*ot.Op)(nil)).Return(op, nil)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/operations/:operationId/resolve", handler.Resolve)

	body := dto.ResolveConflictRequest{Strategy: models.ResolutionLastWriterWins}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/operations/"+op.ID.String()+"/resolve", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response dto.OperationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, models.OpStatusRejected, response.Status)
	require.NotNil(t, response.ResolutionStrategy)
	assert.Equal(t, models.ResolutionLastWriterWins, *response.ResolutionStrategy)
	mockOperationService.AssertExpectations(t)
}

func TestOperationHandler_Resolve_ManualReview_PassesPayload(t *testing.T) {
	mockOperationService, _, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	sessionID := uuid.New()
	op := appliedOp(sessionID, userID, 9)

	expected := &ot.Op{Kind: models.OpKindInsert, Path: "body", Position: 2, Text: "merged"}
	mockOperationService.On("ResolveConflict", mock.Anything, op.ID, userID,
		models.ResolutionManualReview, expected).Return(op, nil)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/operations/:operationId/resolve", handler.Resolve)

	body := dto.ResolveConflictRequest{
		Strategy: models.ResolutionManualReview,
		Resolved: &dto.ResolvedOperation{
			Kind:        models.OpKindInsert,
			ContentPath: "body",
			Position:    2,
			Text:        "merged",
		},
	}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/operations/"+op.ID.String()+"/resolve", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	mockOperationService.AssertExpectations(t)
}

func TestOperationHandler_Resolve_AlreadyResolved(t *testing.T) {
	mockOperationService, _, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	operationID := uuid.New()

	mockOperationService.On("ResolveConflict", mock.Anything, operationID, userID,
		models.ResolutionLastWriterWins, (*ot.Op)(nil)).Return(nil, services.ErrAlreadyResolved)

	app := drift.New()
	app.Use(driftmw.BodyParser())
	app.Use(middleware.Auth(jwtSvc))
	app.Post("/operations/:operationId/resolve", handler.Resolve)

	body := dto.ResolveConflictRequest{Strategy: models.ResolutionLastWriterWins}
	jsonBody, _ := json.Marshal(body)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodPost,
		"/operations/"+operationID.String()+"/resolve", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already been resolved")
	mockOperationService.AssertExpectations(t)
}

func TestOperationHandler_State_Success(t *testing.T) {
	_, mockSessionService, mockEngine, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	sessionID := uuid.New()

	mockSessionService.On("GetParticipant", mock.Anything, sessionID, userID).
		Return(editParticipant(sessionID, userID, models.PermissionViewOnly), nil)
	mockEngine.On("Snapshot", sessionID).
		Return(json.RawMessage(`{"bodies":{"body":"hello"}}`), int64(12), nil)

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Get("/sessions/:sessionId/state", handler.State)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID.String()+"/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, float64(12), response["sequence_number"])
	assert.Contains(t, response, "content")

	mockSessionService.AssertExpectations(t)
	mockEngine.AssertExpectations(t)
}

func TestOperationHandler_State_NotParticipant(t *testing.T) {
	_, mockSessionService, _, handler, jwtSvc := setupOperationTest(t)

	userID := uuid.New()
	sessionID := uuid.New()

	mockSessionService.On("GetParticipant", mock.Anything, sessionID, userID).
		Return(nil, services.ErrParticipantNotFound)

	app := drift.New()
	app.Use(middleware.Auth(jwtSvc))
	app.Get("/sessions/:sessionId/state", handler.State)

	token := generateTestToken(t, jwtSvc, userID, "test@example.com")
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID.String()+"/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	mockSessionService.AssertExpectations(t)
}
