package handlers

import (
	"context"
	"strconv"

	"github.com/classloop/collab-api/internal/middleware"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/classloop/collab-api/pkg/dto"
	"github.com/google/uuid"
	"github.com/m1z23r/drift/pkg/drift"
)

type OperationHandler struct {
	operationService OperationServiceInterface
	sessionService   SessionServiceInterface
	engine           EngineInterface
}

func NewOperationHandler(operationService OperationServiceInterface, sessionService SessionServiceInterface, engine EngineInterface) *OperationHandler {
	return &OperationHandler{
		operationService: operationService,
		sessionService:   sessionService,
		engine:           engine,
	}
}

// Submit runs an edit operation through the transform pipeline. The response
// status follows the outcome: 201 applied, 409 conflicted or rejected.
func (h *OperationHandler) Submit(c *drift.Context) {
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

	var req dto.SubmitOperationRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}
	if !models.ValidOpKind(req.Kind) {
		c.BadRequest("unknown operation kind")
		return
	}
	if req.ContentPath == "" {
		c.BadRequest("content_path is required")
		return
	}

	ctx := context.Background()

	session, err := h.sessionService.GetByID(ctx, sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if !session.AcceptsOperations() {
		_ = c.JSON(409, map[string]string{"error": "session does not accept operations in its current state"})
		return
	}

	participant, err := h.sessionService.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if !models.PermissionAtLeast(participant.Permission, models.PermissionEdit) {
		c.Forbidden("edit permission required")
		return
	}

	op, err := h.engine.Submit(ctx, sessionID, userID, req.BaseSequence, ot.Op{
		Kind:     req.Kind,
		Path:     req.ContentPath,
		Position: req.Position,
		Length:   req.Length,
		Text:     req.Text,
		Attrs:    req.Attrs,
	})
	if err != nil {
		serviceError(c, err)
		return
	}

	code := 201
	if op.Status != models.OpStatusApplied {
		code = 409
	}
	_ = c.JSON(code, operationResponse(op))
}

func (h *OperationHandler) Get(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	operationID, err := uuid.Parse(c.Param("operationId"))
	if err != nil {
		c.BadRequest("invalid operation id")
		return
	}

	op, err := h.operationService.Get(context.Background(), operationID)
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, operationResponse(op))
}

// List returns applied operations after the client's sequence number, the
// catch-up path for reconnecting clients.
func (h *OperationHandler) List(c *drift.Context) {
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

	since, _ := strconv.ParseInt(c.QueryParam("since"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ops, err := h.operationService.OpsSince(context.Background(), sessionID, since, limit)
	if err != nil {
		serviceError(c, err)
		return
	}

	response := make([]dto.OperationResponse, len(ops))
	for i := range ops {
		response[i] = operationResponse(&ops[i])
	}
	_ = c.JSON(200, response)
}

func (h *OperationHandler) Conflicts(c *drift.Context) {
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

	ops, err := h.operationService.Conflicted(context.Background(), sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}

	response := make([]dto.OperationResponse, len(ops))
	for i := range ops {
		response[i] = operationResponse(&ops[i])
	}
	_ = c.JSON(200, response)
}

func (h *OperationHandler) Resolve(c *drift.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		c.Unauthorized("not authenticated")
		return
	}

	operationID, err := uuid.Parse(c.Param("operationId"))
	if err != nil {
		c.BadRequest("invalid operation id")
		return
	}

	var req dto.ResolveConflictRequest
	if err := c.BindJSON(&req); err != nil {
		c.BadRequest("invalid request body")
		return
	}

	var resolved *ot.Op
	if req.Resolved != nil {
		resolved = &ot.Op{
			Kind:     req.Resolved.Kind,
			Path:     req.Resolved.ContentPath,
			Position: req.Resolved.Position,
			Length:   req.Resolved.Length,
			Text:     req.Resolved.Text,
			Attrs:    req.Resolved.Attrs,
		}
	}

	op, err := h.operationService.ResolveConflict(context.Background(), operationID, userID, req.Strategy, resolved)
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, operationResponse(op))
}

// State returns the live content and the sequence number it reflects.
// Reconnecting clients take this instead of replaying the full history.
func (h *OperationHandler) State(c *drift.Context) {
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

	content, seq, err := h.engine.Snapshot(sessionID)
	if err != nil {
		serviceError(c, err)
		return
	}
	_ = c.JSON(200, map[string]any{
		"content":         content,
		"sequence_number": seq,
	})
}

func operationResponse(op *models.EditOperation) dto.OperationResponse {
	return dto.OperationResponse{
		ID:                  op.ID,
		SessionID:           op.SessionID,
		UserID:              op.UserID,
		SequenceNumber:      op.SequenceNumber,
		BaseSequence:        op.BaseSequence,
		Kind:                op.Kind,
		ContentPath:         op.ContentPath,
		Position:            op.Position,
		Length:              op.Length,
		Text:                op.Text,
		Data:                op.Data,
		Status:              op.Status,
		ConflictDetail:      op.ConflictDetail,
		ResolutionStrategy:  op.ResolutionStrategy,
		ResolvedBy:          op.ResolvedBy,
		ResolvedAt:          op.ResolvedAt,
		WinnerID:            op.WinnerID,
		Transformed:         op.Transformed,
		TransformLog:        op.TransformLog,
		TransformGeneration: op.TransformGeneration,
		SubmittedAt:         op.SubmittedAt,
		AppliedAt:           op.AppliedAt,
	}
}
