package services

import (
	"context"
	"testing"
	"time"

	"github.com/classloop/collab-api/internal/collab"
	"github.com/classloop/collab-api/internal/content"
	"github.com/classloop/collab-api/internal/database"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOperationService(t *testing.T) (*OperationService, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	db := &database.DB{Pool: mock}
	events := NewEventService(db, nil, nil)
	return NewOperationService(db, events), mock
}

func operationRow(op *models.EditOperation) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "session_id", "user_id", "sequence_number", "base_sequence",
		"kind", "content_path", "position", "length", "op_text", "data", "status",
		"conflict_detail", "resolution_strategy", "resolved_by", "resolved_at",
		"winner_id", "transformed", "transform_log", "transform_generation",
		"submitted_at", "applied_at",
	}).AddRow(
		op.ID, op.SessionID, op.UserID, op.SequenceNumber, op.BaseSequence,
		op.Kind, op.ContentPath, op.Position, op.Length, op.Text, op.Data, op.Status,
		op.ConflictDetail, op.ResolutionStrategy, op.ResolvedBy, op.ResolvedAt,
		op.WinnerID, op.Transformed, op.TransformLog, op.TransformGeneration,
		op.SubmittedAt, op.AppliedAt,
	)
}

func conflictedOp(sessionID uuid.UUID) *models.EditOperation {
	detail := "cannot transform against operation 4"
	return &models.EditOperation{
		ID:             uuid.New(),
		SessionID:      sessionID,
		UserID:         uuid.New(),
		SequenceNumber: 5,
		BaseSequence:   3,
		Kind:           models.OpKindFormat,
		ContentPath:    "body",
		Position:       2,
		Length:         4,
		Status:         models.OpStatusConflicted,
		ConflictDetail: &detail,
		SubmittedAt:    time.Now(),
	}
}

func TestOperationService_Get_NotFound(t *testing.T) {
	svc, mock := setupOperationService(t)
	opID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(opID).
		WillReturnError(pgx.ErrNoRows)

	_, err := svc.Get(context.Background(), opID)

	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestOperationService_OpsSince(t *testing.T) {
	svc, mock := setupOperationService(t)
	sessionID := uuid.New()

	op := &models.EditOperation{
		ID: uuid.New(), SessionID: sessionID, UserID: uuid.New(),
		SequenceNumber: 7, Kind: models.OpKindInsert, ContentPath: "body",
		Position: 0, Text: "x", Status: models.OpStatusApplied, SubmittedAt: time.Now(),
	}
	mock.ExpectQuery(`SELECT .+ FROM edit_operations`).
		WithArgs(sessionID, int64(5), 50).
		WillReturnRows(operationRow(op))

	ops, err := svc.OpsSince(context.Background(), sessionID, 5, 50)

	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(7), ops[0].SequenceNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationService_ResolveConflict_LastWriterWins(t *testing.T) {
	svc, mock := setupOperationService(t)
	session := testSession(models.SessionStateActive)
	op := conflictedOp(session.ID)
	resolverID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))
	mock.ExpectQuery(`SELECT .+ FROM collab_sessions WHERE id`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT permission FROM session_participants`).
		WithArgs(session.ID, resolverID).
		WillReturnRows(pgxmock.NewRows([]string{"permission"}).AddRow(models.PermissionEdit))

	mock.ExpectExec(`UPDATE edit_operations`).
		WithArgs(op.ID, models.ResolutionLastWriterWins, resolverID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE collab_sessions SET conflict_count`).
		WithArgs(session.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO collaboration_events`).
		WithArgs(session.ID, models.EventConflictResolved, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(eventRow(session.ID, models.EventConflictResolved))

	resolved, err := svc.ResolveConflict(context.Background(), op.ID, resolverID, models.ResolutionLastWriterWins, nil)

	require.NoError(t, err)
	assert.Equal(t, models.OpStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResolutionStrategy)
	assert.Equal(t, models.ResolutionLastWriterWins, *resolved.ResolutionStrategy)
	assert.Equal(t, &resolverID, resolved.ResolvedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationService_ResolveConflict_NotConflicted(t *testing.T) {
	svc, mock := setupOperationService(t)
	op := conflictedOp(uuid.New())
	op.Status = models.OpStatusApplied
	op.ConflictDetail = nil

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))

	_, err := svc.ResolveConflict(context.Background(), op.ID, uuid.New(), models.ResolutionLastWriterWins, nil)

	assert.ErrorIs(t, err, ErrNotConflicted)
}

func TestOperationService_ResolveConflict_AlreadyResolved(t *testing.T) {
	svc, mock := setupOperationService(t)
	op := conflictedOp(uuid.New())
	op.Status = models.OpStatusRejected
	strategy := models.ResolutionLastWriterWins
	op.ResolutionStrategy = &strategy

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))

	_, err := svc.ResolveConflict(context.Background(), op.ID, uuid.New(), models.ResolutionLastWriterWins, nil)

	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestOperationService_ResolveConflict_LostRace(t *testing.T) {
	svc, mock := setupOperationService(t)
	session := testSession(models.SessionStateActive)
	op := conflictedOp(session.ID)
	resolverID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))
	mock.ExpectQuery(`SELECT .+ FROM collab_sessions WHERE id`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT permission FROM session_participants`).
		WithArgs(session.ID, resolverID).
		WillReturnRows(pgxmock.NewRows([]string{"permission"}).AddRow(models.PermissionEdit))

	// Another resolver finished first; the guarded update hits no rows.
	mock.ExpectExec(`UPDATE edit_operations`).
		WithArgs(op.ID, models.ResolutionLastWriterWins, resolverID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := svc.ResolveConflict(context.Background(), op.ID, resolverID, models.ResolutionLastWriterWins, nil)

	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestOperationService_ResolveConflict_ManualRequiresPayload(t *testing.T) {
	svc, mock := setupOperationService(t)
	session := testSession(models.SessionStateActive)
	op := conflictedOp(session.ID)
	resolverID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))
	mock.ExpectQuery(`SELECT .+ FROM collab_sessions WHERE id`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT permission FROM session_participants`).
		WithArgs(session.ID, resolverID).
		WillReturnRows(pgxmock.NewRows([]string{"permission"}).AddRow(models.PermissionAdmin))

	_, err := svc.ResolveConflict(context.Background(), op.ID, resolverID, models.ResolutionManualReview, nil)

	assert.ErrorIs(t, err, ErrMissingResolution)
}

func TestOperationService_ResolveConflict_ManualRequiresAdmin(t *testing.T) {
	svc, mock := setupOperationService(t)
	session := testSession(models.SessionStateActive)
	op := conflictedOp(session.ID)
	resolverID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))
	mock.ExpectQuery(`SELECT .+ FROM collab_sessions WHERE id`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT permission FROM session_participants`).
		WithArgs(session.ID, resolverID).
		WillReturnRows(pgxmock.NewRows([]string{"permission"}).AddRow(models.PermissionEdit))

	_, err := svc.ResolveConflict(context.Background(), op.ID, resolverID, models.ResolutionManualReview, &ot.Op{
		Kind: models.OpKindInsert, Path: "body", Text: "fixed",
	})

	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestOperationService_ResolveConflict_ManualReview(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	db := &database.DB{Pool: mock}
	events := NewEventService(db, nil, nil)
	svc := NewOperationService(db, events)

	registry := content.NewRegistry()
	registry.Register("note", func(entityID uuid.UUID) (content.TargetContent, error) {
		return content.NewTextContent(), nil
	})
	engine := collab.NewEngine(registry, svc, events, svc)
	svc.AttachEngine(engine)

	session := testSession(models.SessionStateActive)
	op := conflictedOp(session.ID)
	resolverID := uuid.New()

	// Engine hydration for the open session.
	mock.ExpectQuery(`SELECT .+ FROM edit_operations`).
		WithArgs(session.ID, int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "user_id", "sequence_number", "base_sequence",
			"kind", "content_path", "position", "length", "op_text", "data", "status",
			"conflict_detail", "resolution_strategy", "resolved_by", "resolved_at",
			"winner_id", "transformed", "transform_log", "transform_generation",
			"submitted_at", "applied_at",
		}))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence_number\), 0\)`).
		WithArgs(session.ID).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(5)))
	require.NoError(t, engine.Open(context.Background(), session))

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))
	mock.ExpectQuery(`SELECT .+ FROM collab_sessions WHERE id`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT permission FROM session_participants`).
		WithArgs(session.ID, resolverID).
		WillReturnRows(pgxmock.NewRows([]string{"permission"}).AddRow(models.PermissionAdmin))

	// The resolved payload goes through the normal submit path.
	mock.ExpectExec(`INSERT INTO edit_operations`).
		WithArgs(pgxmock.AnyArg(), session.ID, op.UserID, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE edit_operations`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE collab_sessions SET edit_count`).
		WithArgs(session.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO collaboration_events`).
		WithArgs(session.ID, models.EventOperationApplied, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(eventRow(session.ID, models.EventOperationApplied))

	// The original conflicted row records the outcome.
	mock.ExpectExec(`UPDATE edit_operations`).
		WithArgs(op.ID, models.ResolutionManualReview, resolverID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE collab_sessions SET conflict_count`).
		WithArgs(session.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO collaboration_events`).
		WithArgs(session.ID, models.EventConflictResolved, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(eventRow(session.ID, models.EventConflictResolved))

	resolved, err := svc.ResolveConflict(context.Background(), op.ID, resolverID, models.ResolutionManualReview, &ot.Op{
		Kind: models.OpKindInsert, Path: "body", Position: 0, Text: "reviewed",
	})

	require.NoError(t, err)
	assert.Equal(t, models.OpStatusApplied, resolved.Status)
	require.NotNil(t, resolved.WinnerID)
	assert.NotEqual(t, op.ID, *resolved.WinnerID)

	// The replacement consumed the next sequence number.
	seq, err := engine.CurrentSequence(session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationService_ResolveConflict_ManualPayloadRejected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	db := &database.DB{Pool: mock}
	events := NewEventService(db, nil, nil)
	svc := NewOperationService(db, events)

	registry := content.NewRegistry()
	registry.Register("note", func(entityID uuid.UUID) (content.TargetContent, error) {
		return content.NewTextContent(), nil
	})
	engine := collab.NewEngine(registry, svc, events, svc)
	svc.AttachEngine(engine)

	session := testSession(models.SessionStateActive)
	op := conflictedOp(session.ID)
	resolverID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM edit_operations`).
		WithArgs(session.ID, int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "user_id", "sequence_number", "base_sequence",
			"kind", "content_path", "position", "length", "op_text", "data", "status",
			"conflict_detail", "resolution_strategy", "resolved_by", "resolved_at",
			"winner_id", "transformed", "transform_log", "transform_generation",
			"submitted_at", "applied_at",
		}))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence_number\), 0\)`).
		WithArgs(session.ID).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(5)))
	require.NoError(t, engine.Open(context.Background(), session))

	mock.ExpectQuery(`SELECT .+ FROM edit_operations WHERE id`).
		WithArgs(op.ID).
		WillReturnRows(operationRow(op))
	mock.ExpectQuery(`SELECT .+ FROM collab_sessions WHERE id`).
		WithArgs(session.ID).
		WillReturnRows(sessionRow(session))
	mock.ExpectQuery(`SELECT permission FROM session_participants`).
		WithArgs(session.ID, resolverID).
		WillReturnRows(pgxmock.NewRows([]string{"permission"}).AddRow(models.PermissionAdmin))

	// The out-of-range payload goes through the submit path and lands
	// rejected: pending row, rejection outcome, rejection event.
	mock.ExpectExec(`INSERT INTO edit_operations`).
		WithArgs(pgxmock.AnyArg(), session.ID, op.UserID, pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE edit_operations`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO collaboration_events`).
		WithArgs(session.ID, models.EventOperationRejected, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(eventRow(session.ID, models.EventOperationRejected))

	// A rejected replacement must not mark the original conflict resolved:
	// no status update, no counter bump, no conflict_resolved event.
	_, err = svc.ResolveConflict(context.Background(), op.ID, resolverID, models.ResolutionManualReview, &ot.Op{
		Kind: models.OpKindInsert, Path: "body", Position: 99, Text: "lost",
	})

	assert.ErrorIs(t, err, ErrResolutionNotApplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationService_CleanupApplied(t *testing.T) {
	svc, mock := setupOperationService(t)

	// The sweep never crosses a session's snapshot sequence: everything
	// after it is still needed to rehydrate on restart.
	mock.ExpectExec(`DELETE FROM edit_operations o USING collab_sessions s .+sequence_number <= s.snapshot_sequence`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := svc.CleanupApplied(context.Background(), 30*24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationService_MaxSequence(t *testing.T) {
	svc, mock := setupOperationService(t)
	sessionID := uuid.New()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(sequence_number\), 0\)`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(9)))

	maxSeq, err := svc.MaxSequence(context.Background(), sessionID)

	require.NoError(t, err)
	assert.Equal(t, int64(9), maxSeq)
}
