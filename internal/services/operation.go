package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/classloop/collab-api/internal/collab"
	"github.com/classloop/collab-api/internal/database"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/google/uuid"
)

var (
	ErrOperationNotFound    = errors.New("operation not found")
	ErrNotConflicted        = errors.New("operation is not in conflicted state")
	ErrAlreadyResolved      = errors.New("conflict has already been resolved")
	ErrInvalidStrategy      = errors.New("unknown resolution strategy")
	ErrMissingResolution    = errors.New("manual review requires a resolved payload")
	ErrResolutionNotApplied = errors.New("resolved payload could not be applied")
)

const operationColumns = `id, session_id, user_id, sequence_number, base_sequence,
	kind, content_path, position, length, op_text, data, status, conflict_detail,
	resolution_strategy, resolved_by, resolved_at, winner_id,
	transformed, transform_log, transform_generation, submitted_at, applied_at`

// OperationService persists edit operations and applies conflict resolution
// strategies. It backs the engine's OperationStore and Counters seams; the
// engine itself is attached after construction because it persists through
// this same service.
type OperationService struct {
	db     *database.DB
	engine *collab.Engine
	events *EventService
}

func NewOperationService(db *database.DB, events *EventService) *OperationService {
	return &OperationService{db: db, events: events}
}

func (s *OperationService) AttachEngine(engine *collab.Engine) {
	s.engine = engine
}

// InsertPending implements collab.OperationStore. The row is written before
// transformation so an assigned sequence number is never lost.
func (s *OperationService) InsertPending(ctx context.Context, op *models.EditOperation) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO edit_operations
			(id, session_id, user_id, sequence_number, base_sequence, kind,
			 content_path, position, length, op_text, data, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, op.ID, op.SessionID, op.UserID, op.SequenceNumber, op.BaseSequence, op.Kind,
		op.ContentPath, op.Position, op.Length, op.Text, op.Data, op.Status, op.SubmittedAt)
	return err
}

// FinishOperation implements collab.OperationStore: records the outcome and
// the (possibly rewritten) payload.
func (s *OperationService) FinishOperation(ctx context.Context, op *models.EditOperation) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE edit_operations
		SET status = $2, position = $3, length = $4, op_text = $5,
		    conflict_detail = $6, winner_id = $7,
		    transformed = $8, transform_log = $9, transform_generation = $10,
		    applied_at = $11
		WHERE id = $1
	`, op.ID, op.Status, op.Position, op.Length, op.Text,
		op.ConflictDetail, op.WinnerID,
		op.Transformed, op.TransformLog, op.TransformGeneration, op.AppliedAt)
	return err
}

// AppliedSince implements collab.OperationStore.
func (s *OperationService) AppliedSince(ctx context.Context, sessionID uuid.UUID, fromSequence int64) ([]models.EditOperation, error) {
	return s.opsSince(ctx, sessionID, fromSequence, 0)
}

// MaxSequence implements collab.OperationStore.
func (s *OperationService) MaxSequence(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var maxSeq int64
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) FROM edit_operations WHERE session_id = $1
	`, sessionID).Scan(&maxSeq)
	return maxSeq, err
}

// IncrementEditCount implements collab.Counters.
func (s *OperationService) IncrementEditCount(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE collab_sessions SET edit_count = edit_count + 1, updated_at = NOW() WHERE id = $1
	`, sessionID)
	return err
}

func (s *OperationService) incrementConflictCount(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE collab_sessions SET conflict_count = conflict_count + 1, updated_at = NOW() WHERE id = $1
	`, sessionID)
	return err
}

func (s *OperationService) Get(ctx context.Context, operationID uuid.UUID) (*models.EditOperation, error) {
	var op models.EditOperation
	err := s.db.Pool.QueryRow(ctx, `
		SELECT `+operationColumns+` FROM edit_operations WHERE id = $1
	`, operationID).Scan(operationFields(&op)...)
	if err != nil {
		return nil, ErrOperationNotFound
	}
	return &op, nil
}

// OpsSince returns applied operations after fromSequence in ascending order.
// Reconnecting clients use it together with a fresh snapshot; there is no
// broadcast replay.
func (s *OperationService) OpsSince(ctx context.Context, sessionID uuid.UUID, fromSequence int64, limit int) ([]models.EditOperation, error) {
	return s.opsSince(ctx, sessionID, fromSequence, limit)
}

func (s *OperationService) opsSince(ctx context.Context, sessionID uuid.UUID, fromSequence int64, limit int) ([]models.EditOperation, error) {
	query := `
		SELECT ` + operationColumns + ` FROM edit_operations
		WHERE session_id = $1 AND status = 'applied' AND sequence_number > $2
		ORDER BY sequence_number`
	args := []any{sessionID, fromSequence}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.EditOperation
	for rows.Next() {
		var op models.EditOperation
		if err := rows.Scan(operationFields(&op)...); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Conflicted lists unresolved conflicts for a session.
func (s *OperationService) Conflicted(ctx context.Context, sessionID uuid.UUID) ([]models.EditOperation, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+operationColumns+` FROM edit_operations
		WHERE session_id = $1 AND status = 'conflicted'
		ORDER BY sequence_number
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []models.EditOperation
	for rows.Next() {
		var op models.EditOperation
		if err := rows.Scan(operationFields(&op)...); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ResolveConflict applies the caller-selected strategy to a conflicted
// operation. last_writer_wins rejects the conflicted payload and records the
// winning operation; manual_review re-applies a resolver-supplied payload
// through the normal submit path as a new operation, so sequence numbers
// stay strictly ordered. Resolution is idempotent: a second call fails with
// ErrAlreadyResolved and changes nothing.
func (s *OperationService) ResolveConflict(ctx context.Context, operationID, resolverID uuid.UUID, strategy string, resolved *ot.Op) (*models.EditOperation, error) {
	op, err := s.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if !op.IsConflicted() {
		if op.ResolutionStrategy != nil {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrNotConflicted
	}

	session, err := s.sessionForOp(ctx, op.SessionID)
	if err != nil {
		return nil, err
	}
	if session.IsEnded() {
		return nil, ErrInvalidState
	}

	need := models.PermissionEdit
	if strategy == models.ResolutionManualReview {
		need = models.PermissionAdmin
	}
	if err := s.requireParticipantPermission(ctx, op.SessionID, resolverID, need); err != nil {
		return nil, err
	}

	switch strategy {
	case models.ResolutionLastWriterWins:
		return s.resolveLastWriterWins(ctx, session, op, resolverID)
	case models.ResolutionManualReview:
		if resolved == nil {
			return nil, ErrMissingResolution
		}
		return s.resolveManual(ctx, session, op, resolverID, *resolved)
	default:
		return nil, ErrInvalidStrategy
	}
}

func (s *OperationService) resolveLastWriterWins(ctx context.Context, session *models.Session, op *models.EditOperation, resolverID uuid.UUID) (*models.EditOperation, error) {
	now := time.Now().UTC()
	result, err := s.db.Pool.Exec(ctx, `
		UPDATE edit_operations
		SET status = 'rejected', resolution_strategy = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'conflicted'
	`, op.ID, models.ResolutionLastWriterWins, resolverID, now)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrAlreadyResolved
	}

	op.Status = models.OpStatusRejected
	strategy := models.ResolutionLastWriterWins
	op.ResolutionStrategy = &strategy
	op.ResolvedBy = &resolverID
	op.ResolvedAt = &now

	s.finishResolution(ctx, session, op, resolverID)
	return op, nil
}

func (s *OperationService) resolveManual(ctx context.Context, session *models.Session, op *models.EditOperation, resolverID uuid.UUID, resolved ot.Op) (*models.EditOperation, error) {
	current, err := s.engine.CurrentSequence(session.ID)
	if err != nil {
		return nil, err
	}
	applied, err := s.engine.Submit(ctx, session.ID, op.UserID, current, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to apply resolved payload: %w", err)
	}
	// Submit reports adapter rejections and transform failures as outcomes,
	// not errors. A resolution whose payload did not land must not mark the
	// original conflict resolved.
	if applied.Status != models.OpStatusApplied {
		return nil, fmt.Errorf("%w: payload was %s", ErrResolutionNotApplied, applied.Status)
	}

	now := time.Now().UTC()
	result, err := s.db.Pool.Exec(ctx, `
		UPDATE edit_operations
		SET status = 'applied', resolution_strategy = $2, resolved_by = $3, resolved_at = $4,
		    winner_id = $5, applied_at = $4
		WHERE id = $1 AND status = 'conflicted'
	`, op.ID, models.ResolutionManualReview, resolverID, now, applied.ID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected() == 0 {
		return nil, ErrAlreadyResolved
	}

	op.Status = models.OpStatusApplied
	strategy := models.ResolutionManualReview
	op.ResolutionStrategy = &strategy
	op.ResolvedBy = &resolverID
	op.ResolvedAt = &now
	op.AppliedAt = &now
	op.WinnerID = &applied.ID

	s.finishResolution(ctx, session, op, resolverID)
	return op, nil
}

func (s *OperationService) finishResolution(ctx context.Context, session *models.Session, op *models.EditOperation, resolverID uuid.UUID) {
	if err := s.incrementConflictCount(ctx, session.ID); err != nil {
		// Counter drift is tolerable; the resolution itself is durable.
		return
	}
	_ = s.events.Append(ctx, session.ID, session.Token, models.EventConflictResolved, &resolverID, op)
}

// CleanupApplied discards applied operations older than the retention
// window, but only up to each session's snapshot sequence: the snapshot
// already captures their cumulative effect, while anything after it is still
// needed to rehydrate the session on restart. Pending and conflicted
// operations are never swept.
func (s *OperationService) CleanupApplied(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.db.Pool.Exec(ctx, `
		DELETE FROM edit_operations o
		USING collab_sessions s
		WHERE o.session_id = s.id
		  AND o.status = 'applied'
		  AND o.applied_at < $1
		  AND o.sequence_number <= s.snapshot_sequence
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (s *OperationService) sessionForOp(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := s.db.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM collab_sessions WHERE id = $1
	`, sessionID).Scan(sessionFields(&session)...)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *OperationService) requireParticipantPermission(ctx context.Context, sessionID, userID uuid.UUID, need string) error {
	var permission string
	err := s.db.Pool.QueryRow(ctx, `
		SELECT permission FROM session_participants
		WHERE session_id = $1 AND user_id = $2 AND status IN ('active', 'away')
	`, sessionID, userID).Scan(&permission)
	if err != nil {
		return ErrParticipantNotFound
	}
	if !models.PermissionAtLeast(permission, need) {
		return ErrPermissionDenied
	}
	return nil
}

func operationFields(op *models.EditOperation) []any {
	return []any{
		&op.ID, &op.SessionID, &op.UserID, &op.SequenceNumber, &op.BaseSequence,
		&op.Kind, &op.ContentPath, &op.Position, &op.Length, &op.Text, &op.Data,
		&op.Status, &op.ConflictDetail, &op.ResolutionStrategy, &op.ResolvedBy,
		&op.ResolvedAt, &op.WinnerID, &op.Transformed, &op.TransformLog,
		&op.TransformGeneration, &op.SubmittedAt, &op.AppliedAt,
	}
}
