package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/classloop/collab-api/internal/collab"
	"github.com/classloop/collab-api/internal/database"
	"github.com/classloop/collab-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrActiveSessionExists    = errors.New("an active session already exists for this target")
	ErrCapacityExceeded       = errors.New("session is at participant capacity")
	ErrInvalidState           = errors.New("operation not permitted in current session state")
	ErrPermissionDenied       = errors.New("insufficient permission for this action")
	ErrAlreadyJoined          = errors.New("user already has an active participant record")
	ErrInvalidPermission      = errors.New("invalid permission level")
	ErrInvalidMaxParticipants = errors.New("max participants must be between 1 and 50")
	ErrUnsupportedEntityType  = errors.New("no content adapter registered for this entity type")
)

const sessionColumns = `id, token, entity_type, entity_id, state, max_participants,
	edit_count, conflict_count, snapshot, snapshot_sequence, snapshot_taken_at,
	created_by, created_at, updated_at, ended_at`

type SessionService struct {
	db         *database.DB
	engine     *collab.Engine
	events     *EventService
	presence   *PresenceService
	defaultMax int
}

func NewSessionService(db *database.DB, engine *collab.Engine, events *EventService, presence *PresenceService, defaultMaxParticipants int) *SessionService {
	if defaultMaxParticipants <= 0 {
		defaultMaxParticipants = models.MaxSessionParticipants
	}
	return &SessionService{db: db, engine: engine, events: events, presence: presence, defaultMax: defaultMaxParticipants}
}

// generateToken returns the unguessable external-facing session handle.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create opens a new active session for the target and auto-registers the
// creator as an admin participant. At most one session may be active per
// (entityType, entityID); a partial unique index backs the check.
func (s *SessionService) Create(ctx context.Context, entityType string, entityID, creatorID uuid.UUID, maxParticipants int) (*models.Session, error) {
	if maxParticipants == 0 {
		maxParticipants = s.defaultMax
	}
	if maxParticipants < models.MinSessionParticipants || maxParticipants > models.MaxSessionParticipants {
		return nil, ErrInvalidMaxParticipants
	}
	if !s.engine.Supports(entityType) {
		return nil, ErrUnsupportedEntityType
	}

	var exists bool
	err := s.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM collab_sessions WHERE entity_type = $1 AND entity_id = $2 AND state = 'active')
	`, entityType, entityID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrActiveSessionExists
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var session models.Session
	err = tx.QueryRow(ctx, `
		INSERT INTO collab_sessions (token, entity_type, entity_id, state, max_participants, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+sessionColumns+`
	`, token, entityType, entityID, models.SessionStateActive, maxParticipants, creatorID).Scan(sessionFields(&session)...)
	if err != nil {
		// A concurrent creator can slip past the EXISTS pre-check; the
		// partial unique index on active targets reports it here.
		if isUniqueViolation(err) {
			return nil, ErrActiveSessionExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	color := pickColor(nil)
	var participant models.Participant
	err = tx.QueryRow(ctx, `
		INSERT INTO session_participants (session_id, user_id, permission, status, color)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, session_id, user_id, permission, status, color, joined_at, last_seen_at, left_at
	`, session.ID, creatorID, models.PermissionAdmin, models.ParticipantActive, color).Scan(participantFields(&participant)...)
	if err != nil {
		return nil, fmt.Errorf("failed to register creator: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if err := s.engine.Open(ctx, &session); err != nil {
		// The committed row would otherwise squat on the one active-session
		// slot for this target with no runtime behind it.
		if _, eerr := s.db.Pool.Exec(ctx, `
			UPDATE collab_sessions SET state = 'ended', ended_at = NOW(), updated_at = NOW() WHERE id = $1
		`, session.ID); eerr != nil {
			log.Printf("failed to end session %s after runtime open failure: %v", session.ID, eerr)
		}
		return nil, fmt.Errorf("failed to open session runtime: %w", err)
	}

	_ = s.events.Append(ctx, session.ID, session.Token, models.EventParticipantJoined, &creatorID, participant.Summary())
	return &session, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ReopenLive rebinds every non-ended session to the engine after a restart.
// A session whose entity type has no registered adapter is logged and
// skipped, not fatal.
func (s *SessionService) ReopenLive(ctx context.Context) error {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM collab_sessions WHERE state != 'ended'
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(sessionFields(&session)...); err != nil {
			return err
		}
		sessions = append(sessions, session)
	}

	for i := range sessions {
		if err := s.engine.Open(ctx, &sessions[i]); err != nil {
			log.Printf("failed to reopen session %s: %v", sessions[i].ID, err)
		}
	}
	return nil
}

func (s *SessionService) GetByID(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := s.db.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM collab_sessions WHERE id = $1
	`, sessionID).Scan(sessionFields(&session)...)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (s *SessionService) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	var session models.Session
	err := s.db.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM collab_sessions WHERE token = $1
	`, token).Scan(sessionFields(&session)...)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// ActiveForTarget returns the single active session for a target, if any.
func (s *SessionService) ActiveForTarget(ctx context.Context, entityType string, entityID uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := s.db.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM collab_sessions
		WHERE entity_type = $1 AND entity_id = $2 AND state = 'active'
	`, entityType, entityID).Scan(sessionFields(&session)...)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// AddParticipant joins a user to an active session. The partial unique index
// on (session_id, user_id) for non-terminal statuses backs the single-binding
// invariant under concurrent joins.
func (s *SessionService) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, permission string) (*models.Participant, error) {
	if !models.ValidPermission(permission) {
		return nil, ErrInvalidPermission
	}

	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionStateActive {
		return nil, ErrInvalidState
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var present int
	var alreadyJoined bool
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE user_id = $2) > 0
		FROM session_participants
		WHERE session_id = $1 AND status IN ('active', 'away')
	`, sessionID, userID).Scan(&present, &alreadyJoined)
	if err != nil {
		return nil, err
	}
	if alreadyJoined {
		return nil, ErrAlreadyJoined
	}
	if present >= session.MaxParticipants {
		return nil, ErrCapacityExceeded
	}

	used, err := usedColorsTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	var participant models.Participant
	err = tx.QueryRow(ctx, `
		INSERT INTO session_participants (session_id, user_id, permission, status, color)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, session_id, user_id, permission, status, color, joined_at, last_seen_at, left_at
	`, sessionID, userID, permission, models.ParticipantActive, pickColor(used)).Scan(participantFields(&participant)...)
	if err != nil {
		// Concurrent joins race the non-terminal-binding unique index.
		if isUniqueViolation(err) {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("failed to add participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	_ = s.events.Append(ctx, sessionID, session.Token, models.EventParticipantJoined, &userID, participant.Summary())
	return &participant, nil
}

// RemoveParticipant marks the binding left and purges the user's cursor.
// When no present participants remain the session auto-ends.
func (s *SessionService) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	result, err := s.db.Pool.Exec(ctx, `
		UPDATE session_participants SET status = 'left', left_at = NOW()
		WHERE session_id = $1 AND user_id = $2 AND status IN ('active', 'away')
	`, sessionID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}

	if s.presence != nil {
		_ = s.presence.RemoveCursor(ctx, session.Token, userID)
	}
	_ = s.events.Append(ctx, sessionID, session.Token, models.EventParticipantLeft, &userID,
		map[string]any{"user_id": userID, "reason": "left"})

	return s.endIfEmpty(ctx, session)
}

// KickParticipant removes another user from the roster. Admin only.
func (s *SessionService) KickParticipant(ctx context.Context, sessionID, actorID, targetID uuid.UUID) error {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.requirePermission(ctx, sessionID, actorID, models.PermissionAdmin); err != nil {
		return err
	}

	result, err := s.db.Pool.Exec(ctx, `
		UPDATE session_participants SET status = 'kicked', left_at = NOW()
		WHERE session_id = $1 AND user_id = $2 AND status IN ('active', 'away')
	`, sessionID, targetID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}

	if s.presence != nil {
		_ = s.presence.RemoveCursor(ctx, session.Token, targetID)
	}
	_ = s.events.Append(ctx, sessionID, session.Token, models.EventParticipantLeft, &actorID,
		map[string]any{"user_id": targetID, "reason": "kicked"})

	return s.endIfEmpty(ctx, session)
}

// UpdatePermission promotes or demotes a participant. Admin only.
func (s *SessionService) UpdatePermission(ctx context.Context, sessionID, actorID, targetID uuid.UUID, permission string) error {
	if !models.ValidPermission(permission) {
		return ErrInvalidPermission
	}
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsEnded() {
		return ErrInvalidState
	}
	if err := s.requirePermission(ctx, sessionID, actorID, models.PermissionAdmin); err != nil {
		return err
	}

	result, err := s.db.Pool.Exec(ctx, `
		UPDATE session_participants SET permission = $3
		WHERE session_id = $1 AND user_id = $2 AND status IN ('active', 'away')
	`, sessionID, targetID, permission)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// Heartbeat refreshes presence and flips an away participant back to active.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID, userID uuid.UUID) error {
	result, err := s.db.Pool.Exec(ctx, `
		UPDATE session_participants SET status = 'active', last_seen_at = NOW()
		WHERE session_id = $1 AND user_id = $2 AND status IN ('active', 'away')
	`, sessionID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (s *SessionService) MarkAway(ctx context.Context, sessionID, userID uuid.UUID) error {
	result, err := s.db.Pool.Exec(ctx, `
		UPDATE session_participants SET status = 'away'
		WHERE session_id = $1 AND user_id = $2 AND status = 'active'
	`, sessionID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (s *SessionService) Pause(ctx context.Context, sessionID, actorID uuid.UUID) error {
	return s.transition(ctx, sessionID, actorID, models.SessionStateActive, models.SessionStatePaused, models.EventSessionPaused)
}

func (s *SessionService) Resume(ctx context.Context, sessionID, actorID uuid.UUID) error {
	return s.transition(ctx, sessionID, actorID, models.SessionStatePaused, models.SessionStateActive, models.EventSessionResumed)
}

func (s *SessionService) transition(ctx context.Context, sessionID, actorID uuid.UUID, from, to, eventType string) error {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.requirePermission(ctx, sessionID, actorID, models.PermissionAdmin); err != nil {
		return err
	}

	result, err := s.db.Pool.Exec(ctx, `
		UPDATE collab_sessions SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3
	`, sessionID, to, from)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}

	_ = s.events.Append(ctx, sessionID, session.Token, eventType, &actorID, map[string]any{"state": to})
	return nil
}

// TakeSnapshot captures current content plus the sequence number it
// reflects. Callable at any time before the session ends.
func (s *SessionService) TakeSnapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsEnded() {
		return nil, ErrInvalidState
	}
	return s.takeSnapshot(ctx, session)
}

func (s *SessionService) takeSnapshot(ctx context.Context, session *models.Session) (*models.SessionSnapshot, error) {
	content, seq, err := s.engine.Snapshot(session.ID)
	if err != nil {
		return nil, err
	}

	participants, err := s.Participants(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.ParticipantSummary, 0, len(participants))
	for i := range participants {
		if participants[i].IsPresent() {
			summaries = append(summaries, participants[i].Summary())
		}
	}

	snap := &models.SessionSnapshot{
		Content:        content,
		Participants:   summaries,
		SequenceNumber: seq,
		TakenAt:        time.Now().UTC(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.Pool.Exec(ctx, `
		UPDATE collab_sessions
		SET snapshot = $2, snapshot_sequence = $3, snapshot_taken_at = $4, updated_at = NOW()
		WHERE id = $1
	`, session.ID, data, seq, snap.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	_ = s.events.Append(ctx, session.ID, session.Token, models.EventSnapshotTaken, nil,
		map[string]any{"sequence_number": seq})
	return snap, nil
}

// RestoreSnapshot rolls the target content back to the stored capture.
// Sequence numbers keep moving forward; history is not rewritten.
func (s *SessionService) RestoreSnapshot(ctx context.Context, sessionID, actorID uuid.UUID) error {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsEnded() {
		return ErrInvalidState
	}
	if err := s.requirePermission(ctx, sessionID, actorID, models.PermissionAdmin); err != nil {
		return err
	}
	if len(session.Snapshot) == 0 {
		return ErrInvalidState
	}

	var snap models.SessionSnapshot
	if err := json.Unmarshal(session.Snapshot, &snap); err != nil {
		return fmt.Errorf("failed to decode stored snapshot: %w", err)
	}
	if err := s.engine.Restore(sessionID, snap.Content); err != nil {
		return err
	}

	_ = s.events.Append(ctx, sessionID, session.Token, models.EventSnapshotRestored, &actorID,
		map[string]any{"sequence_number": snap.SequenceNumber})
	return nil
}

// End tears the session down: final snapshot (best effort), all present
// participants marked left, cursors purged, state ended. Idempotent; ending
// must never get stuck, so a failed snapshot is logged and skipped.
func (s *SessionService) End(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.IsEnded() {
		return nil
	}

	if _, err := s.takeSnapshot(ctx, session); err != nil {
		log.Printf("final snapshot failed for session %s: %v", sessionID, err)
	}

	if _, err := s.db.Pool.Exec(ctx, `
		UPDATE session_participants SET status = 'left', left_at = NOW()
		WHERE session_id = $1 AND status IN ('active', 'away')
	`, sessionID); err != nil {
		return err
	}

	result, err := s.db.Pool.Exec(ctx, `
		UPDATE collab_sessions SET state = 'ended', ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state != 'ended'
	`, sessionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Lost the race with another caller; end already happened.
		return nil
	}

	if s.presence != nil {
		_ = s.presence.Purge(ctx, session.Token)
	}
	_ = s.events.Append(ctx, sessionID, session.Token, models.EventSessionEnded, nil, nil)
	s.engine.Close(sessionID)
	return nil
}

func (s *SessionService) endIfEmpty(ctx context.Context, session *models.Session) error {
	var present int
	err := s.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM session_participants
		WHERE session_id = $1 AND status IN ('active', 'away')
	`, session.ID).Scan(&present)
	if err != nil {
		return err
	}
	if present > 0 {
		return nil
	}
	return s.End(ctx, session.ID)
}

func (s *SessionService) Participants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, session_id, user_id, permission, status, color, joined_at, last_seen_at, left_at
		FROM session_participants
		WHERE session_id = $1
		ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(participantFields(&p)...); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// GetParticipant returns the user's current non-terminal binding.
func (s *SessionService) GetParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	err := s.db.Pool.QueryRow(ctx, `
		SELECT id, session_id, user_id, permission, status, color, joined_at, last_seen_at, left_at
		FROM session_participants
		WHERE session_id = $1 AND user_id = $2 AND status IN ('active', 'away')
	`, sessionID, userID).Scan(participantFields(&p)...)
	if err != nil {
		return nil, ErrParticipantNotFound
	}
	return &p, nil
}

func (s *SessionService) requirePermission(ctx context.Context, sessionID, userID uuid.UUID, need string) error {
	p, err := s.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !models.PermissionAtLeast(p.Permission, need) {
		return ErrPermissionDenied
	}
	return nil
}

func sessionFields(s *models.Session) []any {
	return []any{
		&s.ID, &s.Token, &s.EntityType, &s.EntityID, &s.State, &s.MaxParticipants,
		&s.EditCount, &s.ConflictCount, &s.Snapshot, &s.SnapshotSequence, &s.SnapshotTakenAt,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.EndedAt,
	}
}

func participantFields(p *models.Participant) []any {
	return []any{
		&p.ID, &p.SessionID, &p.UserID, &p.Permission, &p.Status, &p.Color,
		&p.JoinedAt, &p.LastSeenAt, &p.LeftAt,
	}
}
