package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/classloop/collab-api/internal/database"
	"github.com/classloop/collab-api/internal/models"
	"github.com/google/uuid"
)

// Fixtures provides factory methods for creating test data
type Fixtures struct {
	db      *database.DB
	counter int
}

// NewFixtures creates a new fixtures factory
func NewFixtures(db *database.DB) *Fixtures {
	return &Fixtures{db: db}
}

// CreateSession creates a test session with default values
func (f *Fixtures) CreateSession(t *testing.T, createdBy uuid.UUID, opts ...SessionOption) *models.Session {
	t.Helper()
	f.counter++

	session := &models.Session{
		Token:           fmt.Sprintf("test-session-%d", f.counter),
		EntityType:      "note",
		EntityID:        uuid.New(),
		State:           models.SessionStateActive,
		MaxParticipants: 10,
		CreatedBy:       createdBy,
	}

	for _, opt := range opts {
		opt(session)
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO collab_sessions (token, entity_type, entity_id, state, max_participants, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, session.Token, session.EntityType, session.EntityID, session.State,
		session.MaxParticipants, session.CreatedBy).Scan(
		&session.ID, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	return session
}

// SessionOption configures a test session
type SessionOption func(*models.Session)

// WithEntity sets the session's target content item
func WithEntity(entityType string, entityID uuid.UUID) SessionOption {
	return func(s *models.Session) {
		s.EntityType = entityType
		s.EntityID = entityID
	}
}

// WithState sets the session state
func WithState(state string) SessionOption {
	return func(s *models.Session) {
		s.State = state
	}
}

// WithMaxParticipants sets the participant cap
func WithMaxParticipants(n int) SessionOption {
	return func(s *models.Session) {
		s.MaxParticipants = n
	}
}

// AddParticipant binds a user to a session
func (f *Fixtures) AddParticipant(t *testing.T, session *models.Session, userID uuid.UUID, opts ...ParticipantOption) *models.Participant {
	t.Helper()
	f.counter++

	p := &models.Participant{
		SessionID:  session.ID,
		UserID:     userID,
		Permission: models.PermissionEdit,
		Status:     models.ParticipantActive,
		Color:      "#e6194b",
	}

	for _, opt := range opts {
		opt(p)
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO session_participants (session_id, user_id, permission, status, color)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, joined_at, last_seen_at
	`, p.SessionID, p.UserID, p.Permission, p.Status, p.Color).Scan(
		&p.ID, &p.JoinedAt, &p.LastSeenAt,
	)
	if err != nil {
		t.Fatalf("failed to add participant: %v", err)
	}

	return p
}

// ParticipantOption configures a test participant
type ParticipantOption func(*models.Participant)

// WithPermission sets the participant's permission level
func WithPermission(permission string) ParticipantOption {
	return func(p *models.Participant) {
		p.Permission = permission
	}
}

// WithColor sets the participant's assigned color
func WithColor(color string) ParticipantOption {
	return func(p *models.Participant) {
		p.Color = color
	}
}

// CreateOperation inserts an edit operation directly, bypassing the engine
func (f *Fixtures) CreateOperation(t *testing.T, session *models.Session, userID uuid.UUID, seq int64, opts ...OperationOption) *models.EditOperation {
	t.Helper()

	op := &models.EditOperation{
		ID:             uuid.New(),
		SessionID:      session.ID,
		UserID:         userID,
		SequenceNumber: seq,
		BaseSequence:   seq - 1,
		Kind:           models.OpKindInsert,
		ContentPath:    "body",
		Status:         models.OpStatusApplied,
	}

	for _, opt := range opts {
		opt(op)
	}

	ctx := context.Background()
	err := f.db.Pool.QueryRow(ctx, `
		INSERT INTO edit_operations
			(id, session_id, user_id, sequence_number, base_sequence, kind,
			 content_path, position, length, op_text, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING submitted_at
	`, op.ID, op.SessionID, op.UserID, op.SequenceNumber, op.BaseSequence,
		op.Kind, op.ContentPath, op.Position, op.Length, op.Text, op.Status).Scan(
		&op.SubmittedAt,
	)
	if err != nil {
		t.Fatalf("failed to create operation: %v", err)
	}

	return op
}

// OperationOption configures a test operation
type OperationOption func(*models.EditOperation)

// WithOp sets the operation payload
func WithOp(kind string, position, length int, text string) OperationOption {
	return func(o *models.EditOperation) {
		o.Kind = kind
		o.Position = position
		o.Length = length
		o.Text = text
	}
}

// WithStatus sets the operation status
func WithStatus(status string) OperationOption {
	return func(o *models.EditOperation) {
		o.Status = status
	}
}
