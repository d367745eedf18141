package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SessionStateActive = "active"
	SessionStatePaused = "paused"
	SessionStateEnded  = "ended"
)

const (
	MinSessionParticipants = 1
	MaxSessionParticipants = 50
)

// Session is a bounded collaborative editing context scoped to one target
// content item. The token is the external-facing handle; the (EntityType,
// EntityID) pair is resolved to a content adapter at open time.
type Session struct {
	ID               uuid.UUID       `json:"id"`
	Token            string          `json:"token"`
	EntityType       string          `json:"entity_type"`
	EntityID         uuid.UUID       `json:"entity_id"`
	State            string          `json:"state"`
	MaxParticipants  int             `json:"max_participants"`
	EditCount        int             `json:"edit_count"`
	ConflictCount    int             `json:"conflict_count"`
	Snapshot         json.RawMessage `json:"snapshot,omitempty"`
	SnapshotSequence int64           `json:"snapshot_sequence"`
	SnapshotTakenAt  *time.Time      `json:"snapshot_taken_at,omitempty"`
	CreatedBy        uuid.UUID       `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
}

func (s *Session) IsActive() bool {
	return s.State == SessionStateActive
}

func (s *Session) IsEnded() bool {
	return s.State == SessionStateEnded
}

// AcceptsOperations reports whether edit operations may be submitted in the
// current state. Paused sessions hold membership but reject edits.
func (s *Session) AcceptsOperations() bool {
	return s.State == SessionStateActive
}

// SessionSnapshot is the wire format of a full content capture. Content is
// opaque to the collaboration core; SequenceNumber is the last operation the
// capture reflects.
type SessionSnapshot struct {
	Content        json.RawMessage      `json:"content"`
	Participants   []ParticipantSummary `json:"participants"`
	SequenceNumber int64                `json:"sequenceNumber"`
	TakenAt        time.Time            `json:"takenAt"`
}
