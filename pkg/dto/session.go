package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	EntityType      string    `json:"entity_type"`
	EntityID        uuid.UUID `json:"entity_id"`
	MaxParticipants int       `json:"max_participants"`
}

type SessionResponse struct {
	ID               uuid.UUID  `json:"id"`
	Token            string     `json:"token"`
	EntityType       string     `json:"entity_type"`
	EntityID         uuid.UUID  `json:"entity_id"`
	State            string     `json:"state"`
	MaxParticipants  int        `json:"max_participants"`
	EditCount        int        `json:"edit_count"`
	ConflictCount    int        `json:"conflict_count"`
	SnapshotSequence int64      `json:"snapshot_sequence"`
	CreatedBy        uuid.UUID  `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

type AddParticipantRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	Permission string    `json:"permission"`
}

type UpdatePermissionRequest struct {
	Permission string `json:"permission"`
}

type ParticipantResponse struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Permission string     `json:"permission"`
	Status     string     `json:"status"`
	Color      string     `json:"color"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}
