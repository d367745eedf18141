package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types. Every state change on a session, participant or operation
// produces exactly one persisted event; cursor_update is broadcast only and
// never persisted.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventCursorUpdate      = "cursor_update"
	EventOperationApplied  = "operation_applied"
	EventOperationRejected = "operation_rejected"
	EventConflictDetected  = "conflict_detected"
	EventConflictResolved  = "conflict_resolved"
	EventSnapshotTaken     = "snapshot_taken"
	EventSnapshotRestored  = "snapshot_restored"
	EventSessionPaused     = "session_paused"
	EventSessionResumed    = "session_resumed"
	EventSessionEnded      = "session_ended"
)

// CollaborationEvent is the append-only timeline record of a session. The
// same struct is the payload broadcast to subscribers, so the audit view and
// the live stream never diverge.
type CollaborationEvent struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	EventType string          `json:"event_type"`
	ActorID   *uuid.UUID      `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
