package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	OpKindInsert          = "insert"
	OpKindDelete          = "delete"
	OpKindFormat          = "format"
	OpKindMove            = "move"
	OpKindReplace         = "replace"
	OpKindAttributeChange = "attribute_change"
	OpKindStructureChange = "structure_change"
)

const (
	OpStatusPending    = "pending"
	OpStatusApplied    = "applied"
	OpStatusRejected   = "rejected"
	OpStatusConflicted = "conflicted"
)

const (
	ResolutionLastWriterWins = "last_writer_wins"
	ResolutionManualReview   = "manual_review"
)

func ValidOpKind(kind string) bool {
	switch kind {
	case OpKindInsert, OpKindDelete, OpKindFormat, OpKindMove,
		OpKindReplace, OpKindAttributeChange, OpKindStructureChange:
		return true
	}
	return false
}

// EditOperation is one atomic, ordered edit intent. ID is the global
// idempotency/audit handle; SequenceNumber is the per-session ordering key.
// Once a sequence number is assigned the operation is never reordered; only
// the payload may be rewritten by transformation.
type EditOperation struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	UserID         uuid.UUID `json:"user_id"`
	SequenceNumber int64     `json:"sequence_number"`
	BaseSequence   int64     `json:"base_sequence"`

	Kind        string          `json:"kind"`
	ContentPath string          `json:"content_path"`
	Position    int             `json:"position"`
	Length      int             `json:"length"`
	Text        string          `json:"text,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`

	Status             string     `json:"status"`
	ConflictDetail     *string    `json:"conflict_detail,omitempty"`
	ResolutionStrategy *string    `json:"resolution_strategy,omitempty"`
	ResolvedBy         *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	WinnerID           *uuid.UUID `json:"winner_id,omitempty"`

	Transformed         bool            `json:"transformed"`
	TransformLog        json.RawMessage `json:"transform_log,omitempty"`
	TransformGeneration int             `json:"transform_generation"`

	SubmittedAt time.Time  `json:"submitted_at"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

// Terminal reports whether the operation can no longer change status.
// conflicted is not terminal: resolution moves it to applied or rejected.
func (o *EditOperation) Terminal() bool {
	return o.Status == OpStatusApplied || o.Status == OpStatusRejected
}

func (o *EditOperation) IsConflicted() bool {
	return o.Status == OpStatusConflicted
}
