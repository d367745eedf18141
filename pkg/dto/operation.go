package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SubmitOperationRequest struct {
	BaseSequence int64          `json:"base_sequence"`
	Kind         string         `json:"kind"`
	ContentPath  string         `json:"content_path"`
	Position     int            `json:"position"`
	Length       int            `json:"length"`
	Text         string         `json:"text,omitempty"`
	Attrs        map[string]any `json:"attrs,omitempty"`
}

type ResolveConflictRequest struct {
	Strategy string             `json:"strategy"`
	Resolved *ResolvedOperation `json:"resolved,omitempty"`
}

// ResolvedOperation is the replacement payload a reviewer supplies when
// resolving a conflict manually.
type ResolvedOperation struct {
	Kind        string         `json:"kind"`
	ContentPath string         `json:"content_path"`
	Position    int            `json:"position"`
	Length      int            `json:"length"`
	Text        string         `json:"text,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
}

type OperationResponse struct {
	ID                  uuid.UUID       `json:"id"`
	SessionID           uuid.UUID       `json:"session_id"`
	UserID              uuid.UUID       `json:"user_id"`
	SequenceNumber      int64           `json:"sequence_number"`
	BaseSequence        int64           `json:"base_sequence"`
	Kind                string          `json:"kind"`
	ContentPath         string          `json:"content_path"`
	Position            int             `json:"position"`
	Length              int             `json:"length"`
	Text                string          `json:"text,omitempty"`
	Data                json.RawMessage `json:"data,omitempty"`
	Status              string          `json:"status"`
	ConflictDetail      *string         `json:"conflict_detail,omitempty"`
	ResolutionStrategy  *string         `json:"resolution_strategy,omitempty"`
	ResolvedBy          *uuid.UUID      `json:"resolved_by,omitempty"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	WinnerID            *uuid.UUID      `json:"winner_id,omitempty"`
	Transformed         bool            `json:"transformed"`
	TransformLog        json.RawMessage `json:"transform_log,omitempty"`
	TransformGeneration int             `json:"transform_generation"`
	SubmittedAt         time.Time       `json:"submitted_at"`
	AppliedAt           *time.Time      `json:"applied_at,omitempty"`
}
