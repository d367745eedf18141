package models

import (
	"time"

	"github.com/google/uuid"
)

// CursorPosition is per-user ephemeral presence inside a session: location,
// selection and typing state. One entry per (session, user). Cursors are not
// part of the durable edit history and are purged on session end.
type CursorPosition struct {
	SessionID      uuid.UUID `json:"session_id"`
	UserID         uuid.UUID `json:"user_id"`
	ContentPath    string    `json:"content_path"`
	Position       int       `json:"position"`
	SelectionStart *int      `json:"selection_start,omitempty"`
	SelectionEnd   *int      `json:"selection_end,omitempty"`
	IsTyping       bool      `json:"is_typing"`
	Color          string    `json:"color,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (c *CursorPosition) HasSelection() bool {
	return c.SelectionStart != nil && c.SelectionEnd != nil
}
