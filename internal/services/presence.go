package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/models"
	"github.com/google/uuid"
)

const (
	// A cursor with no update for this long is stale and excluded from
	// active-cursor queries.
	DefaultCursorTTL = 30 * time.Second
	// A participant counts as typing for this long after the last
	// keystroke signal.
	DefaultTypingTTL = 10 * time.Second
)

// PresenceService tracks ephemeral cursor/selection/typing state. Updates
// are broadcast as cursor_update messages but never persisted as
// collaboration events; presence is not part of durable history.
type PresenceService struct {
	cache     PresenceCache
	publisher broadcast.Publisher
	cursorTTL time.Duration
	typingTTL time.Duration
}

func NewPresenceService(cache PresenceCache, publisher broadcast.Publisher, cursorTTL, typingTTL time.Duration) *PresenceService {
	if cursorTTL <= 0 {
		cursorTTL = DefaultCursorTTL
	}
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &PresenceService{cache: cache, publisher: publisher, cursorTTL: cursorTTL, typingTTL: typingTTL}
}

// CursorUpdate is the caller-supplied slice of a cursor change. A nil
// selection clears any previous one.
type CursorUpdate struct {
	ContentPath    string `json:"content_path"`
	Position       int    `json:"position"`
	SelectionStart *int   `json:"selection_start,omitempty"`
	SelectionEnd   *int   `json:"selection_end,omitempty"`
}

// UpdateCursor overwrites the user's previous position and refreshes the
// staleness window.
func (s *PresenceService) UpdateCursor(ctx context.Context, token string, userID uuid.UUID, color string, update CursorUpdate) (*models.CursorPosition, error) {
	typing, err := s.cache.IsTyping(ctx, token, userID)
	if err != nil {
		typing = false
	}

	cursor := &models.CursorPosition{
		UserID:         userID,
		ContentPath:    update.ContentPath,
		Position:       update.Position,
		SelectionStart: update.SelectionStart,
		SelectionEnd:   update.SelectionEnd,
		IsTyping:       typing,
		Color:          color,
		UpdatedAt:      time.Now().UTC(),
	}

	data, err := json.Marshal(cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cursor: %w", err)
	}
	if err := s.cache.SetCursor(ctx, token, userID, data, s.cursorTTL); err != nil {
		return nil, fmt.Errorf("failed to store cursor: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(token, broadcast.Message{Type: models.EventCursorUpdate, Payload: cursor})
	}
	return cursor, nil
}

// SignalTyping marks the user as typing for the typing window and refreshes
// the flag on the stored cursor if one exists.
func (s *PresenceService) SignalTyping(ctx context.Context, token string, userID uuid.UUID) error {
	if err := s.cache.SetTyping(ctx, token, userID, s.typingTTL); err != nil {
		return fmt.Errorf("failed to store typing flag: %w", err)
	}
	if s.publisher != nil {
		s.publisher.Publish(token, broadcast.Message{
			Type:    models.EventCursorUpdate,
			Payload: map[string]any{"user_id": userID, "is_typing": true},
		})
	}
	return nil
}

// ActiveCursors returns every non-stale cursor in the session with typing
// flags recomputed against the typing window.
func (s *PresenceService) ActiveCursors(ctx context.Context, token string) ([]models.CursorPosition, error) {
	raw, err := s.cache.ActiveCursors(ctx, token)
	if err != nil {
		return nil, err
	}

	cursors := make([]models.CursorPosition, 0, len(raw))
	for userID, data := range raw {
		var cursor models.CursorPosition
		if err := json.Unmarshal(data, &cursor); err != nil {
			continue
		}
		cursor.UserID = userID
		typing, terr := s.cache.IsTyping(ctx, token, userID)
		cursor.IsTyping = terr == nil && typing
		cursors = append(cursors, cursor)
	}
	return cursors, nil
}

func (s *PresenceService) RemoveCursor(ctx context.Context, token string, userID uuid.UUID) error {
	return s.cache.RemoveCursor(ctx, token, userID)
}

// Purge drops all presence state for a session; called at teardown.
func (s *PresenceService) Purge(ctx context.Context, token string) error {
	return s.cache.Purge(ctx, token)
}
