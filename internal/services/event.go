package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/classloop/collab-api/internal/broadcast"
	"github.com/classloop/collab-api/internal/database"
	"github.com/classloop/collab-api/internal/models"
	"github.com/google/uuid"
)

// EventService appends the session timeline and fans each event out: the
// persisted row is the exact payload broadcast to subscribers, and the Kafka
// relay ships the same bytes downstream. Implements collab.EventSink.
type EventService struct {
	db        *database.DB
	publisher broadcast.Publisher
	relay     *broadcast.KafkaRelay
}

func NewEventService(db *database.DB, publisher broadcast.Publisher, relay *broadcast.KafkaRelay) *EventService {
	return &EventService{db: db, publisher: publisher, relay: relay}
}

func (s *EventService) Append(ctx context.Context, sessionID uuid.UUID, token, eventType string, actorID *uuid.UUID, payload any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
	}

	var event models.CollaborationEvent
	err := s.db.Pool.QueryRow(ctx, `
		INSERT INTO collaboration_events (session_id, event_type, actor_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, event_type, actor_id, payload, created_at
	`, sessionID, eventType, actorID, data).Scan(
		&event.ID, &event.SessionID, &event.EventType, &event.ActorID, &event.Payload, &event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if s.publisher != nil {
		s.publisher.Publish(token, broadcast.Message{Type: eventType, Payload: event})
	}
	s.relay.Enqueue(token, event)
	return nil
}

// Timeline returns the most recent events for the session's audit view,
// newest first.
func (s *EventService) Timeline(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.CollaborationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, session_id, event_type, actor_id, payload, created_at
		FROM collaboration_events
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.CollaborationEvent
	for rows.Next() {
		var e models.CollaborationEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.ActorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
