package database

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,

	`CREATE TABLE IF NOT EXISTS collab_sessions (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		token VARCHAR(64) UNIQUE NOT NULL,
		entity_type VARCHAR(100) NOT NULL,
		entity_id UUID NOT NULL,
		state VARCHAR(20) NOT NULL DEFAULT 'active',
		max_participants INTEGER NOT NULL DEFAULT 10
			CHECK (max_participants BETWEEN 1 AND 50),
		edit_count INTEGER NOT NULL DEFAULT 0,
		conflict_count INTEGER NOT NULL DEFAULT 0,
		snapshot JSONB,
		snapshot_sequence BIGINT NOT NULL DEFAULT 0,
		snapshot_taken_at TIMESTAMP WITH TIME ZONE,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		ended_at TIMESTAMP WITH TIME ZONE
	)`,

	// At most one active session per target
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_collab_sessions_active_target
		ON collab_sessions(entity_type, entity_id) WHERE state = 'active'`,

	`CREATE TABLE IF NOT EXISTS session_participants (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		session_id UUID NOT NULL REFERENCES collab_sessions(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		permission VARCHAR(20) NOT NULL DEFAULT 'edit',
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		color VARCHAR(20) NOT NULL DEFAULT '',
		joined_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		last_seen_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		left_at TIMESTAMP WITH TIME ZONE
	)`,

	// At most one non-terminal binding per (session, user)
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_session_participants_present
		ON session_participants(session_id, user_id) WHERE status IN ('active', 'away')`,

	`CREATE TABLE IF NOT EXISTS edit_operations (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES collab_sessions(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		sequence_number BIGINT NOT NULL,
		base_sequence BIGINT NOT NULL DEFAULT 0,
		kind VARCHAR(30) NOT NULL,
		content_path VARCHAR(500) NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		length INTEGER NOT NULL DEFAULT 0,
		op_text TEXT NOT NULL DEFAULT '',
		data JSONB,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		conflict_detail TEXT,
		resolution_strategy VARCHAR(30),
		resolved_by UUID,
		resolved_at TIMESTAMP WITH TIME ZONE,
		winner_id UUID,
		transformed BOOLEAN NOT NULL DEFAULT FALSE,
		transform_log JSONB,
		transform_generation INTEGER NOT NULL DEFAULT 0,
		submitted_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		applied_at TIMESTAMP WITH TIME ZONE,
		UNIQUE(session_id, sequence_number)
	)`,

	`CREATE TABLE IF NOT EXISTS collaboration_events (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		session_id UUID NOT NULL REFERENCES collab_sessions(id) ON DELETE CASCADE,
		event_type VARCHAR(50) NOT NULL,
		actor_id UUID,
		payload JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_collab_sessions_target ON collab_sessions(entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_session_participants_session_id ON session_participants(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_session_participants_user_id ON session_participants(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edit_operations_session_seq ON edit_operations(session_id, sequence_number)`,
	`CREATE INDEX IF NOT EXISTS idx_edit_operations_status ON edit_operations(session_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_collaboration_events_session_id ON collaboration_events(session_id, created_at)`,
}

func (db *DB) Migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
