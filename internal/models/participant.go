package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PermissionViewOnly = "view_only"
	PermissionComment  = "comment"
	PermissionEdit     = "edit"
	PermissionAdmin    = "admin"
)

const (
	ParticipantActive = "active"
	ParticipantAway   = "away"
	ParticipantLeft   = "left"
	ParticipantKicked = "kicked"
)

var permissionRank = map[string]int{
	PermissionViewOnly: 0,
	PermissionComment:  1,
	PermissionEdit:     2,
	PermissionAdmin:    3,
}

// PermissionAtLeast reports whether have grants everything need does.
// Unknown levels rank below view_only.
func PermissionAtLeast(have, need string) bool {
	return permissionRank[have] >= permissionRank[need]
}

func ValidPermission(p string) bool {
	_, ok := permissionRank[p]
	return ok
}

// Participant binds one user to one session. left and kicked are terminal
// for the binding; a user may hold at most one non-terminal binding per
// session.
type Participant struct {
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

func (p *Participant) IsPresent() bool {
	return p.Status == ParticipantActive || p.Status == ParticipantAway
}

// ParticipantSummary is the shape embedded in snapshots and join/leave
// event payloads.
type ParticipantSummary struct {
	UserID     uuid.UUID `json:"user_id"`
	Permission string    `json:"permission"`
	Status     string    `json:"status"`
	Color      string    `json:"color,omitempty"`
}

func (p *Participant) Summary() ParticipantSummary {
	return ParticipantSummary{
		UserID:     p.UserID,
		Permission: p.Permission,
		Status:     p.Status,
		Color:      p.Color,
	}
}
