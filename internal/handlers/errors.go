package handlers

import (
	"errors"

	"github.com/classloop/collab-api/internal/collab"
	"github.com/classloop/collab-api/internal/services"
	"github.com/m1z23r/drift/pkg/drift"
)

// serviceError maps service sentinel errors onto HTTP responses. Anything
// unrecognized is a 500 with a generic message.
func serviceError(c *drift.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		c.NotFound("session not found")
	case errors.Is(err, services.ErrParticipantNotFound):
		c.NotFound("participant not found")
	case errors.Is(err, services.ErrOperationNotFound):
		c.NotFound("operation not found")
	case errors.Is(err, services.ErrPermissionDenied):
		c.Forbidden("insufficient permission")
	case errors.Is(err, services.ErrActiveSessionExists):
		_ = c.JSON(409, map[string]string{"error": "an active session already exists for this target"})
	case errors.Is(err, services.ErrAlreadyJoined):
		_ = c.JSON(409, map[string]string{"error": "user already joined this session"})
	case errors.Is(err, services.ErrCapacityExceeded):
		_ = c.JSON(409, map[string]string{"error": "session is at participant capacity"})
	case errors.Is(err, services.ErrInvalidState):
		_ = c.JSON(409, map[string]string{"error": "operation not permitted in current session state"})
	case errors.Is(err, services.ErrAlreadyResolved):
		_ = c.JSON(409, map[string]string{"error": "conflict has already been resolved"})
	case errors.Is(err, services.ErrNotConflicted):
		_ = c.JSON(409, map[string]string{"error": "operation is not in conflicted state"})
	case errors.Is(err, services.ErrResolutionNotApplied):
		_ = c.JSON(409, map[string]string{"error": "resolved payload could not be applied"})
	case errors.Is(err, collab.ErrStaleBase):
		_ = c.JSON(409, map[string]string{"error": "base sequence predates retained history, fetch a fresh snapshot"})
	case errors.Is(err, collab.ErrSessionNotOpen):
		_ = c.JSON(409, map[string]string{"error": "session is not open"})
	case errors.Is(err, services.ErrInvalidPermission),
		errors.Is(err, services.ErrInvalidMaxParticipants),
		errors.Is(err, services.ErrUnsupportedEntityType),
		errors.Is(err, services.ErrInvalidStrategy),
		errors.Is(err, services.ErrMissingResolution):
		c.BadRequest(err.Error())
	default:
		c.InternalServerError("internal error")
	}
}
