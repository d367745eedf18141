package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/classloop/collab-api/internal/ot"
	"github.com/google/uuid"
)

var (
	ErrUnknownEntityType = errors.New("no content adapter registered for entity type")
	ErrApplyFailed       = errors.New("operation could not be applied to content")
)

// TargetContent is the contract the edited entity implements. The
// collaboration core treats the snapshot as opaque data keyed by content
// path and never assumes a concrete schema.
type TargetContent interface {
	ExtractContent() (json.RawMessage, error)
	ApplyOperation(op ot.Op) error
	RestoreContent(snapshot json.RawMessage) error
}

// Factory produces an adapter bound to one entity instance.
type Factory func(entityID uuid.UUID) (TargetContent, error)

// Registry resolves (entityType, entityID) target references to content
// adapters, so collaboration logic never compiles against a concrete
// content type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(entityType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entityType] = f
}

func (r *Registry) Resolve(entityType string, entityID uuid.UUID) (TargetContent, error) {
	r.mu.RLock()
	f, ok := r.factories[entityType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return f(entityID)
}

func (r *Registry) Supports(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[entityType]
	return ok
}
