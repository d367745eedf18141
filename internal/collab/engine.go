package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/classloop/collab-api/internal/content"
	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
	"github.com/google/uuid"
)

var (
	ErrSessionNotOpen = errors.New("session is not open in the engine")
	// ErrStaleBase means the client's base sequence predates retained
	// history; the client must fetch a fresh snapshot and catch up by
	// sequence number before resubmitting.
	ErrStaleBase = errors.New("base sequence predates retained operation history")
)

// ringCapacity bounds the in-memory window of recent applied operations per
// session. Older history is only reachable through snapshots.
const ringCapacity = 1024

// OperationStore persists operation rows. The engine writes the pending row
// before transforming so an assigned sequence number is never lost.
type OperationStore interface {
	InsertPending(ctx context.Context, op *models.EditOperation) error
	FinishOperation(ctx context.Context, op *models.EditOperation) error
	AppliedSince(ctx context.Context, sessionID uuid.UUID, fromSequence int64) ([]models.EditOperation, error)
	MaxSequence(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// EventSink receives exactly one collaboration event per operation outcome.
type EventSink interface {
	Append(ctx context.Context, sessionID uuid.UUID, token, eventType string, actorID *uuid.UUID, payload any) error
}

// Counters increments the session's durable edit counter.
type Counters interface {
	IncrementEditCount(ctx context.Context, sessionID uuid.UUID) error
}

type appliedEntry struct {
	id  uuid.UUID
	op  ot.Op
	seq int64
}

// sessionState is the per-session serialization point: sequence assignment,
// transform application and content mutation all happen under its mutex.
// Distinct sessions never contend.
type sessionState struct {
	mu       sync.Mutex
	id       uuid.UUID
	token    string
	seq      int64 // last assigned sequence number, applied or not
	floorSeq int64 // history below this is not retained in memory
	ring     []appliedEntry
	target   content.TargetContent
}

// Engine owns the live runtime of every open session. All mutation of target
// content goes through Submit; clients never touch the adapter directly.
type Engine struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionState

	registry *content.Registry
	store    OperationStore
	events   EventSink
	counters Counters
}

func NewEngine(registry *content.Registry, store OperationStore, events EventSink, counters Counters) *Engine {
	return &Engine{
		sessions: make(map[uuid.UUID]*sessionState),
		registry: registry,
		store:    store,
		events:   events,
		counters: counters,
	}
}

// Supports reports whether a content adapter is registered for the entity
// type, so callers can refuse a session before writing anything.
func (e *Engine) Supports(entityType string) bool {
	return e.registry.Supports(entityType)
}

// Open binds a session to its content adapter and hydrates runtime state:
// the snapshot is restored into the adapter, applied operations after the
// snapshot are replayed, and the sequence counter resumes after the highest
// number ever assigned. Open is idempotent for an already-open session.
func (e *Engine) Open(ctx context.Context, sess *models.Session) error {
	e.mu.RLock()
	_, ok := e.sessions[sess.ID]
	e.mu.RUnlock()
	if ok {
		return nil
	}

	target, err := e.registry.Resolve(sess.EntityType, sess.EntityID)
	if err != nil {
		return err
	}

	if len(sess.Snapshot) > 0 {
		var snap models.SessionSnapshot
		if err := json.Unmarshal(sess.Snapshot, &snap); err != nil {
			return fmt.Errorf("failed to decode session snapshot: %w", err)
		}
		if err := target.RestoreContent(snap.Content); err != nil {
			return fmt.Errorf("failed to restore snapshot content: %w", err)
		}
	}

	st := &sessionState{
		id:       sess.ID,
		token:    sess.Token,
		seq:      sess.SnapshotSequence,
		floorSeq: sess.SnapshotSequence,
		ring:     make([]appliedEntry, 0, ringCapacity),
		target:   target,
	}

	replay, err := e.store.AppliedSince(ctx, sess.ID, sess.SnapshotSequence)
	if err != nil {
		return fmt.Errorf("failed to load applied operations: %w", err)
	}
	for i := range replay {
		op := toOTOp(&replay[i])
		if err := target.ApplyOperation(op); err != nil {
			return fmt.Errorf("failed to replay operation %d: %w", replay[i].SequenceNumber, err)
		}
		st.push(replay[i].ID, op, replay[i].SequenceNumber)
		if replay[i].SequenceNumber > st.seq {
			st.seq = replay[i].SequenceNumber
		}
	}

	// Rejected and conflicted submissions consume sequence numbers too.
	maxSeq, err := e.store.MaxSequence(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load sequence counter: %w", err)
	}
	if maxSeq > st.seq {
		st.seq = maxSeq
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[sess.ID]; !ok {
		e.sessions[sess.ID] = st
	}
	return nil
}

func (e *Engine) state(sessionID uuid.UUID) (*sessionState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotOpen
	}
	return st, nil
}

// Submit is the central contract: assign the next sequence number, persist
// the pending row, transform against everything applied after the caller's
// base sequence, then apply. A transform failure converts the operation to
// conflicted instead of failing the call; an adapter failure rejects it.
func (e *Engine) Submit(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID, baseSequence int64, payload ot.Op) (*models.EditOperation, error) {
	st, err := e.state(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if baseSequence < st.floorSeq {
		return nil, ErrStaleBase
	}
	if baseSequence > st.seq {
		return nil, fmt.Errorf("base sequence %d is ahead of session sequence %d", baseSequence, st.seq)
	}

	now := time.Now().UTC()
	payload.UserID = userID
	payload.SubmittedAt = now

	st.seq++
	op := &models.EditOperation{
		ID:             uuid.New(),
		SessionID:      sessionID,
		UserID:         userID,
		SequenceNumber: st.seq,
		BaseSequence:   baseSequence,
		Kind:           payload.Kind,
		ContentPath:    payload.Path,
		Position:       payload.Position,
		Length:         payload.Length,
		Text:           payload.Text,
		Status:         models.OpStatusPending,
		SubmittedAt:    now,
	}
	if len(payload.Attrs) > 0 {
		data, merr := json.Marshal(payload.Attrs)
		if merr != nil {
			st.seq--
			return nil, fmt.Errorf("failed to encode operation data: %w", merr)
		}
		op.Data = data
	}

	if err := e.store.InsertPending(ctx, op); err != nil {
		st.seq--
		return nil, fmt.Errorf("failed to persist operation: %w", err)
	}

	transformed, entries, terr := ot.TransformAgainst(payload, st.appliedAfter(baseSequence))
	op.Transformed = len(entries) > 0
	op.TransformGeneration = len(entries)
	if len(entries) > 0 {
		if logData, merr := json.Marshal(entries); merr == nil {
			op.TransformLog = logData
		}
	}

	if terr != nil {
		detail := terr.Error()
		op.Status = models.OpStatusConflicted
		op.ConflictDetail = &detail
		var cerr *ot.ConflictError
		if errors.As(terr, &cerr) {
			if winner := st.findBySequence(cerr.AgainstSequence); winner != uuid.Nil {
				op.WinnerID = &winner
			}
		}
		if err := e.store.FinishOperation(ctx, op); err != nil {
			return nil, fmt.Errorf("failed to record conflict: %w", err)
		}
		_ = e.events.Append(ctx, sessionID, st.token, models.EventConflictDetected, &userID, op)
		return op, nil
	}

	op.Position = transformed.Position
	op.Length = transformed.Length
	op.Text = transformed.Text

	if err := st.target.ApplyOperation(transformed); err != nil {
		// Retrying the same payload against unchanged content would fail
		// identically, so the operation is rejected rather than conflicted.
		detail := err.Error()
		op.Status = models.OpStatusRejected
		op.ConflictDetail = &detail
		if ferr := e.store.FinishOperation(ctx, op); ferr != nil {
			return nil, fmt.Errorf("failed to record rejection: %w", ferr)
		}
		_ = e.events.Append(ctx, sessionID, st.token, models.EventOperationRejected, &userID, op)
		return op, nil
	}

	op.Status = models.OpStatusApplied
	appliedAt := time.Now().UTC()
	op.AppliedAt = &appliedAt
	if err := e.store.FinishOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to record applied operation: %w", err)
	}
	st.push(op.ID, transformed, op.SequenceNumber)

	if err := e.counters.IncrementEditCount(ctx, sessionID); err != nil {
		log.Printf("failed to increment edit counter for session %s: %v", sessionID, err)
	}
	_ = e.events.Append(ctx, sessionID, st.token, models.EventOperationApplied, &userID, op)
	return op, nil
}

// Snapshot extracts the adapter's current content together with the sequence
// number it reflects.
func (e *Engine) Snapshot(sessionID uuid.UUID) (json.RawMessage, int64, error) {
	st, err := e.state(sessionID)
	if err != nil {
		return nil, 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := st.target.ExtractContent()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to extract content: %w", err)
	}
	return data, st.seq, nil
}

// Restore rolls the target content back to a prior capture. Sequence numbers
// keep moving forward; restore is a correction, not a rewind.
func (e *Engine) Restore(sessionID uuid.UUID, snapshot json.RawMessage) error {
	st, err := e.state(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.target.RestoreContent(snapshot); err != nil {
		return fmt.Errorf("failed to restore content: %w", err)
	}
	// Transforming new submissions against pre-restore operations would
	// reapply edits the restore deliberately undid.
	st.floorSeq = st.seq
	st.ring = st.ring[:0]
	return nil
}

func (e *Engine) CurrentSequence(sessionID uuid.UUID) (int64, error) {
	st, err := e.state(sessionID)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seq, nil
}

// Close drops the runtime state of an ended session.
func (e *Engine) Close(sessionID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

func (st *sessionState) push(id uuid.UUID, op ot.Op, seq int64) {
	if len(st.ring) == ringCapacity {
		st.floorSeq = st.ring[0].seq
		copy(st.ring, st.ring[1:])
		st.ring = st.ring[:len(st.ring)-1]
	}
	st.ring = append(st.ring, appliedEntry{id: id, op: op, seq: seq})
}

func (st *sessionState) findBySequence(seq int64) uuid.UUID {
	for _, e := range st.ring {
		if e.seq == seq {
			return e.id
		}
	}
	return uuid.Nil
}

func (st *sessionState) appliedAfter(baseSequence int64) []ot.Applied {
	var out []ot.Applied
	for _, e := range st.ring {
		if e.seq > baseSequence {
			out = append(out, ot.Applied{Op: e.op, Sequence: e.seq})
		}
	}
	return out
}

func toOTOp(op *models.EditOperation) ot.Op {
	o := ot.Op{
		Kind:        op.Kind,
		Path:        op.ContentPath,
		Position:    op.Position,
		Length:      op.Length,
		Text:        op.Text,
		UserID:      op.UserID,
		SubmittedAt: op.SubmittedAt,
	}
	if len(op.Data) > 0 {
		var attrs map[string]any
		if err := json.Unmarshal(op.Data, &attrs); err == nil {
			o.Attrs = attrs
		}
	}
	return o
}
