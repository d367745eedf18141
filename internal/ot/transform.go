package ot

import (
	"errors"
	"fmt"
	"time"

	"github.com/classloop/collab-api/internal/models"
	"github.com/google/uuid"
)

// ErrCannotTransform marks a pair of concurrent operations that positional
// arithmetic cannot reconcile. Callers route these to conflict resolution
// instead of dropping them.
var ErrCannotTransform = errors.New("operations cannot be transformed")

// Op is the payload the transformer works on: the addressed content path, a
// position/range and kind-specific data. UserID and SubmittedAt participate
// only in deterministic tie-breaking.
type Op struct {
	Kind        string
	Path        string
	Position    int
	Length      int
	Text        string
	Attrs       map[string]any
	UserID      uuid.UUID
	SubmittedAt time.Time
}

// Applied pairs an already-applied operation with its sequence number, for
// transform chains and their audit log.
type Applied struct {
	Op       Op
	Sequence int64
}

// LogEntry records one pairwise transform step.
type LogEntry struct {
	AgainstSequence int64  `json:"against_sequence"`
	AgainstKind     string `json:"against_kind"`
	PositionBefore  int    `json:"position_before"`
	PositionAfter   int    `json:"position_after"`
	LengthBefore    int    `json:"length_before"`
	LengthAfter     int    `json:"length_after"`
	Note            string `json:"note,omitempty"`
}

func textLen(s string) int {
	return len([]rune(s))
}

// Transform rewrites pending so it can be applied after applied while
// preserving the author's intent. The applied operation is never modified.
func Transform(pending Op, applied Applied) (Op, LogEntry, error) {
	entry := LogEntry{
		AgainstSequence: applied.Sequence,
		AgainstKind:     applied.Op.Kind,
		PositionBefore:  pending.Position,
		LengthBefore:    pending.Length,
	}

	if pending.Path != applied.Op.Path {
		entry.Note = "disjoint paths"
		entry.PositionAfter = pending.Position
		entry.LengthAfter = pending.Length
		return pending, entry, nil
	}

	var (
		out  Op
		note string
		err  error
	)
	switch applied.Op.Kind {
	case models.OpKindInsert:
		out, note, err = againstInsert(pending, applied.Op)
	case models.OpKindDelete:
		out, note, err = againstDelete(pending, applied.Op)
	case models.OpKindFormat, models.OpKindAttributeChange:
		out, note, err = againstFormat(pending, applied.Op)
	case models.OpKindReplace:
		out, note, err = againstReplace(pending, applied.Op)
	default:
		// move and structure_change rearrange content in ways position
		// arithmetic cannot follow.
		return pending, entry, ErrCannotTransform
	}
	if err != nil {
		return pending, entry, err
	}

	entry.PositionAfter = out.Position
	entry.LengthAfter = out.Length
	entry.Note = note
	return out, entry, nil
}

func againstInsert(pending, ins Op) (Op, string, error) {
	insLen := textLen(ins.Text)

	switch pending.Kind {
	case models.OpKindInsert:
		if ins.Position < pending.Position {
			pending.Position += insLen
			return pending, "shifted by prior insert", nil
		}
		if ins.Position > pending.Position {
			return pending, "", nil
		}
		// Same position: lower user id wins priority and is inserted
		// second, which places its text first. Earlier submission breaks
		// a user-id tie.
		if insertWinsTie(pending, ins) {
			return pending, "tie broken in favor of pending", nil
		}
		pending.Position += insLen
		return pending, "tie broken against pending", nil

	case models.OpKindDelete, models.OpKindReplace:
		start, end := pending.Position, pending.Position+pending.Length
		switch {
		case ins.Position <= start:
			pending.Position += insLen
			return pending, "range shifted by prior insert", nil
		case ins.Position < end:
			// Concurrently inserted text survives a delete: in the mirror
			// order the insert relocates to the deletion start. Widening the
			// range here would swallow it, so both orders must agree by
			// conflicting instead.
			return pending, "", ErrCannotTransform
		default:
			return pending, "", nil
		}

	case models.OpKindFormat, models.OpKindAttributeChange:
		start, end := pending.Position, pending.Position+pending.Length
		switch {
		case ins.Position <= start:
			pending.Position += insLen
			return pending, "range shifted by prior insert", nil
		case ins.Position < end:
			// Formatting destroys nothing; widening just extends the run
			// over the inserted text.
			pending.Length += insLen
			return pending, "range widened around prior insert", nil
		default:
			return pending, "", nil
		}

	default:
		return pending, "", ErrCannotTransform
	}
}

func insertWinsTie(pending, applied Op) bool {
	switch {
	case pending.UserID.String() < applied.UserID.String():
		return true
	case pending.UserID.String() > applied.UserID.String():
		return false
	default:
		return pending.SubmittedAt.Before(applied.SubmittedAt)
	}
}

func againstDelete(pending, del Op) (Op, string, error) {
	dStart, dEnd := del.Position, del.Position+del.Length

	switch pending.Kind {
	case models.OpKindInsert:
		switch {
		case pending.Position >= dEnd:
			pending.Position -= del.Length
			return pending, "shifted by prior delete", nil
		case pending.Position > dStart:
			// Preserved: an insert inside a deleted range relocates to
			// the deletion start rather than vanishing with the range.
			pending.Position = dStart
			return pending, "relocated to deletion start", nil
		default:
			return pending, "", nil
		}

	case models.OpKindDelete:
		pStart, pEnd := pending.Position, pending.Position+pending.Length
		overlap := min(pEnd, dEnd) - max(pStart, dStart)
		if overlap < 0 {
			overlap = 0
		}
		switch {
		case pStart >= dEnd:
			pending.Position -= del.Length
		case pStart >= dStart:
			pending.Position = dStart
		}
		pending.Length -= overlap
		if pending.Length == 0 {
			// Emptied deletes stay in the history as no-ops for audit.
			return pending, "emptied by overlapping delete", nil
		}
		if overlap > 0 {
			return pending, "merged with overlapping delete", nil
		}
		return pending, "", nil

	case models.OpKindFormat, models.OpKindAttributeChange, models.OpKindReplace:
		pStart, pEnd := pending.Position, pending.Position+pending.Length
		if pStart < dEnd && dStart < pEnd {
			// The range this operation addresses no longer fully exists.
			return pending, "", ErrCannotTransform
		}
		if pStart >= dEnd {
			pending.Position -= del.Length
			return pending, "range shifted by prior delete", nil
		}
		return pending, "", nil

	default:
		return pending, "", ErrCannotTransform
	}
}

func againstFormat(pending, format Op) (Op, string, error) {
	switch pending.Kind {
	case models.OpKindFormat, models.OpKindAttributeChange:
		pStart, pEnd := pending.Position, pending.Position+pending.Length
		fStart, fEnd := format.Position, format.Position+format.Length
		if pStart < fEnd && fStart < pEnd && attrsCollide(pending.Attrs, format.Attrs) {
			return pending, "", ErrCannotTransform
		}
		return pending, "", nil
	default:
		// Formatting does not move text, so positional operations pass
		// through untouched.
		return pending, "", nil
	}
}

func attrsCollide(a, b map[string]any) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func againstReplace(pending, rep Op) (Op, string, error) {
	rStart, rEnd := rep.Position, rep.Position+rep.Length
	delta := textLen(rep.Text) - rep.Length

	pStart := pending.Position
	pEnd := pending.Position + pending.Length
	if pending.Kind == models.OpKindInsert {
		pEnd = pStart
	}

	switch {
	case pStart >= rEnd:
		pending.Position += delta
		return pending, "shifted by prior replace", nil
	case pEnd <= rStart:
		return pending, "", nil
	default:
		// Overlapping a replaced range is ambiguous: the text the pending
		// operation addressed is gone.
		return pending, "", ErrCannotTransform
	}
}

// ConflictError identifies the applied operation a transform chain failed
// against. It unwraps to ErrCannotTransform.
type ConflictError struct {
	AgainstSequence int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot transform against operation %d", e.AgainstSequence)
}

func (e *ConflictError) Unwrap() error {
	return ErrCannotTransform
}

// TransformAgainst runs the full pairwise chain in ascending sequence order,
// accumulating one log entry per step.
func TransformAgainst(pending Op, applied []Applied) (Op, []LogEntry, error) {
	var entries []LogEntry
	for _, a := range applied {
		transformed, entry, err := Transform(pending, a)
		if err != nil {
			return pending, entries, &ConflictError{AgainstSequence: a.Sequence}
		}
		pending = transformed
		entries = append(entries, entry)
	}
	return pending, entries, nil
}
