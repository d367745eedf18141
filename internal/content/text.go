package content

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/classloop/collab-api/internal/models"
	"github.com/classloop/collab-api/internal/ot"
)

// FormatSpan records a formatting or attribute run over a body range. Spans
// are kept verbatim; rendering them is the client's concern.
type FormatSpan struct {
	Path     string         `json:"path"`
	Position int            `json:"position"`
	Length   int            `json:"length"`
	Attrs    map[string]any `json:"attrs"`
}

type textSnapshot struct {
	Bodies map[string]string `json:"bodies"`
	Spans  []FormatSpan      `json:"spans,omitempty"`
}

// TextContent is the default adapter for text-bearing entities (assignments,
// notes). Bodies are plain text keyed by content path; positions are rune
// offsets.
type TextContent struct {
	mu     sync.Mutex
	bodies map[string]string
	spans  []FormatSpan
}

func NewTextContent() *TextContent {
	return &TextContent{bodies: make(map[string]string)}
}

// NewTextContentFrom seeds a body for a single path, mostly for tests and
// adapters wrapping already-loaded entities.
func NewTextContentFrom(path, body string) *TextContent {
	c := NewTextContent()
	c.bodies[path] = body
	return c
}

func (c *TextContent) Body(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[path]
}

func (c *TextContent) ExtractContent() (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := textSnapshot{Bodies: make(map[string]string, len(c.bodies)), Spans: c.spans}
	for k, v := range c.bodies {
		snap.Bodies[k] = v
	}
	return json.Marshal(snap)
}

func (c *TextContent) RestoreContent(snapshot json.RawMessage) error {
	var snap textSnapshot
	if err := json.Unmarshal(snapshot, &snap); err != nil {
		return fmt.Errorf("failed to decode content snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = snap.Bodies
	if c.bodies == nil {
		c.bodies = make(map[string]string)
	}
	c.spans = snap.Spans
	return nil
}

func (c *TextContent) ApplyOperation(op ot.Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body := []rune(c.bodies[op.Path])

	switch op.Kind {
	case models.OpKindInsert:
		if op.Position < 0 || op.Position > len(body) {
			return fmt.Errorf("%w: insert position %d out of range [0,%d]", ErrApplyFailed, op.Position, len(body))
		}
		out := make([]rune, 0, len(body)+len([]rune(op.Text)))
		out = append(out, body[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, body[op.Position:]...)
		c.bodies[op.Path] = string(out)
		return nil

	case models.OpKindDelete:
		if op.Length == 0 {
			// No-op delete emptied by transformation; nothing to do.
			return nil
		}
		if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(body) {
			return fmt.Errorf("%w: delete range [%d,%d) out of range", ErrApplyFailed, op.Position, op.Position+op.Length)
		}
		c.bodies[op.Path] = string(body[:op.Position]) + string(body[op.Position+op.Length:])
		return nil

	case models.OpKindReplace:
		if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(body) {
			return fmt.Errorf("%w: replace range [%d,%d) out of range", ErrApplyFailed, op.Position, op.Position+op.Length)
		}
		out := make([]rune, 0, len(body))
		out = append(out, body[:op.Position]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, body[op.Position+op.Length:]...)
		c.bodies[op.Path] = string(out)
		return nil

	case models.OpKindFormat, models.OpKindAttributeChange:
		if op.Position < 0 || op.Length < 0 || op.Position+op.Length > len(body) {
			return fmt.Errorf("%w: format range [%d,%d) out of range", ErrApplyFailed, op.Position, op.Position+op.Length)
		}
		c.spans = append(c.spans, FormatSpan{
			Path:     op.Path,
			Position: op.Position,
			Length:   op.Length,
			Attrs:    op.Attrs,
		})
		return nil

	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrApplyFailed, op.Kind)
	}
}
