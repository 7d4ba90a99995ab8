package valueobjects

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier for a card, link or graph.
func NewID() string {
	return uuid.New().String()
}

// ValidateID checks that an identifier supplied by a client or a model is
// usable as a key. Identifiers are opaque, so only emptiness, length and
// whitespace are checked.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("id is too long")
	}
	if strings.ContainsAny(id, " \t\r\n#") {
		return errors.New("id contains forbidden characters")
	}
	return nil
}

// Position is where a card sits on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Offset returns the position moved by dx, dy.
func (p Position) Offset(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}
