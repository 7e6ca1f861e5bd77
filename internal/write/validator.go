package write

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rzpsarthak13/entity-creator/internal/creator"
	"github.com/rzpsarthak13/entity-creator/internal/schema"
)

// ErrInvalidEvent is returned when an event fails caller-side validation.
var ErrInvalidEvent = errors.New("invalid event")

// EventValidator checks events before they are dispatched to a session.
// The reducer accepts any event; this is where callers reject
// payloads that could never produce a table.
type EventValidator struct{}

// NewEventValidator creates a new event validator.
func NewEventValidator() *EventValidator {
	return &EventValidator{}
}

// Validate validates a single event.
func (v *EventValidator) Validate(ev creator.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: event cannot be nil", ErrInvalidEvent)
	}
	if !creator.Supported(ev) {
		return fmt.Errorf("%w: unsupported event type %T with kind %q", ErrInvalidEvent, ev, ev.Kind())
	}

	switch e := ev.(type) {
	case creator.SetError:
		if strings.TrimSpace(e.Message) == "" {
			return fmt.Errorf("%w: error message cannot be empty", ErrInvalidEvent)
		}
	case creator.SetTableName:
		if !schema.ValidIdentifier(e.Name) {
			return fmt.Errorf("%w: invalid table name %q", ErrInvalidEvent, e.Name)
		}
	case creator.ModifyState:
		return v.validateModifyState(e)
	}

	return nil
}

func (v *EventValidator) validateModifyState(e creator.ModifyState) error {
	if e.Columns == nil {
		return fmt.Errorf("%w: columns cannot be nil", ErrInvalidEvent)
	}
	if _, ok := e.Columns[e.PrimaryKey]; !ok {
		return fmt.Errorf("%w: primary key %d is not a column row", ErrInvalidEvent, e.PrimaryKey)
	}

	for key, col := range e.Columns {
		if col == nil {
			continue
		}
		if !schema.ValidIdentifier(col.Name) {
			return fmt.Errorf("%w: row %d: invalid column name %q", ErrInvalidEvent, key, col.Name)
		}
	}

	return nil
}
