package creator

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedEvent is returned by EncodeEvent for events that would
// decode to something other than what they reduce as.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// descriptor is the wire form of an event: a kind discriminator plus the
// union of all payload fields.
type descriptor struct {
	Kind       Kind     `json:"kind"`
	Message    *string  `json:"message,omitempty"`
	Name       *string  `json:"name,omitempty"`
	Columns    *Columns `json:"columns,omitempty"`
	PrimaryKey *int     `json:"primaryKey,omitempty"`
}

// DecodeEvent parses a JSON event descriptor.
//
// Unknown kinds decode to Unrecognized. Missing payload fields decode to
// their zero values. Only malformed JSON is an error.
func DecodeEvent(data []byte) (Event, error) {
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	switch d.Kind {
	case KindSetError:
		return SetError{Message: deref(d.Message)}, nil
	case KindClearError:
		return ClearError{}, nil
	case KindClearDirtyEntities:
		return ClearDirtyEntities{}, nil
	case KindStartCreatingEntities:
		return StartCreatingEntities{}, nil
	case KindCommitTableChanges:
		return CommitTableChanges{}, nil
	case KindSetTableName:
		return SetTableName{Name: deref(d.Name)}, nil
	case KindModifyState:
		var ev ModifyState
		if d.Columns != nil {
			ev.Columns = *d.Columns
		}
		if d.PrimaryKey != nil {
			ev.PrimaryKey = *d.PrimaryKey
		}
		return ev, nil
	default:
		return Unrecognized{Name: string(d.Kind)}, nil
	}
}

// EncodeEvent renders ev as a JSON event descriptor.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("cannot encode nil event")
	}
	if !Supported(ev) {
		return nil, fmt.Errorf("%w: %T with kind %q", ErrUnsupportedEvent, ev, ev.Kind())
	}

	d := descriptor{Kind: ev.Kind()}
	switch e := ev.(type) {
	case SetError:
		d.Message = &e.Message
	case SetTableName:
		d.Name = &e.Name
	case ModifyState:
		d.Columns = &e.Columns
		d.PrimaryKey = &e.PrimaryKey
	}

	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", d.Kind, err)
	}
	return data, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
