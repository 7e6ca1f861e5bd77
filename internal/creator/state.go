// Package creator holds the entity-creator state snapshot and the reducer
// that moves it from one snapshot to the next.
package creator

import (
	"maps"
	"reflect"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// Columns maps a column row index to its definition. Keys need not be
// contiguous. A nil definition is a placeholder row.
type Columns map[int]*core.Column

// State is one immutable snapshot of the entity creator.
//
// A State is replaced wholesale on every transition. Callers must not
// mutate Columns in place; snapshots share it until a ModifyState
// replaces it.
type State struct {
	// CreatingEntities is true while an entity-creation operation is underway.
	CreatingEntities bool `json:"creatingEntities"`

	// EntitiesDirty is true when committed table changes have not yet
	// been acknowledged by the consumer.
	EntitiesDirty bool `json:"entitiesDirty"`

	// Error is the reported error message. Nil means no error.
	Error *string `json:"error"`

	// TableName names the table being created. Nil means unset.
	TableName *string `json:"tableName"`

	// PrimaryKey is the key in Columns of the primary key column.
	PrimaryKey int `json:"primaryKey"`

	// Columns holds the column definitions.
	Columns Columns `json:"columns"`
}

// Initial returns the snapshot a session starts with.
func Initial() State {
	return State{
		PrimaryKey: 0,
		Columns:    Columns{0: nil},
	}
}

// ErrorMessage returns the error message and whether one is present.
func (s State) ErrorMessage() (string, bool) {
	if s.Error == nil {
		return "", false
	}
	return *s.Error, true
}

// Table returns the table name and whether one is set.
func (s State) Table() (string, bool) {
	if s.TableName == nil {
		return "", false
	}
	return *s.TableName, true
}

// Clone returns a copy of the snapshot that shares nothing with s.
// Column definitions are copied one level deep.
func (s State) Clone() State {
	out := s
	if s.Error != nil {
		msg := *s.Error
		out.Error = &msg
	}
	if s.TableName != nil {
		name := *s.TableName
		out.TableName = &name
	}
	out.Columns = s.Columns.Clone()
	return out
}

// Clone copies the map and every non-nil column definition.
func (c Columns) Clone() Columns {
	if c == nil {
		return nil
	}
	out := make(Columns, len(c))
	for k, col := range c {
		if col == nil {
			out[k] = nil
			continue
		}
		cp := *col
		out[k] = &cp
	}
	return out
}

// Equal reports whether two column maps hold the same keys and definitions.
func (c Columns) Equal(other Columns) bool {
	return maps.EqualFunc(c, other, func(a, b *core.Column) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Name == b.Name && a.Type == b.Type && a.Nullable == b.Nullable && reflect.DeepEqual(a.Default, b.Default)
	})
}

// Equal reports whether two snapshots hold the same values.
func (s State) Equal(other State) bool {
	return s.CreatingEntities == other.CreatingEntities &&
		s.EntitiesDirty == other.EntitiesDirty &&
		equalOptional(s.Error, other.Error) &&
		equalOptional(s.TableName, other.TableName) &&
		s.PrimaryKey == other.PrimaryKey &&
		s.Columns.Equal(other.Columns) &&
		(s.Columns == nil) == (other.Columns == nil)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
