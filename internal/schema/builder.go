package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// ErrInvalidSchema is returned when a table definition cannot be turned
// into a valid table.
var ErrInvalidSchema = errors.New("invalid schema")

// Builder turns committed entity-creator snapshots into table schemas
// and DDL statements.
type Builder struct {
	mapper    *TypeMapper
	validator *SchemaValidator
}

// NewBuilder creates a new schema builder.
func NewBuilder() *Builder {
	mapper := NewTypeMapper()
	return &Builder{
		mapper:    mapper,
		validator: &SchemaValidator{mapper: mapper},
	}
}

// FromColumns builds a schema from a snapshot's column map.
//
// Columns are ordered by ascending key. Nil entries are placeholder rows
// and are skipped. primaryKey must be the key of a non-nil column.
func (b *Builder) FromColumns(tableName string, columns map[int]*core.Column, primaryKey int) (*core.Schema, error) {
	pk, ok := columns[primaryKey]
	if !ok || pk == nil {
		return nil, fmt.Errorf("%w: primary key %d does not name a column", ErrInvalidSchema, primaryKey)
	}

	schema := &core.Schema{
		TableName:  tableName,
		PrimaryKey: pk.Name,
		Columns:    make([]core.Column, 0, len(columns)),
	}

	for _, key := range slices.Sorted(maps.Keys(columns)) {
		col := columns[key]
		if col == nil {
			continue
		}

		normalized, err := b.mapper.Normalize(col.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", ErrInvalidSchema, col.Name, err)
		}

		c := *col
		c.Type = normalized
		if key == primaryKey {
			c.Nullable = false
		}
		schema.Columns = append(schema.Columns, c)
	}

	schema.Indexes = []core.Index{{
		Name:    "PRIMARY",
		Columns: []string{pk.Name},
		Unique:  true,
		Primary: true,
	}}

	if err := b.validator.Validate(schema); err != nil {
		return nil, err
	}

	return schema, nil
}

// CreateTableSQL renders a MySQL CREATE TABLE statement for the schema.
func (b *Builder) CreateTableSQL(schema *core.Schema) (string, error) {
	if err := b.validator.Validate(schema); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(schema.Columns)+1)
	for _, col := range schema.Columns {
		def, err := b.columnDef(col)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteIdent(schema.PrimaryKey)))

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)",
		quoteIdent(schema.TableName), strings.Join(defs, ",\n  ")), nil
}

// AddColumnsSQL renders the ALTER TABLE statements that add the columns of
// desired missing from existing. Columns are matched by name; columns
// present in both are left alone. It returns nil if nothing is missing.
func (b *Builder) AddColumnsSQL(existing, desired *core.Schema) ([]string, error) {
	if existing == nil || desired == nil {
		return nil, fmt.Errorf("%w: schema cannot be nil", ErrInvalidSchema)
	}
	if err := b.validator.Validate(desired); err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(existing.Columns))
	for _, col := range existing.Columns {
		have[strings.ToLower(col.Name)] = true
	}

	var stmts []string
	for _, col := range desired.Columns {
		if have[strings.ToLower(col.Name)] {
			continue
		}
		// Existing rows have no value for the new column.
		if !col.Nullable && col.Default == nil {
			col.Nullable = true
		}
		def, err := b.columnDef(col)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(existing.TableName), def))
	}
	return stmts, nil
}

// DropTableSQL renders a DROP TABLE statement for the named table.
func (b *Builder) DropTableSQL(tableName string) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("%w: invalid table name %q", ErrInvalidSchema, tableName)
	}
	return "DROP TABLE " + quoteIdent(tableName), nil
}

func (b *Builder) columnDef(col core.Column) (string, error) {
	colType, err := b.mapper.Normalize(col.Type)
	if err != nil {
		return "", fmt.Errorf("%w: column %q: %w", ErrInvalidSchema, col.Name, err)
	}

	var def strings.Builder
	def.WriteString(quoteIdent(col.Name))
	def.WriteString(" ")
	def.WriteString(colType)
	if !col.Nullable {
		def.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		lit, err := b.mapper.DefaultLiteral(col.Default, colType)
		if err != nil {
			return "", fmt.Errorf("%w: default for column %q: %w", ErrInvalidSchema, col.Name, err)
		}
		def.WriteString(" DEFAULT ")
		def.WriteString(lit)
	}
	return def.String(), nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
