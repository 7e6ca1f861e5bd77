package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// MaxIdentifierLength is the longest table or column name MySQL accepts.
const MaxIdentifierLength = 64

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a table or column name.
func ValidIdentifier(name string) bool {
	return len(name) <= MaxIdentifierLength && identifierPattern.MatchString(name)
}

// SchemaValidator validates table definitions before they are created.
type SchemaValidator struct {
	mapper *TypeMapper
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		mapper: NewTypeMapper(),
	}
}

// Validate checks that the schema names a valid table with at least one
// column, unique valid column names, supported types and a non-null
// primary key column.
func (sv *SchemaValidator) Validate(schema *core.Schema) error {
	if schema == nil {
		return fmt.Errorf("%w: schema cannot be nil", ErrInvalidSchema)
	}
	if !ValidIdentifier(schema.TableName) {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidSchema, schema.TableName)
	}
	if len(schema.Columns) == 0 {
		return fmt.Errorf("%w: table %q has no columns", ErrInvalidSchema, schema.TableName)
	}

	seen := make(map[string]struct{}, len(schema.Columns))
	for _, col := range schema.Columns {
		if !ValidIdentifier(col.Name) {
			return fmt.Errorf("%w: invalid column name %q", ErrInvalidSchema, col.Name)
		}
		lower := strings.ToLower(col.Name)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, col.Name)
		}
		seen[lower] = struct{}{}

		colType, err := sv.mapper.Normalize(col.Type)
		if err != nil {
			return fmt.Errorf("%w: column %q: %w", ErrInvalidSchema, col.Name, err)
		}
		if col.Default != nil {
			if _, err := sv.mapper.DefaultLiteral(col.Default, colType); err != nil {
				return fmt.Errorf("%w: default for column %q: %w", ErrInvalidSchema, col.Name, err)
			}
		}
	}

	if schema.PrimaryKey == "" {
		return fmt.Errorf("%w: table %q has no primary key", ErrInvalidSchema, schema.TableName)
	}
	pk := schema.Column(schema.PrimaryKey)
	if pk == nil {
		return fmt.Errorf("%w: primary key column %q not found", ErrInvalidSchema, schema.PrimaryKey)
	}
	if pk.Nullable {
		return fmt.Errorf("%w: primary key column %q cannot be nullable", ErrInvalidSchema, schema.PrimaryKey)
	}

	return nil
}
