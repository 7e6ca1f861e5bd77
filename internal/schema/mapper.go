package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedType is returned when a column type is not one the
// mapper knows how to create.
var ErrUnsupportedType = errors.New("unsupported column type")

// DefaultColumnType is used for columns created without a type.
const DefaultColumnType = "VARCHAR(255)"

// typeSyntax accepts a base type with optional size or precision,
// e.g. VARCHAR(64), DECIMAL(10,2).
var typeSyntax = regexp.MustCompile(`^[A-Z ]+(\(\d+(,\s*\d+)?\))?$`)

// TypeMapper handles mapping between column types, Go types and SQL literals.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// BaseType strips size/precision information (e.g., VARCHAR(255) -> VARCHAR).
func (tm *TypeMapper) BaseType(dbType string) string {
	upper := strings.ToUpper(strings.TrimSpace(dbType))
	if idx := strings.Index(upper, "("); idx > 0 {
		return strings.TrimSpace(upper[:idx])
	}
	return upper
}

// MapDBTypeToGoType converts a database type string to a Go type.
// Unknown types return nil.
func (tm *TypeMapper) MapDBTypeToGoType(dbType string) reflect.Type {
	if strings.EqualFold(strings.ReplaceAll(dbType, " ", ""), "TINYINT(1)") {
		return reflect.TypeOf(false)
	}

	switch tm.BaseType(dbType) {
	case "INT", "INTEGER", "MEDIUMINT":
		return reflect.TypeOf(int(0))
	case "BIGINT":
		return reflect.TypeOf(int64(0))
	case "SMALLINT", "TINYINT":
		return reflect.TypeOf(int16(0))
	case "FLOAT":
		return reflect.TypeOf(float32(0))
	case "DOUBLE", "DOUBLE PRECISION", "REAL":
		return reflect.TypeOf(float64(0))
	case "DECIMAL", "NUMERIC":
		return reflect.TypeOf("") // Store as string to preserve precision
	case "VARCHAR", "CHAR", "TEXT", "LONGTEXT", "MEDIUMTEXT", "TINYTEXT":
		return reflect.TypeOf("")
	case "BINARY", "VARBINARY", "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB":
		return reflect.TypeOf([]byte{})
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		return reflect.TypeOf(time.Time{})
	case "BOOLEAN", "BOOL":
		return reflect.TypeOf(false)
	case "JSON":
		return reflect.TypeOf(map[string]interface{}(nil))
	default:
		return nil
	}
}

// Normalize returns the canonical spelling of a column type.
// An empty type becomes DefaultColumnType.
func (tm *TypeMapper) Normalize(dbType string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(dbType))
	if trimmed == "" {
		return DefaultColumnType, nil
	}
	if !typeSyntax.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, dbType)
	}
	if tm.MapDBTypeToGoType(trimmed) == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, dbType)
	}
	// VARCHAR needs a length in MySQL.
	if trimmed == "VARCHAR" {
		return DefaultColumnType, nil
	}
	return trimmed, nil
}

// DefaultLiteral renders value as a SQL literal suitable for a DEFAULT
// clause on a column of dbType.
func (tm *TypeMapper) DefaultLiteral(value interface{}, dbType string) (string, error) {
	if value == nil {
		return "NULL", nil
	}

	goType := tm.MapDBTypeToGoType(dbType)
	if goType == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, dbType)
	}

	switch goType.Kind() {
	case reflect.Int, reflect.Int16, reflect.Int64:
		i, err := tm.toInt64(value)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(i, 10), nil
	case reflect.Float32, reflect.Float64:
		f, err := tm.toFloat64(value)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case reflect.Bool:
		b, err := tm.toBool(value)
		if err != nil {
			return "", err
		}
		if b {
			return "TRUE", nil
		}
		return "FALSE", nil
	default:
		s, err := tm.toString(value)
		if err != nil {
			return "", err
		}
		return quoteString(s), nil
	}
}

func (tm *TypeMapper) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("cannot convert non-integral %v to integer", v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func (tm *TypeMapper) toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float64: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func (tm *TypeMapper) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", value)
	}
}

func (tm *TypeMapper) toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string to bool: %w", err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return "'" + s + "'"
}
