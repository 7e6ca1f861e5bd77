package core

import (
	"context"
)

// Database defines the persistent database the commit pipeline writes
// created entities to.
type Database interface {
	// CreateTable creates a table for the given schema.
	// Returns an error if the table already exists.
	CreateTable(ctx context.Context, schema *Schema) error

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, tableName string) (bool, error)

	// GetSchema retrieves the schema information for a specific table.
	GetSchema(ctx context.Context, tableName string) (*Schema, error)

	// GetTables returns a list of all table names in the database.
	GetTables(ctx context.Context) ([]string, error)

	// Exec executes a non-query statement and returns the number of rows affected.
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)

	// Close closes the connection to the database.
	Close() error
}
