package core

// Schema represents the structure of a table produced by the entity creator.
type Schema struct {
	// TableName is the name of the table.
	TableName string `json:"tableName"`

	// PrimaryKey is the name of the primary key column.
	PrimaryKey string `json:"primaryKey"`

	// Columns contains all column definitions for the table, in creation order.
	Columns []Column `json:"columns"`

	// Indexes contains all index definitions for the table.
	Indexes []Index `json:"indexes,omitempty"`
}

// Column represents a single column definition.
type Column struct {
	// Name is the column name.
	Name string `json:"name"`

	// Type is the database type (e.g., "INT", "VARCHAR(255)", "TIMESTAMP").
	// An empty type is filled in by the schema builder.
	Type string `json:"type,omitempty"`

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool `json:"nullable,omitempty"`

	// Default is the default value for the column, if any.
	Default interface{} `json:"default,omitempty"`
}

// Index represents a database index.
type Index struct {
	// Name is the index name.
	Name string `json:"name"`

	// Columns are the column names that make up this index.
	Columns []string `json:"columns"`

	// Unique indicates whether this is a unique index.
	Unique bool `json:"unique,omitempty"`

	// Primary indicates whether this is the primary key index.
	Primary bool `json:"primary,omitempty"`
}

// Column returns the column with the given name, or nil.
func (s *Schema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}
