package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
	"github.com/rzpsarthak13/entity-creator/internal/schema"
)

var (
	// ErrTableExists is returned by CreateTable when the table is already there.
	ErrTableExists = errors.New("table already exists")

	// ErrTableNotFound is returned by GetSchema for an unknown table.
	ErrTableNotFound = errors.New("table not found")

	errClosed = errors.New("database is closed")
)

// MySQL server error numbers.
const (
	erTableExists    = 1050
	erDupFieldName   = 1060
	erInvalidDefault = 1067
	erNoSuchTable    = 1146
)

// MySQLDatabase implements the core.Database interface using MySQL.
type MySQLDatabase struct {
	db      *sql.DB
	builder *schema.Builder
	logger  *slog.Logger
	closed  atomic.Bool
}

// DSN builds the driver connection string for cfg.
func DSN(cfg registry.InternalDatabaseConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Timeout = cfg.ConnectionTimeout
	return c.FormatDSN()
}

// NewMySQLDatabase opens a pool to the configured MySQL server and pings it.
func NewMySQLDatabase(cfg registry.InternalDatabaseConfig, logger *slog.Logger) (*MySQLDatabase, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mysql")
	logger.Info("connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	return &MySQLDatabase{
		db:      db,
		builder: schema.NewBuilder(),
		logger:  logger,
	}, nil
}

// CreateTable creates a table for the given schema.
func (m *MySQLDatabase) CreateTable(ctx context.Context, s *core.Schema) error {
	if m.closed.Load() {
		return errClosed
	}

	ddl, err := m.builder.CreateTableSQL(s)
	if err != nil {
		return err
	}

	m.logger.Info("creating table", "table", s.TableName, "columns", len(s.Columns))
	m.logger.Debug("ddl", "statement", ddl)

	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		m.logger.Error("create table failed", "table", s.TableName, "error", err)
		return translateError(s.TableName, err)
	}
	return nil
}

// TableExists reports whether a base table with the given name exists.
func (m *MySQLDatabase) TableExists(ctx context.Context, tableName string) (bool, error) {
	if m.closed.Load() {
		return false, errClosed
	}

	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'
	`, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", tableName, err)
	}
	return count > 0, nil
}

// Exec executes a non-query statement and returns the number of rows affected.
func (m *MySQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if m.closed.Load() {
		return 0, errClosed
	}

	m.logger.Debug("exec", "statement", query, "args", len(args))
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		m.logger.Error("exec failed", "error", err)
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == erNoSuchTable {
			return 0, fmt.Errorf("%w: %s", ErrTableNotFound, myErr.Message)
		}
		return 0, fmt.Errorf("failed to execute statement: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected, nil
}

// GetSchema reads a table's columns, primary key and indexes from
// INFORMATION_SCHEMA. Column types are reported in full (e.g. VARCHAR(64)).
func (m *MySQLDatabase) GetSchema(ctx context.Context, tableName string) (*core.Schema, error) {
	if m.closed.Load() {
		return nil, errClosed
	}

	s := &core.Schema{
		TableName: tableName,
		Columns:   []core.Column{},
		Indexes:   []core.Index{},
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var colName, colType, isNullable, columnKey string
		var colDefault sql.NullString
		if err := rows.Scan(&colName, &colType, &isNullable, &colDefault, &columnKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		column := core.Column{
			Name:     colName,
			Type:     strings.ToUpper(colType),
			Nullable: isNullable == "YES",
		}
		if colDefault.Valid {
			column.Default = colDefault.String
		}
		if columnKey == "PRI" {
			s.PrimaryKey = colName
		}
		s.Columns = append(s.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	if len(s.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
	}

	indexRows, err := m.db.QueryContext(ctx, `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes: %w", err)
	}
	defer indexRows.Close()

	indexMap := make(map[string]*core.Index)
	var order []string
	for indexRows.Next() {
		var indexName, columnName string
		var nonUnique int
		if err := indexRows.Scan(&indexName, &columnName, &nonUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}

		if index, exists := indexMap[indexName]; exists {
			index.Columns = append(index.Columns, columnName)
			continue
		}
		indexMap[indexName] = &core.Index{
			Name:    indexName,
			Columns: []string{columnName},
			Unique:  nonUnique == 0,
			Primary: indexName == "PRIMARY",
		}
		order = append(order, indexName)
	}
	if err := indexRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indexes: %w", err)
	}

	for _, name := range order {
		s.Indexes = append(s.Indexes, *indexMap[name])
	}
	return s, nil
}

// GetTables returns the names of all base tables, sorted.
func (m *MySQLDatabase) GetTables(ctx context.Context) ([]string, error) {
	if m.closed.Load() {
		return nil, errClosed
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Sort(tables)
	return tables, nil
}

// Close closes the database connection.
func (m *MySQLDatabase) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.db.Close()
}

// translateError maps MySQL server errors from DDL onto package errors.
func translateError(table string, err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	switch myErr.Number {
	case erTableExists:
		return fmt.Errorf("%w: %s", ErrTableExists, table)
	case erNoSuchTable:
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	case erDupFieldName, erInvalidDefault:
		return fmt.Errorf("%w: %s", schema.ErrInvalidSchema, myErr.Message)
	default:
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
}
