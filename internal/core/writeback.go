package core

import (
	"context"
	"time"
)

// CommitOperation is a committed table definition waiting to be written
// to the persistent database. It is produced when a session applies
// CommitTableChanges and leaves entities dirty.
type CommitOperation struct {
	// ID uniquely identifies this commit.
	ID string `json:"id"`

	// SessionID is the entity-creator session the commit came from.
	// The drainer acknowledges the commit back to this session.
	SessionID string `json:"sessionId"`

	// TableName is the name of the table to create.
	TableName string `json:"tableName"`

	// Columns is the column map taken from the committed snapshot.
	// Nil entries are placeholder rows.
	Columns map[int]*Column `json:"columns"`

	// PrimaryKey is the key in Columns that holds the primary key column.
	PrimaryKey int `json:"primaryKey"`

	// Timestamp is when the commit was enqueued.
	Timestamp time.Time `json:"timestamp"`

	// Applied is set once the table has been created or adjusted in the
	// database. Later attempts only read the schema back and register it.
	Applied bool `json:"applied,omitempty"`

	// RetryCount tracks how many times this commit has been retried.
	RetryCount int `json:"retryCount,omitempty"`
}

// CommitQueue defines the interface for queueing committed table
// definitions between the session host and the drainer.
type CommitQueue interface {
	// Enqueue adds a commit to the queue.
	Enqueue(ctx context.Context, operation *CommitOperation) error

	// Dequeue retrieves a batch of commits from the queue.
	// Returns an empty slice if no commits are available.
	Dequeue(ctx context.Context, batchSize int) ([]*CommitOperation, error)

	// Size returns the current number of commits in the queue.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
