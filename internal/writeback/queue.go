package writeback

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/entity-creator/internal/core"
	"github.com/rzpsarthak13/entity-creator/internal/registry"
)

var (
	// ErrQueueClosed is returned when using a closed queue.
	ErrQueueClosed = errors.New("commit queue is closed")

	// ErrQueueFull is returned when a bounded queue cannot accept more commits.
	ErrQueueFull = errors.New("commit queue is full")

	// ErrInvalidOperation is returned when an invalid commit is provided.
	ErrInvalidOperation = errors.New("invalid commit operation")
)

// New creates the commit queue selected by cfg.QueueType.
// The redis queue requires kvStore to implement ListOperations.
func New(cfg registry.InternalCommitConfig, kvStore core.KVStore, logger *slog.Logger) (core.CommitQueue, error) {
	switch cfg.QueueType {
	case "", "memory":
		return NewMemoryQueue(cfg.QueueBufferSize), nil
	case "redis":
		q, err := NewRedisQueue(kvStore, "", logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "kafka":
		k := cfg.KafkaConfig
		q, err := NewKafkaQueue(KafkaQueueConfig{
			Brokers:         k.Brokers,
			Topic:           k.Topic,
			GroupID:         k.GroupID,
			BatchSize:       k.BatchSize,
			BatchTimeout:    k.BatchTimeout,
			WriteTimeout:    k.WriteTimeout,
			ReadTimeout:     k.ReadTimeout,
			RequiredAcks:    k.RequiredAcks,
			MaxMessageBytes: k.MaxMessageBytes,
			MinBytes:        k.MinBytes,
			MaxBytes:        k.MaxBytes,
			MaxWait:         k.MaxWait,
		}, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported commit queue type: %s", cfg.QueueType)
	}
}

// prepare validates op and fills in its ID and timestamp.
func prepare(op *core.CommitOperation) error {
	if op == nil {
		return ErrInvalidOperation
	}
	if op.TableName == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidOperation)
	}
	if op.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidOperation)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	return nil
}
