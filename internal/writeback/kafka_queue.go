package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// KafkaQueue implements core.CommitQueue using Apache Kafka.
// Messages are keyed by table name so commits for the same table land
// on the same partition and keep their order.
type KafkaQueue struct {
	writer      *kafka.Writer
	reader      *kafka.Reader
	topic       string
	groupID     string
	pollTimeout time.Duration
	logger      *slog.Logger

	mu     sync.RWMutex
	closed bool
	size   int // Approximate; Kafka has no cheap exact count
}

// KafkaQueueConfig holds configuration for Kafka queue.
type KafkaQueueConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	RequiredAcks    int // 0, 1, or -1 (all)
	MaxMessageBytes int
	MinBytes        int
	MaxBytes        int
	MaxWait         time.Duration
}

// NewKafkaQueue creates a new Kafka-based commit queue.
func NewKafkaQueue(config KafkaQueueConfig, logger *slog.Logger) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	if config.GroupID == "" {
		config.GroupID = "entity-creator-drainer"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka")

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		ReadTimeout:  config.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		BatchBytes:   int64(config.MaxMessageBytes),
		MaxAttempts:  3,
		Async:        false,
	}

	// New consumer groups start from the beginning of the topic so commits
	// enqueued before the first drainer came up are not skipped.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})

	pollTimeout := config.MaxWait * 10
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}

	logger.Info("kafka queue initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.GroupID,
		"required_acks", config.RequiredAcks,
	)

	return &KafkaQueue{
		writer:      writer,
		reader:      reader,
		topic:       config.Topic,
		groupID:     config.GroupID,
		pollTimeout: pollTimeout,
		logger:      logger,
	}, nil
}

// Enqueue produces a commit to the topic.
func (q *KafkaQueue) Enqueue(ctx context.Context, operation *core.CommitOperation) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if err := prepare(operation); err != nil {
		return err
	}

	data, err := json.Marshal(operation)
	if err != nil {
		return fmt.Errorf("failed to marshal commit operation: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(operation.TableName),
		Value: data,
		Time:  operation.Timestamp,
		Headers: []kafka.Header{
			{Key: "commit_id", Value: []byte(operation.ID)},
			{Key: "session_id", Value: []byte(operation.SessionID)},
		},
	}

	start := time.Now()
	if err := q.writer.WriteMessages(ctx, message); err != nil {
		q.logger.Error("produce failed", "topic", q.topic, "table", operation.TableName, "error", err)
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()

	q.logger.Debug("produced commit",
		"id", operation.ID,
		"table", operation.TableName,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return nil
}

// Dequeue consumes up to batchSize commits. It waits at most the poll
// timeout for each message and returns what it has when the topic is idle.
// Offsets are committed as messages are consumed.
func (q *KafkaQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.CommitOperation, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrQueueClosed
	}

	if batchSize <= 0 {
		batchSize = 100
	}

	operations := make([]*core.CommitOperation, 0, batchSize)
	for len(operations) < batchSize {
		readCtx, cancel := context.WithTimeout(ctx, q.pollTimeout)
		message, err := q.reader.FetchMessage(readCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			q.logger.Error("fetch failed", "topic", q.topic, "error", err)
			return operations, fmt.Errorf("failed to read from Kafka: %w", err)
		}

		var op core.CommitOperation
		if err := json.Unmarshal(message.Value, &op); err != nil {
			q.logger.Warn("dropping undecodable commit",
				"partition", message.Partition,
				"offset", message.Offset,
				"error", err,
			)
		} else {
			operations = append(operations, &op)
		}

		if err := q.reader.CommitMessages(ctx, message); err != nil {
			q.logger.Warn("offset commit failed",
				"partition", message.Partition,
				"offset", message.Offset,
				"error", err,
			)
		}
	}

	if len(operations) > 0 {
		q.mu.Lock()
		q.size = max(q.size-len(operations), 0)
		q.mu.Unlock()

		q.logger.Debug("consumed commits", "count", len(operations), "group", q.groupID)
	}

	return operations, nil
}

// Size returns an approximate number of commits produced by this process
// and not yet consumed by it.
func (q *KafkaQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.size
}

// Close closes the writer and the reader.
func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	writerErr := q.writer.Close()
	if writerErr != nil {
		q.logger.Error("failed to close writer", "error", writerErr)
	}
	if err := q.reader.Close(); err != nil {
		q.logger.Error("failed to close reader", "error", err)
		return err
	}
	return writerErr
}
