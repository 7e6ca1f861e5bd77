package writeback

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/entity-creator/internal/core"
)

// MemoryQueue implements core.CommitQueue using a buffered channel.
// Commits are lost when the process exits.
type MemoryQueue struct {
	queue  chan *core.CommitOperation
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a new in-memory commit queue.
// bufferSize is the maximum number of commits that can be buffered.
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	return &MemoryQueue{
		queue: make(chan *core.CommitOperation, bufferSize),
	}
}

// Enqueue adds a commit to the queue without blocking.
func (q *MemoryQueue) Enqueue(ctx context.Context, operation *core.CommitOperation) error {
	if err := prepare(operation); err != nil {
		return err
	}

	// The read lock keeps Close from closing the channel mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.queue <- operation:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Dequeue retrieves up to batchSize commits without blocking.
// Returns commits in the order they were enqueued (FIFO).
func (q *MemoryQueue) Dequeue(ctx context.Context, batchSize int) ([]*core.CommitOperation, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	operations := make([]*core.CommitOperation, 0, batchSize)
	for len(operations) < batchSize {
		select {
		case operation, ok := <-q.queue:
			if !ok {
				return operations, nil
			}
			operations = append(operations, operation)
		case <-ctx.Done():
			return operations, ctx.Err()
		default:
			return operations, nil
		}
	}

	return operations, nil
}

// Size returns the current number of commits in the queue.
func (q *MemoryQueue) Size() int {
	return len(q.queue)
}

// Close closes the queue and prevents further enqueuing.
// Buffered commits can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.queue)
	return nil
}
