package writeback

import (
	"context"
)

// ListOperations is what the list-backed commit queue needs from a KV
// store on top of core.KVStore. RedisKVStore and MemoryKVStore have it;
// DynamoDBKVStore does not.
type ListOperations interface {
	// ListPush appends value to the list at key (RPUSH).
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop removes and returns the head of the list (LPOP), or nil
	// when the list is empty.
	ListPop(ctx context.Context, key string) ([]byte, error)

	// ListLength returns the number of elements in the list (LLEN).
	ListLength(ctx context.Context, key string) (int64, error)
}
