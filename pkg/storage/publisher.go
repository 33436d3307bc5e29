package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Publisher writes objects to durable storage and mints time-limited read URLs.
// Keys are opaque; callers own the key layout.
type Publisher interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	SignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}
