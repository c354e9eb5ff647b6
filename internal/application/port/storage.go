package port

import (
	"context"
	"time"
)

// ObjectStorage defines content storage operations. Paths are relative keys;
// Put returns a stable URL for the stored object.
type ObjectStorage interface {
	Put(ctx context.Context, path string, content []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) bool
	Presign(ctx context.Context, path string, ttl time.Duration) (string, error)
}
