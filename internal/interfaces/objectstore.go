package interfaces

import (
	"context"
	"io"
	"time"
)

// ObjectInfo - metadata for one stored object
type ObjectInfo struct {
	Key       string
	SizeBytes int64
}

// ObjectStore - byte storage behind the pipeline. Implementations persist to
// the local filesystem or to S3; callers never see which.
type ObjectStore interface {
	// Put writes the full object atomically. Readers never observe a
	// partially written object under the key.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)

	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Exists reports whether the key holds an object, without treating a
	// missing key as an error.
	Exists(ctx context.Context, key string) (bool, error)

	// Copy duplicates src under dst within the store.
	Copy(ctx context.Context, src, dst string) error

	Delete(ctx context.Context, key string) error

	// DeleteMany removes the given keys in one pass. Missing keys are
	// ignored.
	DeleteMany(ctx context.Context, keys []string) error

	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// ListPage returns up to limit objects under prefix that sort after
	// token, plus the continuation token for the next page. An empty
	// returned token means the listing is complete.
	ListPage(ctx context.Context, prefix, token string, limit int) ([]ObjectInfo, string, error)

	// PresignedURL returns a time-limited direct download URL for the key.
	// Backends without URL signing fail with a typed sentinel so callers
	// can fall back to streaming.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Strategy names the backend ("filesystem" or "s3") for API responses.
	Strategy() string
}
