package storage

import "context"

// ObjectStorage is the boundary to the blob store holding source documents
// and processing outputs.
type ObjectStorage interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	EnsureBucket(ctx context.Context, bucket string) error
}
