package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

var ErrNotFound = errors.New("object not found")

type Object struct {
	Name string
	Size int64
}

// Provider is the blob store used to publish trained artifacts and to fetch
// them back for serving.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	// GetObject returns ErrNotFound when the key does not exist.
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// ArtifactKey joins a folder and file name the way keys are laid out in the
// artifact bucket.
func ArtifactKey(folder, name string) string {
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}
