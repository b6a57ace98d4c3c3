package build

import (
	"context"
	"io"
)

// Storage holds the content of infra files keyed by content hash.
// Copied sets share content, so blobs are never deleted through it.
type Storage interface {
	// PutFile stores content and returns its content hash.
	PutFile(ctx context.Context, params *StoragePutFileParams) (contentHash string, err error)

	// OpenFile returns ErrNotFound when no content has the hash.
	OpenFile(ctx context.Context, params *StorageOpenFileParams) (io.ReadCloser, error)
}

type StoragePutFileParams struct {
	Content io.Reader
}

type StorageOpenFileParams struct {
	ContentHash string
}
