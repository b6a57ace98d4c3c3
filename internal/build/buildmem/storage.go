package buildmem

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/k11v/forge/internal/build"
)

var _ build.Storage = (*Storage)(nil)

type Storage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewStorage() *Storage {
	return &Storage{blobs: make(map[string][]byte)}
}

func (s *Storage) PutFile(ctx context.Context, params *build.StoragePutFileParams) (string, error) {
	b, err := io.ReadAll(params.Content)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	contentHash := "sha256:" + hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[contentHash] = b
	return contentHash, nil
}

func (s *Storage) OpenFile(ctx context.Context, params *build.StorageOpenFileParams) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[params.ContentHash]
	if !ok {
		return nil, build.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
