package builds3

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/k11v/forge/internal/build"
	"github.com/k11v/forge/internal/s3test"
)

func TestStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	storage := NewTestStorage(t, ctx)

	t.Run("puts and opens files by content hash", func(t *testing.T) {
		contentHash, err := storage.PutFile(ctx, &build.StoragePutFileParams{Content: strings.NewReader("FROM alpine:3.20\n")})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !strings.HasPrefix(contentHash, contentHashPrefix) {
			t.Fatalf("got %q, want %s prefix", contentHash, contentHashPrefix)
		}

		rc, err := storage.OpenFile(ctx, &build.StorageOpenFileParams{ContentHash: contentHash})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		defer rc.Close()
		content := new(bytes.Buffer)
		if _, err = content.ReadFrom(rc); err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := content.String(), "FROM alpine:3.20\n"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})

	t.Run("stores equal contents once", func(t *testing.T) {
		a, err := storage.PutFile(ctx, &build.StoragePutFileParams{Content: strings.NewReader("apples")})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		b, err := storage.PutFile(ctx, &build.StoragePutFileParams{Content: strings.NewReader("apples")})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if a != b {
			t.Fatalf("got %q and %q, want equal", a, b)
		}
	})

	t.Run("doesn't open unknown contents", func(t *testing.T) {
		_, err := storage.OpenFile(ctx, &build.StorageOpenFileParams{ContentHash: contentHashPrefix + strings.Repeat("0", 64)})
		if !errors.Is(err, build.ErrNotFound) {
			t.Fatalf("got %v, want %v", err, build.ErrNotFound)
		}
	})

	t.Run("puts empty files", func(t *testing.T) {
		contentHash, err := storage.PutFile(ctx, &build.StoragePutFileParams{Content: strings.NewReader("")})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if got, want := contentHash, contentHashPrefix+"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
}

func NewTestStorage(tb testing.TB, ctx context.Context) *Storage {
	tb.Helper()

	connectionString, teardown, err := s3test.Setup(ctx)
	tb.Cleanup(func() {
		if err := teardown(); err != nil {
			tb.Errorf("didn't want %q", err)
		}
	})
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	return NewStorage(connectionString)
}
