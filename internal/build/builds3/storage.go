// Package builds3 implements build.Storage on S3-compatible object storage.
package builds3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/k11v/forge/internal/build"
	"github.com/k11v/forge/internal/s3util"
)

var _ build.Storage = (*Storage)(nil)

const contentHashPrefix = "sha256:"

type Storage struct {
	client *s3.Client

	// uploadPartSize should be greater than or equal 5MB.
	// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
	uploadPartSize int
}

// NewStorage creates a new Storage using the provided connection string.
// It panics if the connection string is not a valid URL.
func NewStorage(connectionString string) *Storage {
	return &Storage{
		client:         s3util.NewClient(connectionString),
		uploadPartSize: 10 * 1024 * 1024, // 10MB
	}
}

// PutFile uploads content under a staging key while hashing it
// and then moves it to its content-addressed key.
func (s *Storage) PutFile(ctx context.Context, params *build.StoragePutFileParams) (string, error) {
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = int64(s.uploadPartSize)
	})

	h := sha256.New()
	stagingKey := path.Join("staging", uuid.NewString())
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s3util.BucketName,
		Key:    &stagingKey,
		Body:   io.TeeReader(params.Content, h),
	})
	if err != nil {
		if apiErr := smithy.APIError(nil); errors.As(err, &apiErr) && apiErr.ErrorCode() == "EntityTooLarge" {
			err = errors.Join(build.ErrFileTooLarge, err)
		}
		return "", fmt.Errorf("builds3.Storage: %w", err)
	}
	defer s.deleteStaging(stagingKey)

	contentHash := contentHashPrefix + hex.EncodeToString(h.Sum(nil))
	key := contentKey(contentHash)
	copySource := url.PathEscape(s3util.BucketName + "/" + stagingKey)
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &s3util.BucketName,
		Key:        &key,
		CopySource: &copySource,
	})
	if err != nil {
		return "", fmt.Errorf("builds3.Storage: %w", err)
	}

	err = s3.NewObjectExistsWaiter(s.client).Wait(ctx, &s3.HeadObjectInput{
		Bucket: &s3util.BucketName,
		Key:    &key,
	}, time.Minute)
	if err != nil {
		return "", fmt.Errorf("builds3.Storage: %w", err)
	}

	return contentHash, nil
}

func (s *Storage) OpenFile(ctx context.Context, params *build.StorageOpenFileParams) (io.ReadCloser, error) {
	if !strings.HasPrefix(params.ContentHash, contentHashPrefix) {
		return nil, build.ErrNotFound
	}

	key := contentKey(params.ContentHash)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s3util.BucketName,
		Key:    &key,
	})
	if err != nil {
		if noSuchKeyErr := (*types.NoSuchKey)(nil); errors.As(err, &noSuchKeyErr) {
			return nil, build.ErrNotFound
		}
		return nil, fmt.Errorf("builds3.Storage: %w", err)
	}
	return out.Body, nil
}

func (s *Storage) deleteStaging(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s3util.BucketName,
		Key:    &key,
	})
}

func contentKey(contentHash string) string {
	return path.Join("content", "sha256", strings.TrimPrefix(contentHash, contentHashPrefix))
}
