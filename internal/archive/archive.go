// Package archive stores export snapshots in object storage. Its one job is
// backing the export-then-confirm ritual: before a clear-all wipes the
// record collection, the CSV snapshot of everything about to be deleted is
// written here.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"telar/api/internal/export"
)

// Store wraps a bucket on an S3-compatible server.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Snapshot stores an export result under a timestamped key and returns the
// object name.
func (s *Store) Snapshot(ctx context.Context, result *export.Result) (string, error) {
	name := "snapshots/" + time.Now().UTC().Format("20060102T150405Z") + "-" + result.Filename
	_, err := s.client.PutObject(ctx, s.bucket, name,
		bytes.NewReader(result.Data), int64(len(result.Data)),
		minio.PutObjectOptions{ContentType: result.MimeType})
	if err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", name, err)
	}
	return name, nil
}
