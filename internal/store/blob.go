package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"nexus.app/ingest/core/config"
)

type minioBlobStore struct {
	client *minio.Client
	bucket string
}

// NewBlobStore connects to the object store and ensures the bucket exists.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig) (BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket: %w", err)
		}
	}

	return &minioBlobStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *minioBlobStore) Put(ctx context.Context, key string, content []byte, contentType string) error {
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("putting blob %s: %w", key, err)
	}
	return nil
}

func (s *minioBlobStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("getting blob %s: %w", key, err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("reading blob %s: %w", key, err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return content, "text/plain; charset=utf-8", nil
	}
	return content, stat.ContentType, nil
}

func (s *minioBlobStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing blob %s: %w", key, err)
	}
	return nil
}
