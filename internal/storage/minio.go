package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dermashare/backend/internal/config"
	"github.com/dermashare/backend/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOClient wraps two buckets: the main image bucket holding user
// namespaces and the segmented bucket written by the external processor.
type MinIOClient struct {
	client          *minio.Client
	bucket          string
	segmentedBucket string
	urlExpiry       time.Duration
}

func NewMinIOClient(cfg config.MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{
		client:          client,
		bucket:          cfg.Bucket,
		segmentedBucket: cfg.SegmentedBucket,
		urlExpiry:       cfg.SignedURLExpiry,
	}, nil
}

func (m *MinIOClient) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		logger.Error("minio_put_failed", err, map[string]interface{}{
			"key":          key,
			"size":         size,
			"content_type": contentType,
			"bucket":       m.bucket,
		})
		return err
	}
	logger.Info("minio_put_success", map[string]interface{}{
		"key":    key,
		"size":   size,
		"bucket": m.bucket,
	})
	return nil
}

func (m *MinIOClient) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		logger.Error("minio_get_failed", err, map[string]interface{}{
			"key":    key,
			"bucket": m.bucket,
		})
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		logger.Error("minio_get_read_failed", err, map[string]interface{}{
			"key":    key,
			"bucket": m.bucket,
		})
		return nil, err
	}
	return data, nil
}

// Copy performs a server-side copy inside the main bucket.
func (m *MinIOClient) Copy(ctx context.Context, src, dst string) error {
	return m.copyObject(ctx, m.bucket, src, dst)
}

// CopyDerived copies an externally produced derived image from the
// segmented bucket into the main bucket.
func (m *MinIOClient) CopyDerived(ctx context.Context, derivedKey, dst string) error {
	return m.copyObject(ctx, m.segmentedBucket, derivedKey, dst)
}

func (m *MinIOClient) copyObject(ctx context.Context, srcBucket, src, dst string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: srcBucket, Object: src},
	)
	if err != nil {
		logger.Error("minio_copy_failed", err, map[string]interface{}{
			"src":        src,
			"dst":        dst,
			"src_bucket": srcBucket,
		})
		return err
	}
	logger.Info("minio_copy_success", map[string]interface{}{
		"src":        src,
		"dst":        dst,
		"src_bucket": srcBucket,
	})
	return nil
}

func (m *MinIOClient) Exists(ctx context.Context, key string) (bool, error) {
	return m.statObject(ctx, m.bucket, key)
}

func (m *MinIOClient) DerivedExists(ctx context.Context, derivedKey string) (bool, error) {
	return m.statObject(ctx, m.segmentedBucket, derivedKey)
}

func (m *MinIOClient) statObject(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every key under prefix, in listing order.
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			logger.Error("minio_list_failed", obj.Err, map[string]interface{}{
				"prefix": prefix,
				"bucket": m.bucket,
			})
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// ListDir performs a one-level delimiter listing: root-level keys plus the
// names of immediate subfolders (trailing slash stripped).
func (m *MinIOClient) ListDir(ctx context.Context, prefix string) (keys []string, folders []string, err error) {
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			logger.Error("minio_listdir_failed", obj.Err, map[string]interface{}{
				"prefix": prefix,
				"bucket": m.bucket,
			})
			return nil, nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			folder := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
			folders = append(folders, folder)
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, folders, nil
}

func (m *MinIOClient) SignedURL(ctx context.Context, key string) (string, error) {
	urlValue, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.urlExpiry, nil)
	if err != nil {
		return "", err
	}
	return urlValue.String(), nil
}

func (m *MinIOClient) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{m.bucket, m.segmentedBucket} {
		exists, err := m.client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed creating bucket %s: %w", bucket, err)
		}
	}
	return nil
}
