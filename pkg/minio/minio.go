package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"appraisal-fulfillment/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient, NewBucket))

func registerClient(c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		// Backups are best-effort; a store that is down at boot must not block intake.
		zap.L().Warn("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
	}
	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client, nil
}

// ObjectPutter is the subset of *minio.Client the bucket needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// Bucket writes objects into the configured backup bucket and returns their public URL.
type Bucket struct {
	client    ObjectPutter
	name      string
	publicURL string
}

func NewBucket(client *minio.Client, c *config.Config) *Bucket {
	return NewBucketWith(client, c.Minio.BucketName, publicBase(c))
}

func NewBucketWith(client ObjectPutter, name, publicURL string) *Bucket {
	return &Bucket{client: client, name: name, publicURL: strings.TrimRight(publicURL, "/")}
}

func (b *Bucket) Name() string { return b.name }

func (b *Bucket) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := b.client.PutObject(ctx, b.name, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s/%s: %w", b.name, key, err)
	}
	return b.URL(key), nil
}

func (b *Bucket) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", b.publicURL, b.name, strings.Join(segments, "/"))
}

func (b *Bucket) Ping(ctx context.Context) error {
	_, err := b.client.BucketExists(ctx, b.name)
	return err
}

func publicBase(c *config.Config) string {
	if c.Minio.PublicURL != "" {
		return c.Minio.PublicURL
	}
	scheme := "http"
	if c.Minio.Secure {
		scheme = "https"
	}
	return scheme + "://" + c.Minio.Endpoint
}
