package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phuslu/log"
)

// S3Config holds the connection settings for an S3 compatible bucket.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Prefix          string
	UseSSL          bool
	ForcePathStyle  bool

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

func (c *S3Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = time.Minute
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
}

// S3Storage stores export artifacts in an S3 compatible bucket under an
// optional key prefix.
type S3Storage struct {
	client    *minio.Client
	bucket    string
	prefix    string
	transport *http.Transport
}

// NewS3Storage connects to the bucket and verifies it exists before
// returning the store.
func NewS3Storage(cfg *S3Config) (*S3Storage, error) {
	cfg.applyDefaults()

	transport := &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	}
	if cfg.ForcePathStyle {
		// MinIO and most non AWS endpoints want path style addressing
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Str("bucket", cfg.Bucket).
		Str("prefix", cfg.Prefix).
		Msg("S3 storage ready")

	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    strings.TrimSuffix(cfg.Prefix, "/"),
		transport: transport,
	}, nil
}

func (s *S3Storage) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Storage) stripKey(full string) string {
	if s.prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, s.prefix+"/")
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Get streams the artifact from the bucket.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.buildKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}

	// GetObject is lazy, the Stat call is what surfaces a missing key
	stat, err := object.Stat()
	if err != nil {
		_ = object.Close()
		if isNoSuchKey(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	return object, &ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
		ETag:         stat.ETag,
		ContentType:  stat.ContentType,
	}, nil
}

// Put uploads the artifact in a single part. Export artifacts are small
// CSV files, so the size is always known up front.
func (s *S3Storage) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*ObjectInfo, error) {
	upload, err := s.client.PutObject(ctx, s.bucket, s.buildKey(key), reader, size, minio.PutObjectOptions{
		ContentType:      contentType,
		DisableMultipart: true,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("S3 upload failed")
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:         key,
		Size:        upload.Size,
		ETag:        upload.ETag,
		ContentType: contentType,
	}, nil
}

// Delete removes the artifact. Deleting a missing key is not an error,
// matching the local backend.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.buildKey(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the artifact is present.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.buildKey(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Stat returns artifact metadata without downloading the content.
func (s *S3Storage) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, s.buildKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
		ETag:         stat.ETag,
		ContentType:  stat.ContentType,
	}, nil
}

// List returns artifacts whose keys start with opts.Prefix. MaxKeys is
// enforced here as well, the minio option is only a page size hint.
func (s *S3Storage) List(ctx context.Context, opts ListOptions) ([]*ObjectInfo, error) {
	listOpts := minio.ListObjectsOptions{
		Prefix:  s.buildKey(opts.Prefix),
		MaxKeys: opts.MaxKeys,
	}

	var objects []*ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, listOpts) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}

		objects = append(objects, &ObjectInfo{
			Key:          s.stripKey(object.Key),
			Size:         object.Size,
			LastModified: object.LastModified,
			ETag:         object.ETag,
			ContentType:  object.ContentType,
		})
		if opts.MaxKeys > 0 && len(objects) >= opts.MaxKeys {
			break
		}
	}

	return objects, nil
}

// Close drops idle connections held by the transport.
func (s *S3Storage) Close() error {
	if s.transport != nil {
		s.transport.CloseIdleConnections()
	}
	return nil
}
