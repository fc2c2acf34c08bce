// Package s3 implements internal/objectstore.Store over an S3-compatible
// bucket via minio-go, for multi-node deployments (spec.md §4.D: "uploads to
// object storage").
package s3

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"go.obscore.dev/obscore/internal/objectstore"
)

func init() {
	objectstore.Register("s3", func(ctx context.Context, u *url.URL) (objectstore.Store, error) {
		cfg := Config{
			Endpoint:  u.Host,
			Bucket:    strings.TrimPrefix(u.Path, "/"),
			AccessKey: os.Getenv("OBSCORE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("OBSCORE_S3_SECRET_KEY"),
			UseSSL:    u.Query().Get("ssl") != "false",
		}
		return New(ctx, cfg)
	})
}

// Config holds the connection parameters parsed from an s3:// URL.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store is an S3-compatible objectstore.Store.
type Store struct {
	client *minio.Client
	bucket string
}

// New dials endpoint and returns a Store over cfg.Bucket, creating the
// bucket if it does not already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, objectstore.ErrObjectStore.Wrap(err)
		}
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under key, refusing to overwrite an existing object since
// partitions are immutable once written (spec.md §6).
func (s *Store) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return objectstore.ErrExists.New("%s", key)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, data, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return objectstore.ErrObjectStore.Wrap(err)
	}
	return nil
}

// Get returns a reader over key, optionally restricted to r.
func (s *Store) Get(ctx context.Context, key string, r *objectstore.Range) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if r != nil && r.Length > 0 {
		if err := opts.SetRange(r.Offset, r.Offset+r.Length-1); err != nil {
			return nil, objectstore.ErrObjectStore.Wrap(err)
		}
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	if _, err := obj.Stat(); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, objectstore.ErrNotFound.New("%s", key)
		}
		return nil, objectstore.ErrObjectStore.Wrap(err)
	}
	return obj, nil
}

// List returns every key under the bucket with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, objectstore.ErrObjectStore.Wrap(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil
		}
		return objectstore.ErrObjectStore.Wrap(err)
	}
	return nil
}
