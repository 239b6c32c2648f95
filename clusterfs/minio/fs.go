// Package minio implements clusterfs.FS on MinIO and other S3-compatible
// servers.
//
// Usage:
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//		Secure: false,
//	})
//	fs := clusterminio.New(client, "refstore", "stores/")
package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/andreyvit/refstore/clusterfs"
)

type FS struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ clusterfs.FS = (*FS)(nil)

// New creates a MinIO-backed FS. rootPrefix is prepended to all keys.
func New(client *minio.Client, bucket, rootPrefix string) *FS {
	return &FS{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (f *FS) key(name string) string {
	return path.Join(f.prefix, name)
}

func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := f.client.StatObject(ctx, f.bucket, f.key(name), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *FS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := f.client.GetObject(ctx, f.bucket, f.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key before the first Read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return nil, clusterfs.ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

func (f *FS) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := f.client.PutObject(ctx, f.bucket, f.key(name), r, -1, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("minio: put %s: %w", name, err)
	}
	return nil
}

// Move copies server-side and removes the source. Racing movers of the
// same immutable payload may both copy; the result is identical.
func (f *FS) Move(ctx context.Context, from, to string) error {
	exists, err := f.Exists(ctx, to)
	if err != nil {
		return err
	}
	if exists {
		return clusterfs.ErrExists
	}
	_, err = f.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: f.bucket, Object: f.key(to)},
		minio.CopySrcOptions{Bucket: f.bucket, Object: f.key(from)},
	)
	if err != nil {
		if isNotFound(err) {
			return clusterfs.ErrNotFound
		}
		return fmt.Errorf("minio: move %s to %s: %w", from, to, err)
	}
	return f.Remove(ctx, from)
}

func (f *FS) Remove(ctx context.Context, name string) error {
	err := f.client.RemoveObject(ctx, f.bucket, f.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (f *FS) List(ctx context.Context, prefix string) ([]string, error) {
	root := strings.TrimSuffix(f.prefix, "/")
	fullPrefix := prefix
	if root != "" {
		fullPrefix = root + "/" + prefix
	}

	var names []string
	for obj := range f.client.ListObjects(ctx, f.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := obj.Key
		if root != "" {
			name = strings.TrimPrefix(strings.TrimPrefix(name, root), "/")
		}
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
