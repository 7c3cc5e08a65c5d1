// Package gcsblob implements store.BlobStore against a Google Cloud
// Storage bucket, an alternate to localblob for deployments that want
// artifacts off the local disk.
package gcsblob

import (
	"bytes"
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// BlobStore writes artifacts as objects under bucket, optionally prefixed.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New connects to bucket using Application Default Credentials and
// verifies access by reading its attributes.
func New(ctx context.Context, bucket, prefix string) (*BlobStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("access gcs bucket %q: %w", bucket, err)
	}
	return &BlobStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// newWithClient builds a BlobStore around an already-constructed client,
// skipping the bucket-access check — used by tests to point at a fake GCS
// JSON API server via option.WithEndpoint.
func newWithClient(client *storage.Client, bucket, prefix string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *BlobStore) objectName(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

// Put uploads data to an object named path (prefixed).
func (s *BlobStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	name := s.objectName(path)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Append reads the current object (if any), appends line, and rewrites it.
// GCS objects are immutable once finalized, so append-only sink files pay
// a read-modify-write cost; this is acceptable for the low-volume sink and
// link-hash logs this store is used for.
func (s *BlobStore) Append(ctx context.Context, path string, line string) error {
	name := s.objectName(path)
	obj := s.client.Bucket(s.bucket).Object(name)

	var existing []byte
	if r, err := obj.NewReader(ctx); err == nil {
		buf := new(bytes.Buffer)
		if _, copyErr := buf.ReadFrom(r); copyErr == nil {
			existing = buf.Bytes()
		}
		r.Close()
	}

	existing = append(existing, []byte(line+"\n")...)
	w := obj.NewWriter(ctx)
	if _, err := w.Write(existing); err != nil {
		w.Close()
		return fmt.Errorf("append gcs object %s: %w", name, err)
	}
	return w.Close()
}

// Close releases the underlying client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}
