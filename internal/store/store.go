package store

import "context"

// BlobStore is the minimal object-storage contract artifact persistence is
// built on; localblob and gcsblob each implement it.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) (uri string, err error)
	Append(ctx context.Context, path string, line string) error
}
