package gcsblob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestBlobStore points a BlobStore at a fake GCS JSON API server,
// mirroring the teacher's httptest-based GCSProvider tests.
func newTestBlobStore(t *testing.T, handler http.Handler, prefix string) (*BlobStore, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client, err := gcs.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return newWithClient(client, "test-bucket", prefix), server.Close
}

func TestBlobStorePutUploadsObject(t *testing.T) {
	const path = "example.com/deadbeef.html"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "<html></html>")
		fmt.Fprintf(w, `{"name": %q}`, path)
	})

	store, cleanup := newTestBlobStore(t, handler, "")
	defer cleanup()

	uri, err := store.Put(context.Background(), path, []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+path, uri)
}

func TestBlobStorePutAppliesPrefix(t *testing.T) {
	var gotObjectName string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotObjectName = r.URL.Query().Get("name")
		fmt.Fprintln(w, `{"name": "ok"}`)
	})

	store, cleanup := newTestBlobStore(t, handler, "artifacts")
	defer cleanup()

	_, err := store.Put(context.Background(), "example.com/x.html", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "artifacts/example.com/x.html", gotObjectName)
}

func TestBlobStorePutError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store, cleanup := newTestBlobStore(t, handler, "")
	defer cleanup()

	_, err := store.Put(context.Background(), "example.com/x.html", []byte("data"))
	assert.Error(t, err)
}
