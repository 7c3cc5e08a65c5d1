package httptransport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskcrawl/duskcrawl/internal/submit"
)

func TestTransport_SendPostsToConfiguredEndpoint(t *testing.T) {
	t.Parallel()

	var received submit.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := New(Endpoints{NewHost: srv.URL}, time.Second)
	event := submit.Event{Kind: submit.NewHost, URL: "http://example.onion/", Hash: "abc123"}

	require.NoError(t, tr.Send(t.Context(), submit.NewHost, event))
	require.Equal(t, "abc123", received.Hash)
}

func TestTransport_SendErrorsOnUnconfiguredEndpoint(t *testing.T) {
	t.Parallel()

	tr := New(Endpoints{NewHost: "http://example.invalid/new-host"}, time.Second)
	err := tr.Send(t.Context(), submit.FetchedDocument, submit.Event{Kind: submit.FetchedDocument})
	require.Error(t, err)
}

func TestTransport_SendErrorsOnNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := New(Endpoints{RenderedDocument: srv.URL}, time.Second)
	err := tr.Send(t.Context(), submit.RenderedDocument, submit.Event{Kind: submit.RenderedDocument})
	require.Error(t, err)
}
