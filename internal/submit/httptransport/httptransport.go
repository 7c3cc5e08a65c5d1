// Package httptransport implements submit.Transport by POSTing each event
// kind's JSON payload to its configured endpoint.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/duskcrawl/duskcrawl/internal/submit"
)

// Endpoints maps each event kind to its API endpoint URL. An empty URL for
// a kind means "not configured"; Send returns an error for it, which the
// caller's retry/fallback logic will catch.
type Endpoints struct {
	NewHost          string
	FetchedDocument  string
	RenderedDocument string
}

// Transport POSTs events to their configured endpoint.
type Transport struct {
	client    *http.Client
	endpoints Endpoints
}

// New builds an HTTP transport with the given per-kind endpoints.
func New(endpoints Endpoints, timeout time.Duration) *Transport {
	return &Transport{
		client:    &http.Client{Timeout: timeout},
		endpoints: endpoints,
	}
}

func (t *Transport) endpointFor(kind submit.EventKind) string {
	switch kind {
	case submit.NewHost:
		return t.endpoints.NewHost
	case submit.FetchedDocument:
		return t.endpoints.FetchedDocument
	case submit.RenderedDocument:
		return t.endpoints.RenderedDocument
	default:
		return ""
	}
}

// Send POSTs event's JSON body to the endpoint configured for kind.
func (t *Transport) Send(ctx context.Context, kind submit.EventKind, event submit.Event) error {
	url := t.endpointFor(kind)
	if url == "" {
		return fmt.Errorf("httptransport: no endpoint configured for %s", kind)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ submit.Transport = (*Transport)(nil)
