// Package submit implements the fire-and-forget submission sink: three
// event kinds (new-host, fetched-document, rendered-document), retried up
// to API_RETRY times against a pluggable Transport, falling back to a
// local JSON file on exhaustion.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duskcrawl/duskcrawl/internal/link"
	"github.com/duskcrawl/duskcrawl/internal/store"
)

// EventKind names one of the three submission events.
type EventKind string

const (
	NewHost          EventKind = "new-host"
	FetchedDocument  EventKind = "fetched-document"
	RenderedDocument EventKind = "rendered-document"
)

// Event is the JSON payload posted/published for one submission.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	URL       string         `json:"url"`
	Hash      string         `json:"hash"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Transport delivers one event kind. Implementations: httptransport (POST
// to a configured endpoint) and pubsubtransport (publish to a topic).
type Transport interface {
	Send(ctx context.Context, kind EventKind, event Event) error
}

// Sink is the submission sink used by the fetch/render workers. It retries
// each send up to maxRetries times and, on exhaustion, writes the event as
// JSON under {PATH_DATA}/api/ via the artifact store (P8).
type Sink struct {
	transport  Transport
	artifacts  *store.Artifacts
	maxRetries int
}

// New builds a Sink. transport may be nil, in which case every event falls
// straight to the local fallback, matching the spec's "null endpoint"
// configuration.
func New(transport Transport, artifacts *store.Artifacts, maxRetries int) *Sink {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Sink{transport: transport, artifacts: artifacts, maxRetries: maxRetries}
}

// NewHostEvent reports that host has been onboarded.
func (s *Sink) NewHostEvent(ctx context.Context, l link.Link) error {
	return s.emit(ctx, Event{Kind: NewHost, Timestamp: time.Now().UTC(), URL: l.URL, Hash: l.Hash.String()})
}

// FetchedDocumentEvent reports a completed fetch.
func (s *Sink) FetchedDocumentEvent(ctx context.Context, l link.Link, statusCode int, contentType string) error {
	return s.emit(ctx, Event{
		Kind: FetchedDocument, Timestamp: time.Now().UTC(), URL: l.URL, Hash: l.Hash.String(),
		Metadata: map[string]any{"status_code": statusCode, "content_type": contentType},
	})
}

// RenderedDocumentEvent reports a completed render.
func (s *Sink) RenderedDocumentEvent(ctx context.Context, l link.Link, htmlLen int) error {
	return s.emit(ctx, Event{
		Kind: RenderedDocument, Timestamp: time.Now().UTC(), URL: l.URL, Hash: l.Hash.String(),
		Metadata: map[string]any{"html_bytes": htmlLen},
	})
}

func (s *Sink) emit(ctx context.Context, event Event) error {
	if s.transport != nil {
		var lastErr error
		for attempt := 0; attempt <= s.maxRetries; attempt++ {
			if err := s.transport.Send(ctx, event.Kind, event); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		_ = lastErr // exhausted retries; fall through to local fallback
	}
	return s.localFallback(ctx, event)
}

func (s *Sink) localFallback(ctx context.Context, event Event) error {
	if s.artifacts == nil {
		return fmt.Errorf("submission transport exhausted and no local fallback configured")
	}
	payload, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal submission event: %w", err)
	}
	day := event.Timestamp.Format("2006-01-02")
	path := fmt.Sprintf("api/%s/%s-%s.json", day, event.Kind, event.Hash)
	if _, err := s.artifacts.PutRaw(ctx, path, payload); err != nil {
		return fmt.Errorf("write submission fallback: %w", err)
	}
	return nil
}
