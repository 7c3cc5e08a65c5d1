// Package pubsubtransport implements submit.Transport by publishing each
// event kind to its own Cloud Pub/Sub topic, an alternate to posting to an
// HTTP endpoint for deployments already wired into GCP messaging.
package pubsubtransport

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/duskcrawl/duskcrawl/internal/submit"
)

// Topics maps each event kind to its Pub/Sub topic.
type Topics struct {
	NewHost          *pubsub.Topic
	FetchedDocument  *pubsub.Topic
	RenderedDocument *pubsub.Topic
}

// Transport publishes events to their configured topic.
type Transport struct {
	topics Topics
}

// New builds a Pub/Sub transport with the given per-kind topics.
func New(topics Topics) *Transport {
	return &Transport{topics: topics}
}

func (t *Transport) topicFor(kind submit.EventKind) *pubsub.Topic {
	switch kind {
	case submit.NewHost:
		return t.topics.NewHost
	case submit.FetchedDocument:
		return t.topics.FetchedDocument
	case submit.RenderedDocument:
		return t.topics.RenderedDocument
	default:
		return nil
	}
}

// Send publishes event's JSON payload to the topic configured for kind.
func (t *Transport) Send(ctx context.Context, kind submit.EventKind, event submit.Event) error {
	topic := t.topicFor(kind)
	if topic == nil {
		return fmt.Errorf("pubsubtransport: no topic configured for %s", kind)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

var _ submit.Transport = (*Transport)(nil)
