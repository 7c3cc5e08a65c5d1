package sitehook

import (
	"context"
	"errors"
	"testing"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

func TestRegistry_LookupFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	hooks := r.Lookup("unregistered.onion")
	if hooks.Fetch == nil || hooks.Render == nil {
		t.Fatal("expected the default hooks pair for an unregistered host")
	}
}

func TestRegistry_RegisterOverridesDefault(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	custom := Hooks{Fetch: DefaultFetch, Render: DefaultRender}
	r.Register("special.onion", custom)

	hooks := r.Lookup("special.onion")
	if hooks.Fetch == nil || hooks.Render == nil {
		t.Fatal("expected registered hooks for special.onion")
	}
}

type fakeAppender struct {
	family string
	url    string
	err    error
}

func (f *fakeAppender) Append(_ context.Context, family, rawURL string) error {
	f.family = family
	f.url = rawURL
	return f.err
}

func TestSink_RecordsAndSignalsDrop(t *testing.T) {
	t.Parallel()

	appender := &fakeAppender{}
	l := link.Link{Proxy: link.ProxyMail, URL: "mailto:user@example.com"}

	err := Sink(context.Background(), appender, l)
	if !errors.Is(err, ErrLinkNoReturn) {
		t.Fatalf("Sink() error = %v, want ErrLinkNoReturn", err)
	}
	if appender.family != string(link.ProxyMail) || appender.url != l.URL {
		t.Errorf("appender received (%q, %q), want (%q, %q)", appender.family, appender.url, link.ProxyMail, l.URL)
	}
}

func TestSink_PropagatesAppendError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("disk full")
	appender := &fakeAppender{err: wantErr}
	l := link.Link{Proxy: link.ProxyTel, URL: "tel:+15551234567"}

	err := Sink(context.Background(), appender, l)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Sink() error = %v, want %v", err, wantErr)
	}
}
