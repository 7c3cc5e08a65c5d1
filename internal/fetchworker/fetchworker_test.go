package fetchworker

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duskcrawl/duskcrawl/internal/filter"
	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/frontier/memstore"
	"github.com/duskcrawl/duskcrawl/internal/link"
	"github.com/duskcrawl/duskcrawl/internal/robots"
	"github.com/duskcrawl/duskcrawl/internal/sitehook"
	"github.com/duskcrawl/duskcrawl/internal/store"
	"github.com/duskcrawl/duskcrawl/internal/store/localblob"
	"github.com/duskcrawl/duskcrawl/internal/submit"
	"github.com/duskcrawl/duskcrawl/internal/transport"
)

func allowAllGates(t *testing.T) *filter.Gates {
	t.Helper()
	g, err := filter.New(
		filter.Config{Fallback: true},
		filter.Config{Fallback: true},
		filter.Config{Fallback: true},
	)
	require.NoError(t, err)
	return g
}

func newArtifacts(t *testing.T) *store.Artifacts {
	t.Helper()
	blob, err := localblob.New(t.TempDir())
	require.NoError(t, err)
	return store.New(blob)
}

func htmlSession(body string, status int) transport.FetchSessionFunc {
	return func(_ context.Context, url string, _ time.Duration) (transport.Response, error) {
		if status == 0 {
			status = http.StatusOK
		}
		return transport.Response{
			StatusCode: status,
			Headers:    http.Header{"Content-Type": []string{"text/html"}},
			FinalURL:   url,
			Body:       []byte(body),
		}, nil
	}
}

func registryWithNullFetch(session transport.FetchSessionFunc) *transport.Registry {
	reg := transport.NewRegistry()
	reg.Register(link.ProxyNull, transport.Entry{
		Fetch: func() (transport.FetchSession, error) { return session, nil },
	})
	return reg
}

func newWorker(t *testing.T, transports *transport.Registry) (*Worker, frontier.Store) {
	t.Helper()
	fs := memstore.New()
	w := &Worker{
		Frontier:     fs,
		Gates:        allowAllGates(t),
		Robots:       robots.New(time.Hour, true, "duskcrawl/1.0"),
		Transports:   transports,
		SiteHooks:    sitehook.NewRegistry(),
		Artifacts:    newArtifacts(t),
		Submit:       submit.New(nil, newArtifacts(t), 0),
		Logger:       zap.NewNop(),
		TimeCache:    time.Hour,
		LockTimeout:  time.Second,
		FetchTimeout: 500 * time.Millisecond,
		Force:        true,
	}
	return w, fs
}

func newRecord(t *testing.T, rawURL string) frontier.Record {
	t.Helper()
	l, err := link.Parse(rawURL)
	require.NoError(t, err)
	return frontier.Record{Link: l}
}

func TestWorker_Process_FetchesAndPromotesToRender(t *testing.T) {
	t.Parallel()

	w, fs := newWorker(t, registryWithNullFetch(htmlSession("<html><body>hi</body></html>", http.StatusOK)))
	rec := newRecord(t, "http://example.com/page")

	require.NoError(t, w.Process(context.Background(), rec))

	recs, err := fs.Pop(context.Background(), frontier.PendingRender, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, rec.Link.Hash, recs[0].Hash)

	_, ok, err := fs.LastVisit(context.Background(), rec.Link.Hash, frontier.Fetched)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWorker_Process_ServerErrorRequeuesFetch(t *testing.T) {
	t.Parallel()

	w, fs := newWorker(t, registryWithNullFetch(htmlSession("oops", http.StatusInternalServerError)))
	rec := newRecord(t, "http://example.com/page")

	require.NoError(t, w.Process(context.Background(), rec))

	// The requeued entry carries a TimeCache backoff, so Pop would not
	// return it yet; count it through Stats instead.
	stats, err := fs.(frontier.StatsProvider).Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingFetch)

	renderRecs, err := fs.Pop(context.Background(), frontier.PendingRender, 10)
	require.NoError(t, err)
	require.Empty(t, renderRecs)
}

func TestWorker_Process_SkipsFreshVisit(t *testing.T) {
	t.Parallel()

	calls := 0
	session := transport.FetchSessionFunc(func(ctx context.Context, url string, timeout time.Duration) (transport.Response, error) {
		calls++
		return htmlSession("<html></html>", http.StatusOK)(ctx, url, timeout)
	})
	w, fs := newWorker(t, registryWithNullFetch(session))
	rec := newRecord(t, "http://example.onion/page")

	require.NoError(t, fs.RecordVisit(context.Background(), rec.Link.Hash, frontier.Fetched, time.Now().UTC()))
	require.NoError(t, w.Process(context.Background(), rec))
	require.Equal(t, 0, calls)
}

func TestWorker_Process_NonHTMLSkipsExtraction(t *testing.T) {
	t.Parallel()

	session := transport.FetchSessionFunc(func(_ context.Context, url string, _ time.Duration) (transport.Response, error) {
		return transport.Response{
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": []string{"application/pdf"}},
			FinalURL:   url,
			Body:       []byte("%PDF-1.4 ..."),
		}, nil
	})
	w, fs := newWorker(t, registryWithNullFetch(session))
	rec := newRecord(t, "http://example.com/doc.pdf")

	require.NoError(t, w.Process(context.Background(), rec))

	recs, err := fs.Pop(context.Background(), frontier.PendingRender, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestWorker_Process_UnknownProxyDropsFromQueue(t *testing.T) {
	t.Parallel()

	w, fs := newWorker(t, transport.NewRegistry())
	rec := newRecord(t, "http://example.onion/page")

	require.NoError(t, w.Process(context.Background(), rec))

	recs, err := fs.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}
