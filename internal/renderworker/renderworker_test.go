package renderworker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duskcrawl/duskcrawl/internal/filter"
	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/frontier/memstore"
	"github.com/duskcrawl/duskcrawl/internal/link"
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

func newRecord(t *testing.T, rawURL string) frontier.Record {
	t.Helper()
	l, err := link.Parse(rawURL)
	require.NoError(t, err)
	return frontier.Record{Link: l}
}

func newWorker(t *testing.T, transports *transport.Registry, hooks *sitehook.Registry) (*Worker, frontier.Store) {
	t.Helper()
	fs := memstore.New()
	w := &Worker{
		Frontier:    fs,
		Gates:       allowAllGates(t),
		Transports:  transports,
		SiteHooks:   hooks,
		Artifacts:   newArtifacts(t),
		Submit:      submit.New(nil, newArtifacts(t), 0),
		Logger:      zap.NewNop(),
		TimeCache:   time.Hour,
		LockTimeout: time.Second,
		SEWait:      10 * time.Millisecond,
	}
	return w, fs
}

func registryWithNullRender(load transport.RenderDriverFunc) *transport.Registry {
	reg := transport.NewRegistry()
	reg.Register(link.ProxyNull, transport.Entry{
		Render: func() (transport.RenderDriver, error) { return load, nil },
	})
	return reg
}

func TestWorker_Process_RendersAndRecordsVisit(t *testing.T) {
	t.Parallel()

	load := transport.RenderDriverFunc(func(_ context.Context, _ string, _ time.Duration) (string, []byte, error) {
		return "<html><body>hi</body></html>", []byte("png-bytes"), nil
	})
	w, fs := newWorker(t, registryWithNullRender(load), sitehook.NewRegistry())

	rec := newRecord(t, "http://example.com/page")
	require.NoError(t, w.Process(context.Background(), rec))

	_, ok, err := fs.LastVisit(context.Background(), rec.Link.Hash, frontier.Rendered)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWorker_Process_SkipsFreshVisit(t *testing.T) {
	t.Parallel()

	calls := 0
	load := transport.RenderDriverFunc(func(_ context.Context, _ string, _ time.Duration) (string, []byte, error) {
		calls++
		return "<html><body>hi</body></html>", nil, nil
	})
	w, fs := newWorker(t, registryWithNullRender(load), sitehook.NewRegistry())
	rec := newRecord(t, "http://example.onion/page")

	require.NoError(t, fs.RecordVisit(context.Background(), rec.Link.Hash, frontier.Rendered, time.Now().UTC()))
	require.NoError(t, w.Process(context.Background(), rec))
	require.Equal(t, 0, calls)
}

func TestWorker_Process_EmptySentinelRequeues(t *testing.T) {
	t.Parallel()

	load := transport.RenderDriverFunc(func(_ context.Context, _ string, _ time.Duration) (string, []byte, error) {
		return transport.EmptyPageSentinel, nil, nil
	})
	w, fs := newWorker(t, registryWithNullRender(load), sitehook.NewRegistry())
	rec := newRecord(t, "http://example.com/empty")

	require.NoError(t, w.Process(context.Background(), rec))

	// The requeued entry carries a TimeCache backoff, so Pop would not
	// return it yet; count it through Stats instead.
	stats, err := fs.(frontier.StatsProvider).Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingRender)
}

func TestWorker_Process_LinkNoReturnDropsBothQueues(t *testing.T) {
	t.Parallel()

	hooks := sitehook.NewRegistry()
	hooks.Register("example.com", sitehook.Hooks{
		Fetch: sitehook.DefaultFetch,
		Render: func(_ context.Context, _ transport.RenderDriver, _ link.Link, _ time.Duration) (string, []byte, error) {
			return "", nil, sitehook.ErrLinkNoReturn
		},
	})
	load := transport.RenderDriverFunc(func(_ context.Context, _ string, _ time.Duration) (string, []byte, error) {
		t.Fatal("render hook should have intercepted before the driver ran")
		return "", nil, nil
	})
	w, fs := newWorker(t, registryWithNullRender(load), hooks)
	rec := newRecord(t, "http://example.com/gone")

	require.NoError(t, fs.AddMany(context.Background(), frontier.PendingFetch, []link.Link{rec.Link}))
	require.NoError(t, w.Process(context.Background(), rec))

	fetchRecs, err := fs.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, fetchRecs)

	renderRecs, err := fs.Pop(context.Background(), frontier.PendingRender, 10)
	require.NoError(t, err)
	require.Empty(t, renderRecs)
}

func TestWorker_Process_UnknownProxyDropsFromQueue(t *testing.T) {
	t.Parallel()

	w, fs := newWorker(t, transport.NewRegistry(), sitehook.NewRegistry())
	rec := newRecord(t, "http://example.onion/page")

	require.NoError(t, w.Process(context.Background(), rec))

	recs, err := fs.Pop(context.Background(), frontier.PendingRender, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}
