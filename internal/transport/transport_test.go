package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, ok := reg.Lookup(link.ProxyNull)
	require.False(t, ok)

	entry := Entry{
		Fetch: func() (FetchSession, error) { return nil, nil },
	}
	reg.Register(link.ProxyNull, entry)

	got, ok := reg.Lookup(link.ProxyNull)
	require.True(t, ok)
	require.NotNil(t, got.Fetch)
}

func TestRegistry_RegisterOverwritesExisting(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(link.ProxyTor, Entry{})
	marker := Entry{Render: func() (RenderDriver, error) { return nil, nil }}
	reg.Register(link.ProxyTor, marker)

	got, ok := reg.Lookup(link.ProxyTor)
	require.True(t, ok)
	require.NotNil(t, got.Render)
}

func TestFetchSessionFunc_AdaptsPlainFunction(t *testing.T) {
	t.Parallel()

	var called bool
	var fn FetchSession = FetchSessionFunc(func(_ context.Context, url string, _ time.Duration) (Response, error) {
		called = true
		require.Equal(t, "http://example.onion/", url)
		return Response{StatusCode: 200}, nil
	})

	resp, err := fn.Get(context.Background(), "http://example.onion/", time.Second)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, 200, resp.StatusCode)
}

func TestRenderDriverFunc_AdaptsPlainFunction(t *testing.T) {
	t.Parallel()

	var driver RenderDriver = RenderDriverFunc(func(_ context.Context, url string, _ time.Duration) (string, []byte, error) {
		return "<html>" + url + "</html>", []byte("png"), nil
	})

	html, shot, err := driver.Load(context.Background(), "http://example.onion/", time.Second)
	require.NoError(t, err)
	require.Contains(t, html, "example.onion")
	require.Equal(t, []byte("png"), shot)
}

func TestBuildDefaultRegistry_RegistersFetchableProxyTags(t *testing.T) {
	t.Parallel()

	reg := BuildDefaultRegistry(BuildOptions{
		UserAgent:  "duskcrawl/1.0",
		NavTimeout: time.Second,
		Proxies: map[link.ProxyTag]ProxyParams{
			link.ProxyTor: {Addr: "127.0.0.1:9050"},
			link.ProxyI2P: {Addr: "127.0.0.1:4444"},
		},
	})

	for _, tag := range []link.ProxyTag{
		link.ProxyNull, link.ProxyTor, link.ProxyI2P,
		link.ProxyTor2Web, link.ProxyZeroNet, link.ProxyFreenet,
	} {
		entry, ok := reg.Lookup(tag)
		require.True(t, ok, "expected tag %q to be registered", tag)
		require.NotNil(t, entry.Fetch)
		require.NotNil(t, entry.Render)
	}

	_, ok := reg.Lookup(link.ProxyMagnet)
	require.False(t, ok, "sink-only tags must not be registered in the transport registry")
}
