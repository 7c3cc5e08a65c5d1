// Package transport implements the proxy-tag → (fetch-session-factory,
// render-driver-factory) registry. The identity ("null") entry is the
// direct-Internet transport; "tor" and "i2p" dial through a local SOCKS5
// proxy; "tor2web", "zeronet", and "freenet" are plain HTTP(S) gateways.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

// Error kinds a FetchSession must classify its failures into, per §4.5.
var (
	ErrNetworkError  = errors.New("transport: network error")
	ErrInvalidScheme = errors.New("transport: invalid scheme")
	ErrTimeout       = errors.New("transport: timeout")
)

// Response is the result of a fetch session's Get.
type Response struct {
	StatusCode int
	Headers    http.Header
	FinalURL   string
	Cookies    []*http.Cookie
	Body       []byte
}

// FetchSession performs synchronous HTTP GETs for one proxy family.
type FetchSession interface {
	Get(ctx context.Context, url string, timeout time.Duration) (Response, error)
}

// RenderDriver drives a headless browser for one proxy family.
type RenderDriver interface {
	// Load navigates to url, waits for document-ready plus an additional
	// seWait, and returns the rendered HTML and a full-page screenshot.
	Load(ctx context.Context, url string, seWait time.Duration) (html string, screenshot []byte, err error)
}

// Entry pairs the two factories registered for one proxy tag.
type Entry struct {
	Fetch  func() (FetchSession, error)
	Render func() (RenderDriver, error)
}

// Registry maps proxy tags to transport entries. Registration happens at
// startup; the registry is read-only once the scheduler starts.
type Registry struct {
	entries map[link.ProxyTag]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[link.ProxyTag]Entry)}
}

// Register installs the entry for tag, overwriting any existing entry.
func (r *Registry) Register(tag link.ProxyTag, entry Entry) {
	r.entries[tag] = entry
}

// Lookup returns the entry for tag and whether it exists.
func (r *Registry) Lookup(tag link.ProxyTag) (Entry, bool) {
	e, ok := r.entries[tag]
	return e, ok
}

// FetchSessionFunc adapts a function to FetchSession, letting colly-backed
// and mock sessions share a function-value entry.
type FetchSessionFunc func(ctx context.Context, url string, timeout time.Duration) (Response, error)

func (f FetchSessionFunc) Get(ctx context.Context, url string, timeout time.Duration) (Response, error) {
	return f(ctx, url, timeout)
}

// RenderDriverFunc adapts a function to RenderDriver.
type RenderDriverFunc func(ctx context.Context, url string, seWait time.Duration) (string, []byte, error)

func (f RenderDriverFunc) Load(ctx context.Context, url string, seWait time.Duration) (string, []byte, error) {
	return f(ctx, url, seWait)
}

// EmptyPageSentinel is the sentinel "render returned nothing" page; the
// render worker treats an exact match as a transient EmptyRender failure.
const EmptyPageSentinel = "<html><head></head><body></body></html>"
