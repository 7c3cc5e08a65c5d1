// Package sitehook implements the host-keyed {fetch-hook, render-hook}
// registry and the default hook pair, plus proxy-tag-keyed sink hooks for
// the non-fetchable link families.
package sitehook

import (
	"context"
	"errors"
	"time"

	"github.com/duskcrawl/duskcrawl/internal/link"
	"github.com/duskcrawl/duskcrawl/internal/transport"
)

// ErrLinkNoReturn signals "drop this URL from both queues permanently".
var ErrLinkNoReturn = errors.New("sitehook: link no return")

// FetchHook customizes fetch behavior for one host.
type FetchHook func(ctx context.Context, session transport.FetchSession, l link.Link, timeout time.Duration) (transport.Response, error)

// RenderHook customizes render behavior for one host.
type RenderHook func(ctx context.Context, driver transport.RenderDriver, l link.Link, seWait time.Duration) (html string, screenshot []byte, err error)

// Hooks is the {fetch-hook, render-hook} pair registered per host.
type Hooks struct {
	Fetch  FetchHook
	Render RenderHook
}

// DefaultFetch calls session.Get directly — the default fetch hook.
func DefaultFetch(ctx context.Context, session transport.FetchSession, l link.Link, timeout time.Duration) (transport.Response, error) {
	return session.Get(ctx, l.URL, timeout)
}

// DefaultRender calls driver.Load directly — the default render hook.
func DefaultRender(ctx context.Context, driver transport.RenderDriver, l link.Link, seWait time.Duration) (string, []byte, error) {
	return driver.Load(ctx, l.URL, seWait)
}

// DefaultHooks is the pair used when no host-specific entry matches.
var DefaultHooks = Hooks{Fetch: DefaultFetch, Render: DefaultRender}

// Registry maps hostname to a Hooks pair, falling back to DefaultHooks.
type Registry struct {
	byHost map[string]Hooks
}

// NewRegistry returns an empty host-keyed registry.
func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]Hooks)}
}

// Register installs hooks for host, overwriting any existing entry.
func (r *Registry) Register(host string, hooks Hooks) {
	r.byHost[host] = hooks
}

// Lookup returns the hooks for host, or DefaultHooks if none registered.
func (r *Registry) Lookup(host string) Hooks {
	if h, ok := r.byHost[host]; ok {
		return h
	}
	return DefaultHooks
}

// SinkAppender appends a raw URL to the on-disk family sink file for a
// non-fetchable proxy tag (e.g. misc/mailto.txt, misc/magnet.txt).
type SinkAppender interface {
	Append(ctx context.Context, family string, rawURL string) error
}

// Sink records l to its family's sink file and signals drop, implementing
// the "no (save)" behavior from the proxy-tag table (§4.1) for proxy-tag
// keyed (not host-keyed) non-fetchable families — grounded in the original
// implementation's sites/{mail,tel,irc,magnet,ed2k,bitcoin,ethereum,data,
// script}.py, each a one-line sink-and-drop hook keyed by scheme rather than
// host.
func Sink(ctx context.Context, appender SinkAppender, l link.Link) error {
	if err := appender.Append(ctx, string(l.Proxy), l.URL); err != nil {
		return err
	}
	return ErrLinkNoReturn
}
