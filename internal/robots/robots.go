// Package robots implements the per-host cached robots.txt policy: fetch
// and parse on first encounter, sitemap discovery, and a TTL-bound cache
// with the root path always allowed.
package robots

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

// Fetcher performs a single GET, as provided by the transport registry for
// a link's proxy tag. Robots/sitemap fetches reuse the same transport as
// ordinary fetches so that onion/i2p hosts resolve their robots.txt through
// the same proxy as their pages.
type Fetcher interface {
	Get(ctx context.Context, url string, timeout time.Duration) (status int, body []byte, err error)
}

type cacheEntry struct {
	data      *robotstxt.RobotsData
	sitemaps  []string
	fetchedAt time.Time
}

// Policy answers "may fetch U?" using a per-host TTL cache of parsed rules.
type Policy struct {
	mu        sync.Mutex
	cache     map[string]cacheEntry
	ttl       time.Duration // TIME_CACHE; <= 0 means cache forever
	force     bool
	userAgent string
}

// New builds a Policy. ttl <= 0 means entries never expire (§9 open
// question: TIME_CACHE=null is "forever").
func New(ttl time.Duration, force bool, userAgent string) *Policy {
	return &Policy{
		cache:     make(map[string]cacheEntry),
		ttl:       ttl,
		force:     force,
		userAgent: userAgent,
	}
}

// Allowed answers "may fetch l?" for the already-loaded policy state of
// l.Host. Callers must call Ensure first to populate the cache.
func (p *Policy) Allowed(l link.Link) bool {
	if p.force || l.Path == "" || l.Path == "/" {
		return true
	}
	p.mu.Lock()
	entry, ok := p.cache[l.Host]
	p.mu.Unlock()
	if !ok {
		return true // not yet fetched; caller decides ordering via Ensure
	}
	if entry.data == nil {
		return true
	}
	group := entry.data.FindGroup(p.userAgent)
	if group == nil {
		return true
	}
	return group.Test(l.Path)
}

// Sitemaps returns the sitemap URLs discovered for host, if cached.
func (p *Policy) Sitemaps(host string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cache[host].sitemaps...)
}

// Fresh reports whether host's cache entry is still within the TTL window.
func (p *Policy) Fresh(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[host]
	if !ok {
		return false
	}
	if p.ttl <= 0 {
		return true
	}
	return time.Since(entry.fetchedAt) < p.ttl
}

// Ensure fetches and parses robots.txt (and discovers sitemap URLs) for the
// host of l if the cache entry is missing or stale. On any fetch/parse
// error it caches "no rules" (everything allowed), per the policy's
// fail-open contract.
func (p *Policy) Ensure(ctx context.Context, fetcher Fetcher, l link.Link, timeout time.Duration) ([]string, error) {
	if p.Fresh(l.Host) {
		return p.Sitemaps(l.Host), nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", l.Scheme, l.Host)
	status, body, err := fetcher.Get(ctx, robotsURL, timeout)
	entry := cacheEntry{fetchedAt: time.Now().UTC()}
	if err == nil {
		if data, perr := robotstxt.FromStatusAndBytes(status, body); perr == nil {
			entry.data = data
			entry.sitemaps = append([]string(nil), data.Sitemaps...)
		}
	}
	if len(entry.sitemaps) == 0 {
		entry.sitemaps = []string{fmt.Sprintf("%s://%s/sitemap.xml", l.Scheme, l.Host)}
	}

	p.mu.Lock()
	p.cache[l.Host] = entry
	p.mu.Unlock()
	return entry.sitemaps, nil
}

// ExtractLocs pulls <loc> URLs out of a sitemap XML body. Lenient: it scans
// for "<loc>...</loc>" pairs rather than requiring well-formed XML, since
// dark-web sitemaps are frequently malformed.
func ExtractLocs(body []byte) []string {
	s := string(body)
	var out []string
	for {
		start := strings.Index(s, "<loc>")
		if start < 0 {
			break
		}
		s = s[start+len("<loc>"):]
		end := strings.Index(s, "</loc>")
		if end < 0 {
			break
		}
		loc := strings.TrimSpace(s[:end])
		if loc != "" {
			out = append(out, loc)
		}
		s = s[end+len("</loc>"):]
	}
	return out
}

// RobotsPath returns the robots.txt path for diagnostics and logging.
func RobotsPath() string { return path.Join("/", "robots.txt") }
