// Package fetchworker implements the per-URL fetch state machine (§4.7):
// filter gates, lock acquisition, freshness check, sink-family interception,
// host onboarding, robots gate, fetch, persistence, MIME gate, submission,
// extraction, and status-based re-enqueue or promotion to render.
package fetchworker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/duskcrawl/duskcrawl/internal/extract"
	"github.com/duskcrawl/duskcrawl/internal/filter"
	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
	"github.com/duskcrawl/duskcrawl/internal/policy/ratelimit"
	"github.com/duskcrawl/duskcrawl/internal/progress"
	"github.com/duskcrawl/duskcrawl/internal/robots"
	"github.com/duskcrawl/duskcrawl/internal/sitehook"
	"github.com/duskcrawl/duskcrawl/internal/store"
	"github.com/duskcrawl/duskcrawl/internal/submit"
	"github.com/duskcrawl/duskcrawl/internal/transport"
)

// Worker executes the fetch state machine for one popped URL at a time; a
// scheduler pool runs N Workers concurrently, each drawing from the shared
// frontier.Store.
type Worker struct {
	Frontier   frontier.Store
	Gates      *filter.Gates
	Robots     *robots.Policy
	Transports *transport.Registry
	SiteHooks  *sitehook.Registry
	Artifacts  *store.Artifacts
	Submit     *submit.Sink
	Logger     *zap.Logger

	// RateLimiter paces fetches per host; a nil RateLimiter skips throttling.
	RateLimiter *ratelimit.Limiter

	// Progress receives FETCH_DONE events for admin/metrics consumption; a
	// nil Progress is a valid no-op emitter substitute (checked before use).
	Progress progress.Emitter
	JobID    [16]byte

	TimeCache    time.Duration // freshness window; <= 0 means forever
	LockTimeout  time.Duration
	FetchTimeout time.Duration
	Force        bool
}

func (w *Worker) emitFetchDone(site string, status int, bytes int64, dur time.Duration, note string) {
	if w.Progress == nil {
		return
	}
	w.Progress.Emit(progress.Event{
		JobID:       w.JobID,
		TS:          time.Now().UTC(),
		Stage:       progress.StageFetchDone,
		Site:        site,
		Bytes:       bytes,
		Visits:      1,
		StatusClass: progress.ClassifyStatus(status),
		Dur:         dur,
		Note:        note,
	})
}

// robotsFetcher adapts a transport.FetchSession to robots.Fetcher.
type robotsFetcher struct{ session transport.FetchSession }

func (f robotsFetcher) Get(ctx context.Context, url string, timeout time.Duration) (int, []byte, error) {
	resp, err := f.session.Get(ctx, url, timeout)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}

// fetchSitemaps fetches each declared/sitemap.xml URL, extracts its <loc>
// page URLs (§4.4 step 2), and enqueues them for fetching. It reports
// whether at least one sitemap was fetched successfully.
func (w *Worker) fetchSitemaps(ctx context.Context, session transport.FetchSession, sitemaps []string, logger *zap.Logger) bool {
	fetched := false
	for _, sm := range sitemaps {
		resp, err := session.Get(ctx, sm, w.FetchTimeout)
		if err != nil {
			logger.Warn("sitemap fetch failed", zap.String("sitemap", sm), zap.Error(err))
			continue
		}
		fetched = true
		locs := robots.ExtractLocs(resp.Body)
		links := make([]link.Link, 0, len(locs))
		for _, loc := range locs {
			pageLink, perr := link.Parse(loc)
			if perr != nil {
				continue
			}
			links = append(links, pageLink)
		}
		if len(links) == 0 {
			continue
		}
		if err := w.Frontier.AddMany(ctx, frontier.PendingFetch, links); err != nil {
			logger.Warn("sitemap page enqueue failed", zap.String("sitemap", sm), zap.Error(err))
		}
	}
	return fetched
}

// Process runs the state machine for rec once. It never returns an error
// for expected domain outcomes (deny/backoff/drop); it only returns an
// error for unexpected frontier-store failures.
func (w *Worker) Process(ctx context.Context, rec frontier.Record) error {
	l := rec.Link
	logger := w.Logger.With(zap.String("url", l.URL), zap.String("hash", l.Hash.String()))

	// 1. Filter.
	if !w.Gates.AllowProxy(string(l.Proxy)) || !w.Gates.AllowHost(l.Host) {
		return w.Frontier.Drop(ctx, frontier.PendingFetch, l.Hash)
	}

	// 2. Acquire lock.
	lock, err := w.Frontier.AcquireLock(ctx, l.Hash, w.LockTimeout)
	if err != nil {
		if errors.Is(err, frontier.ErrLockBusy) {
			return w.requeue(ctx, l, w.TimeCache)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if rerr := lock.Release(ctx); rerr != nil {
			logger.Warn("release lock failed", zap.Error(rerr))
		}
	}()

	// 3. Freshness check.
	if fresh, err := w.isFresh(ctx, l.Hash); err != nil {
		return fmt.Errorf("freshness check: %w", err)
	} else if fresh {
		return nil
	}

	// 4. Proxy tag branch: sink-only families are recorded and dropped.
	if !l.Proxy.Fetchable() {
		if err := w.Artifacts.AppendSinkFamily(ctx, string(l.Proxy), l.URL); err != nil {
			logger.Warn("sink append failed", zap.Error(err))
		}
		return w.Frontier.Drop(ctx, frontier.PendingFetch, l.Hash)
	}

	// 5. Host onboarding.
	seen, err := w.Frontier.HasHost(ctx, l.Host)
	if err != nil {
		return fmt.Errorf("has-host: %w", err)
	}

	entry, ok := w.Transports.Lookup(l.Proxy)
	if !ok {
		if err := w.Artifacts.AppendSinkFamily(ctx, "invalid", l.URL); err != nil {
			logger.Warn("invalid sink append failed", zap.Error(err))
		}
		return w.Frontier.Drop(ctx, frontier.PendingFetch, l.Hash)
	}
	session, err := entry.Fetch()
	if err != nil {
		return w.requeue(ctx, l, w.TimeCache)
	}

	if !seen {
		sitemaps, rerr := w.Robots.Ensure(ctx, robotsFetcher{session: session}, l, w.FetchTimeout)
		if rerr != nil {
			logger.Warn("robots ensure failed", zap.Error(rerr))
		}
		sitemapFetched := w.fetchSitemaps(ctx, session, sitemaps, logger)
		if err := w.Frontier.MarkHost(ctx, l.Host, frontier.HostFlags{RobotsFetched: true, SitemapFetched: sitemapFetched}); err != nil {
			return fmt.Errorf("mark host: %w", err)
		}
		if err := w.Submit.NewHostEvent(ctx, l); err != nil {
			logger.Warn("new-host submission failed", zap.Error(err))
		}
	}

	// 6. Robots gate.
	if !w.Force && !w.Robots.Allowed(l) {
		return w.recordVisit(ctx, l.Hash)
	}

	// 7. Fetch.
	if w.RateLimiter != nil {
		if err := w.RateLimiter.Wait(ctx, l.URL); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	hooks := w.SiteHooks.Lookup(l.Host)
	fetchStart := time.Now()
	resp, ferr := hooks.Fetch(ctx, session, l, w.FetchTimeout)
	if ferr != nil {
		switch {
		case errors.Is(ferr, sitehook.ErrLinkNoReturn):
			return w.dropBoth(ctx, l.Hash)
		case errors.Is(ferr, transport.ErrInvalidScheme):
			if err := w.Artifacts.AppendSinkFamily(ctx, "invalid", l.URL); err != nil {
				logger.Warn("invalid sink append failed", zap.Error(err))
			}
			return w.Frontier.Drop(ctx, frontier.PendingFetch, l.Hash)
		case errors.Is(ferr, transport.ErrNetworkError), errors.Is(ferr, transport.ErrTimeout):
			w.emitFetchDone(l.Host, 0, 0, time.Since(fetchStart), ferr.Error())
			return w.requeue(ctx, l, w.TimeCache)
		default:
			w.emitFetchDone(l.Host, 0, 0, time.Since(fetchStart), ferr.Error())
			return w.requeue(ctx, l, w.TimeCache)
		}
	}
	w.emitFetchDone(l.Host, resp.StatusCode, int64(len(resp.Body)), time.Since(fetchStart), "")

	// 8. Persist.
	contentType := resp.Headers.Get("Content-Type")
	var cookieStrs []string
	for _, c := range resp.Cookies {
		cookieStrs = append(cookieStrs, c.String())
	}
	if err := w.Artifacts.SaveFetch(ctx, l, resp.StatusCode, resp.FinalURL, resp.Headers, cookieStrs, resp.Body, contentType); err != nil {
		logger.Warn("save fetch artifact failed", zap.Error(err))
	}
	if err := w.Artifacts.AppendLinkCSV(ctx, l.Hash, l.URL); err != nil {
		logger.Warn("append link.csv failed", zap.Error(err))
	}

	// 9. MIME gate.
	if !w.Gates.AllowMIME(contentType) {
		return w.recordVisit(ctx, l.Hash)
	}

	// 10. Submission.
	if err := w.Submit.FetchedDocumentEvent(ctx, l, resp.StatusCode, contentType); err != nil {
		logger.Warn("fetched-document submission failed", zap.Error(err))
	}

	// 11. HTML handling.
	if isHTML(contentType) {
		links, err := extract.Links(string(resp.Body), l)
		if err != nil {
			logger.Warn("extract links failed", zap.Error(err))
		} else if len(links) > 0 {
			if err := w.Frontier.AddMany(ctx, frontier.PendingFetch, links); err != nil {
				logger.Warn("enqueue extracted links failed", zap.Error(err))
			}
		}
	}

	// 12. Status branch.
	if resp.StatusCode >= 400 && resp.StatusCode < 600 {
		return w.requeue(ctx, l, w.TimeCache)
	}
	if err := w.Frontier.AddMany(ctx, frontier.PendingRender, []link.Link{l}); err != nil {
		return fmt.Errorf("enqueue render: %w", err)
	}

	// 13. Record visit.
	return w.recordVisit(ctx, l.Hash)
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml+xml")
}

func (w *Worker) isFresh(ctx context.Context, h link.Hash) (bool, error) {
	t, ok, err := w.Frontier.LastVisit(ctx, h, frontier.Fetched)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if w.TimeCache <= 0 {
		return true, nil
	}
	return time.Since(t) < w.TimeCache, nil
}

func (w *Worker) requeue(ctx context.Context, l link.Link, backoff time.Duration) error {
	notBefore := time.Now().Add(backoff)
	return w.Frontier.Requeue(ctx, frontier.PendingFetch, l, notBefore)
}

func (w *Worker) dropBoth(ctx context.Context, h link.Hash) error {
	if err := w.Frontier.Drop(ctx, frontier.PendingFetch, h); err != nil {
		return err
	}
	return w.Frontier.Drop(ctx, frontier.PendingRender, h)
}

func (w *Worker) recordVisit(ctx context.Context, h link.Hash) error {
	return w.Frontier.RecordVisit(ctx, h, frontier.Fetched, time.Now().UTC())
}
