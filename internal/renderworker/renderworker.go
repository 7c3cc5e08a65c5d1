// Package renderworker implements the per-URL render state machine (§4.8).
package renderworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/duskcrawl/duskcrawl/internal/extract"
	"github.com/duskcrawl/duskcrawl/internal/filter"
	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
	"github.com/duskcrawl/duskcrawl/internal/progress"
	"github.com/duskcrawl/duskcrawl/internal/sitehook"
	"github.com/duskcrawl/duskcrawl/internal/store"
	"github.com/duskcrawl/duskcrawl/internal/submit"
	"github.com/duskcrawl/duskcrawl/internal/transport"
)

// Worker executes the render state machine for one popped URL at a time.
type Worker struct {
	Frontier   frontier.Store
	Gates      *filter.Gates
	Transports *transport.Registry
	SiteHooks  *sitehook.Registry
	Artifacts  *store.Artifacts
	Submit     *submit.Sink
	Logger     *zap.Logger

	// Progress receives RENDER_DONE events for admin/metrics consumption; a
	// nil Progress is a valid no-op emitter substitute (checked before use).
	Progress progress.Emitter
	JobID    [16]byte

	TimeCache   time.Duration
	LockTimeout time.Duration
	SEWait      time.Duration
}

func (w *Worker) emitRenderDone(site string, bytes int64, dur time.Duration, note string) {
	if w.Progress == nil {
		return
	}
	w.Progress.Emit(progress.Event{
		JobID:  w.JobID,
		TS:     time.Now().UTC(),
		Stage:  progress.StageRenderDone,
		Site:   site,
		Bytes:  bytes,
		Visits: 1,
		Dur:    dur,
		Note:   note,
	})
}

func (w *Worker) Process(ctx context.Context, rec frontier.Record) error {
	l := rec.Link
	logger := w.Logger.With(zap.String("url", l.URL), zap.String("hash", l.Hash.String()))

	// 1. Filter.
	if !w.Gates.AllowProxy(string(l.Proxy)) || !w.Gates.AllowHost(l.Host) {
		return w.Frontier.Drop(ctx, frontier.PendingRender, l.Hash)
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

	// 4. Select driver/hook.
	entry, ok := w.Transports.Lookup(l.Proxy)
	if !ok {
		return w.Frontier.Drop(ctx, frontier.PendingRender, l.Hash)
	}
	driver, err := entry.Render()
	if err != nil {
		return w.requeue(ctx, l, w.TimeCache)
	}
	hooks := w.SiteHooks.Lookup(l.Host)

	// 5. Render.
	renderStart := time.Now()
	html, screenshot, rerr := hooks.Render(ctx, driver, l, w.SEWait)
	if rerr != nil {
		switch {
		case errors.Is(rerr, sitehook.ErrLinkNoReturn):
			return w.dropBoth(ctx, l.Hash)
		case errors.Is(rerr, transport.ErrTimeout), errors.Is(rerr, transport.ErrNetworkError):
			w.emitRenderDone(l.Host, 0, time.Since(renderStart), rerr.Error())
			return w.requeue(ctx, l, w.TimeCache)
		default:
			w.emitRenderDone(l.Host, 0, time.Since(renderStart), rerr.Error())
			return w.requeue(ctx, l, w.TimeCache)
		}
	}

	// 6. Sentinel empty-page check.
	if html == transport.EmptyPageSentinel {
		w.emitRenderDone(l.Host, 0, time.Since(renderStart), "empty page sentinel")
		return w.requeue(ctx, l, w.TimeCache)
	}
	w.emitRenderDone(l.Host, int64(len(html)), time.Since(renderStart), "")

	// 7. Save rendered HTML + screenshot.
	if err := w.Artifacts.SaveRender(ctx, l, html, screenshot); err != nil {
		logger.Warn("save render artifact failed", zap.Error(err))
	}

	// 8. Submission.
	if err := w.Submit.RenderedDocumentEvent(ctx, l, len(html)); err != nil {
		logger.Warn("rendered-document submission failed", zap.Error(err))
	}

	// 9. Extract links.
	links, err := extract.Links(html, l)
	if err != nil {
		logger.Warn("extract links failed", zap.Error(err))
	} else if len(links) > 0 {
		if err := w.Frontier.AddMany(ctx, frontier.PendingFetch, links); err != nil {
			logger.Warn("enqueue extracted links failed", zap.Error(err))
		}
	}

	// 10. Record visit.
	return w.Frontier.RecordVisit(ctx, l.Hash, frontier.Rendered, time.Now().UTC())
}

func (w *Worker) isFresh(ctx context.Context, h link.Hash) (bool, error) {
	t, ok, err := w.Frontier.LastVisit(ctx, h, frontier.Rendered)
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
	return w.Frontier.Requeue(ctx, frontier.PendingRender, l, time.Now().Add(backoff))
}

func (w *Worker) dropBoth(ctx context.Context, h link.Hash) error {
	if err := w.Frontier.Drop(ctx, frontier.PendingFetch, h); err != nil {
		return err
	}
	return w.Frontier.Drop(ctx, frontier.PendingRender, h)
}
