package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpOptions configures a chromedp-backed RenderDriver.
type ChromedpOptions struct {
	UserAgent string
	// ProxyAddr, if set, is passed to Chrome as --proxy-server — used for
	// the tor/i2p proxy tags.
	ProxyAddr     string
	NavTimeout    time.Duration
	MaxConcurrent int
}

type chromedpDriver struct {
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserDone context.CancelFunc
	userAgent   string
	navTimeout  time.Duration
	sem         chan struct{}
}

// NewChromedpDriver builds a RenderDriver for one proxy family. Each
// instance owns its own headless Chrome process.
func NewChromedpDriver(opts ChromedpOptions) (RenderDriver, error) {
	allocOpts := chromedp.DefaultExecAllocatorOptions[:]
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.ProxyAddr != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyAddr))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserDone := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocCancel()
		browserDone()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	concurrency := opts.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 1
	}
	return &chromedpDriver{
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserDone: browserDone,
		userAgent:   opts.UserAgent,
		navTimeout:  opts.NavTimeout,
		sem:         make(chan struct{}, concurrency),
	}, nil
}

func (d *chromedpDriver) Close() error {
	d.browserDone()
	d.allocCancel()
	return nil
}

func (d *chromedpDriver) Load(ctx context.Context, url string, seWait time.Duration) (string, []byte, error) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}

	tabCtx, cancelTab := chromedp.NewContext(d.browserCtx)
	defer cancelTab()

	timeout := d.navTimeout + seWait
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	var html string
	var shot []byte
	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(d.userAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(seWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, err := page.CaptureScreenshot().WithCaptureBeyondViewport(true).Do(ctx)
			if err != nil {
				return err
			}
			shot = data
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", nil, fmt.Errorf("%w: chromedp run: %v", ErrTimeout, err)
	}
	return html, shot, nil
}
