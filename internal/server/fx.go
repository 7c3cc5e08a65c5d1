// Package server wires duskcrawl's components into a runnable process: one
// scheduler pool (fetch or render) driven against a shared frontier.Store,
// plus the shared artifact, submission, filtering, and progress
// infrastructure every worker depends on, and the admin HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/duskcrawl/duskcrawl/internal/api"
	"github.com/duskcrawl/duskcrawl/internal/clock/system"
	"github.com/duskcrawl/duskcrawl/internal/config"
	"github.com/duskcrawl/duskcrawl/internal/fetchworker"
	"github.com/duskcrawl/duskcrawl/internal/filter"
	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/frontier/memstore"
	"github.com/duskcrawl/duskcrawl/internal/frontier/sqlstore"
	"github.com/duskcrawl/duskcrawl/internal/id/uuid"
	"github.com/duskcrawl/duskcrawl/internal/link"
	"github.com/duskcrawl/duskcrawl/internal/logging"
	"github.com/duskcrawl/duskcrawl/internal/metrics"
	"github.com/duskcrawl/duskcrawl/internal/policy/ratelimit"
	"github.com/duskcrawl/duskcrawl/internal/progress"
	progresssinks "github.com/duskcrawl/duskcrawl/internal/progress/sinks"
	"github.com/duskcrawl/duskcrawl/internal/renderworker"
	"github.com/duskcrawl/duskcrawl/internal/robots"
	"github.com/duskcrawl/duskcrawl/internal/scheduler"
	"github.com/duskcrawl/duskcrawl/internal/sitehook"
	pgprogress "github.com/duskcrawl/duskcrawl/internal/storage/postgres"
	"github.com/duskcrawl/duskcrawl/internal/store"
	"github.com/duskcrawl/duskcrawl/internal/store/gcsblob"
	"github.com/duskcrawl/duskcrawl/internal/store/localblob"
	"github.com/duskcrawl/duskcrawl/internal/submit"
	"github.com/duskcrawl/duskcrawl/internal/submit/httptransport"
	"github.com/duskcrawl/duskcrawl/internal/submit/pubsubtransport"
	"github.com/duskcrawl/duskcrawl/internal/transport"
)

const userAgent = "duskcrawl/1.0"

// App owns one pool's scheduler plus the admin HTTP surface and every
// shared dependency, and knows how to shut all of it down cleanly.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	pool   scheduler.PoolKind

	frontier  frontier.Store
	sched     *scheduler.Scheduler
	apiServer *api.Server

	progressHub  *progress.Hub
	pgProgress   *pgprogress.ProgressStore
	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	httpAddr     string
}

// Build assembles the shared infrastructure and the single scheduler for
// pool, per the CLI contract of one process per pool (§6).
func Build(ctx context.Context, cfg config.Config, pool scheduler.PoolKind) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, pool: pool, httpAddr: cfg.Admin.Addr}

	app.frontier, err = buildFrontierStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	blobStore, err := app.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	artifacts := store.New(blobStore)

	gates, err := buildGates(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("build filter gates: %w", err)
	}

	robotsPolicy := robots.New(cfg.Cache.TimeCache, cfg.Scheduler.Force, userAgent)
	transports := transport.BuildDefaultRegistry(transport.BuildOptions{
		UserAgent:     userAgent,
		NavTimeout:    cfg.Cache.SEWait,
		MaxRenderConc: cfg.Scheduler.DarcCPU,
		Proxies: map[link.ProxyTag]transport.ProxyParams{
			link.ProxyTor:     {Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Proxy.TorPort)},
			link.ProxyI2P:     {Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Proxy.I2PPort)},
			link.ProxyZeroNet: {Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Proxy.ZeroNetPort)},
			link.ProxyFreenet: {Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Proxy.FreenetPort)},
		},
	})
	siteHooks := sitehook.NewRegistry()

	submitTransport, err := app.buildSubmitTransport(ctx)
	if err != nil {
		return nil, err
	}
	submitSink := submit.New(submitTransport, artifacts, cfg.Submit.APIRetry)

	progressRepo, err := app.buildProgressRepo(ctx)
	if err != nil {
		return nil, err
	}
	progressEmitter := app.buildProgressHub(ctx, progressRepo)

	rateLimiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
	})

	idGen := uuid.NewUUIDGenerator()
	rawJobID, err := idGen.NewRawID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	jobID := progress.UUIDToBytes(rawJobID)
	clk := system.New()
	if progressEmitter != nil {
		progressEmitter.Emit(progress.Event{JobID: jobID, TS: clk.Now(), Stage: progress.StageJobStart})
	}

	sched, err := buildScheduler(pool, cfg, app.frontier, gates, robotsPolicy, transports, siteHooks,
		artifacts, submitSink, rateLimiter, progressEmitter, jobID, logger)
	if err != nil {
		return nil, err
	}
	app.sched = sched

	progressHandler := api.NewProgressHandler(progressRepo, logger.Named("progress_api"))
	var frontierHandler *api.FrontierHandler
	if statsProvider, ok := app.frontier.(frontier.StatsProvider); ok {
		frontierHandler = api.NewFrontierHandler(statsProvider, logger.Named("frontier_api"))
	}
	app.apiServer = api.NewServer(progressHandler, frontierHandler, app.ready)

	return app, nil
}

func (a *App) ready() bool {
	return a.frontier != nil
}

func buildFrontierStore(ctx context.Context, cfg config.Config) (frontier.Store, error) {
	switch cfg.Frontier.Backend {
	case "postgres":
		st, err := sqlstore.NewPgStore(ctx, cfg.Frontier.DSN, cfg.Frontier.RetryInterval, cfg.Frontier.BulkSize)
		if err != nil {
			return nil, fmt.Errorf("postgres frontier init failed: %w", err)
		}
		return st, nil
	case "sqlite":
		st, err := sqlstore.NewSqliteStore(ctx, cfg.Frontier.SqlitePath, cfg.Frontier.RetryInterval, cfg.Frontier.BulkSize)
		if err != nil {
			return nil, fmt.Errorf("sqlite frontier init failed: %w", err)
		}
		return st, nil
	default:
		return memstore.New(), nil
	}
}

func (a *App) buildBlobStore(ctx context.Context) (store.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blob, err := gcsblob.New(ctx, a.cfg.Storage.GCSBucket, a.cfg.Storage.GCSPrefix)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blob, nil
	default:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.PathData))
		blob, err := localblob.New(a.cfg.Storage.PathData)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blob, nil
	}
}

func buildGates(cfg config.FiltersConfig) (*filter.Gates, error) {
	hostWhite, err := config.DecodeList(cfg.LinkWhiteList)
	if err != nil {
		return nil, fmt.Errorf("host white list: %w", err)
	}
	hostBlack, err := config.DecodeList(cfg.LinkBlackList)
	if err != nil {
		return nil, fmt.Errorf("host black list: %w", err)
	}
	mimeWhite, err := config.DecodeList(cfg.MimeWhiteList)
	if err != nil {
		return nil, fmt.Errorf("mime white list: %w", err)
	}
	mimeBlack, err := config.DecodeList(cfg.MimeBlackList)
	if err != nil {
		return nil, fmt.Errorf("mime black list: %w", err)
	}
	proxyWhite, err := config.DecodeList(cfg.ProxyWhiteList)
	if err != nil {
		return nil, fmt.Errorf("proxy white list: %w", err)
	}
	proxyBlack, err := config.DecodeList(cfg.ProxyBlackList)
	if err != nil {
		return nil, fmt.Errorf("proxy black list: %w", err)
	}
	return filter.New(
		filter.Config{White: hostWhite, Black: hostBlack, Fallback: cfg.LinkFallback},
		filter.Config{White: mimeWhite, Black: mimeBlack, Fallback: cfg.MimeFallback},
		filter.Config{White: proxyWhite, Black: proxyBlack, Fallback: cfg.ProxyFallback},
	)
}

func (a *App) buildSubmitTransport(ctx context.Context) (submit.Transport, error) {
	switch a.cfg.Submit.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Submit.PubSubProj)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		return pubsubtransport.New(pubsubtransport.Topics{
			NewHost:          client.Topic(a.cfg.PubSub.NewHostTopic),
			FetchedDocument:  client.Topic(a.cfg.PubSub.FetchedTopic),
			RenderedDocument: client.Topic(a.cfg.PubSub.RenderedTopic),
		}), nil
	default:
		return httptransport.New(httptransport.Endpoints{
			NewHost:          a.cfg.Submit.APINewHost,
			FetchedDocument:  a.cfg.Submit.APIRequest,
			RenderedDocument: a.cfg.Submit.APISeleniu,
		}, 30*time.Second), nil
	}
}

func (a *App) buildProgressRepo(ctx context.Context) (store.ProgressRepository, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, progress API and store sink are disabled")
		return nil, nil
	}
	repo, err := pgprogress.NewProgressStore(ctx, a.cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("progress store init failed: %w", err)
	}
	a.pgProgress = repo
	return repo, nil
}

func (a *App) buildProgressHub(ctx context.Context, repo store.ProgressRepository) progress.Emitter {
	var sinkList []progress.Sink
	if repo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(repo, a.logger.Named("progress_store")))
	}
	sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	if promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		a.logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}

	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	return a.progressHub
}

func buildScheduler(
	pool scheduler.PoolKind,
	cfg config.Config,
	frontierStore frontier.Store,
	gates *filter.Gates,
	robotsPolicy *robots.Policy,
	transports *transport.Registry,
	siteHooks *sitehook.Registry,
	artifacts *store.Artifacts,
	submitSink *submit.Sink,
	rateLimiter *ratelimit.Limiter,
	progressEmitter progress.Emitter,
	jobID [16]byte,
	logger *zap.Logger,
) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.Config{
		MaxPool:     cfg.Frontier.MaxPool,
		Concurrency: cfg.Scheduler.DarcCPU,
		DarcWait:    cfg.Scheduler.DarcWait,
		Reboot:      cfg.Scheduler.Reboot,
	}

	switch pool {
	case scheduler.Crawler:
		schedCfg.Pool = scheduler.Crawler
		schedCfg.Queue = frontier.PendingFetch
		worker := &fetchworker.Worker{
			Frontier:     frontierStore,
			Gates:        gates,
			Robots:       robotsPolicy,
			Transports:   transports,
			SiteHooks:    siteHooks,
			Artifacts:    artifacts,
			Submit:       submitSink,
			Logger:       logger.Named("fetchworker"),
			RateLimiter:  rateLimiter,
			Progress:     progressEmitter,
			JobID:        jobID,
			TimeCache:    cfg.Cache.TimeCache,
			LockTimeout:  cfg.Frontier.LockTimeout,
			FetchTimeout: cfg.Cache.SEWait,
			Force:        cfg.Scheduler.Force,
		}
		return scheduler.New(schedCfg, frontierStore, worker, logger.Named("scheduler.crawler")), nil
	case scheduler.Loader:
		schedCfg.Pool = scheduler.Loader
		schedCfg.Queue = frontier.PendingRender
		worker := &renderworker.Worker{
			Frontier:    frontierStore,
			Gates:       gates,
			Transports:  transports,
			SiteHooks:   siteHooks,
			Artifacts:   artifacts,
			Submit:      submitSink,
			Logger:      logger.Named("renderworker"),
			Progress:    progressEmitter,
			JobID:       jobID,
			TimeCache:   cfg.Cache.TimeCache,
			LockTimeout: cfg.Frontier.LockTimeout,
			SEWait:      cfg.Cache.SEWait,
		}
		return scheduler.New(schedCfg, frontierStore, worker, logger.Named("scheduler.loader")), nil
	default:
		return nil, fmt.Errorf("unknown pool kind %q", pool)
	}
}

// SeedFetch enqueues urls directly into the fetch queue (§6: CLI-supplied
// seed file and positional URLs always land in pending-fetch regardless of
// which pool this process runs).
func (a *App) SeedFetch(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	links := make([]link.Link, 0, len(urls))
	for _, raw := range urls {
		l, err := link.Parse(raw)
		if err != nil {
			a.logger.Warn("skipping unparsable seed url", zap.String("url", raw), zap.Error(err))
			continue
		}
		links = append(links, l)
	}
	if len(links) == 0 {
		return nil
	}
	return a.frontier.AddMany(ctx, frontier.PendingFetch, links)
}

// AddHook registers an inter-round scheduler hook, e.g. to stop after a
// fixed number of rounds in tests or single-shot invocations.
func (a *App) AddHook(h scheduler.Hook) {
	a.sched.AddHook(h)
}

// Run starts the admin HTTP server and the scheduler's round loop, and
// blocks until ctx is canceled, SIGINT/SIGTERM arrives, or the scheduler
// exits on its own (REBOOT mode or a worker-break hook).
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              a.httpAddr,
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("admin http server started", zap.String("addr", a.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin http server error", zap.Error(err))
		}
	}()

	schedErr := make(chan error, 1)
	go func() {
		a.logger.Info("scheduler started", zap.String("pool", string(a.pool)))
		schedErr <- a.sched.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-schedErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("admin http server shutdown error", zap.Error(err))
	}

	if closeErr := a.Close(shutdownCtx); closeErr != nil {
		a.logger.Warn("close failed", zap.Error(closeErr))
	}
	return runErr
}

// Close releases every resource Build acquired.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.frontier != nil {
		if err := a.frontier.Close(ctx); err != nil {
			a.logger.Warn("frontier store close failed", zap.Error(err))
		}
	}
	if a.pgProgress != nil {
		a.pgProgress.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	return a.logger.Sync()
}
