// Package scheduler owns one worker pool's round loop (§4.10): pop up to
// MaxPool ready records, dispatch them to a bounded set of concurrent
// workers, await completion, run the registered inter-round hooks, and
// either loop, backoff on an empty queue, or exit under REBOOT mode.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/metrics"
)

// PoolKind names which of the two pools a Scheduler drives.
type PoolKind string

const (
	Crawler PoolKind = "crawler" // fetch pool
	Loader  PoolKind = "loader"  // render pool
)

// ErrWorkerBreak is returned by an inter-round hook to signal that the
// scheduler should stop cleanly after completing the current round.
var ErrWorkerBreak = errors.New("scheduler: worker break")

// Processor runs the per-URL state machine for one pool; fetchworker.Worker
// and renderworker.Worker both satisfy this via their Process method.
type Processor interface {
	Process(ctx context.Context, rec frontier.Record) error
}

// Hook is invoked at the end of each round with the pool kind and the set
// of records just processed. Returning ErrWorkerBreak stops the scheduler
// after the current round; any other error is logged and ignored.
type Hook func(ctx context.Context, pool PoolKind, batch []frontier.Record) error

// Config configures one Scheduler instance.
type Config struct {
	Pool        PoolKind
	Queue       frontier.Queue
	MaxPool     int           // per-round pop cap
	Concurrency int           // worker degree within a round
	DarcWait    time.Duration // empty-queue backoff
	Reboot      bool          // single-pass mode: exit once both observations are empty
}

// Scheduler drives one pool's round loop against a shared frontier.Store.
type Scheduler struct {
	cfg       Config
	frontier  frontier.Store
	processor Processor
	hooks     []Hook
	logger    *zap.Logger
}

// New constructs a Scheduler for one pool.
func New(cfg Config, store frontier.Store, processor Processor, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{cfg: cfg, frontier: store, processor: processor, logger: logger}
}

// AddHook registers an inter-round hook, invoked in registration order.
func (s *Scheduler) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Run executes the round loop until ctx is canceled, a hook signals
// ErrWorkerBreak, or REBOOT mode observes both an empty pop and an
// already-empty prior pop. It returns nil on any of these clean exits and
// a non-nil error only for unrecoverable frontier-store failures.
func (s *Scheduler) Run(ctx context.Context) error {
	observedEmpty := false
	for {
		if ctx.Err() != nil {
			return nil
		}

		roundStart := time.Now()
		batch, err := s.frontier.Pop(ctx, s.cfg.Queue, s.cfg.MaxPool)
		if err != nil {
			return errors.Join(frontier.ErrStoreUnavailable, err)
		}

		if len(batch) == 0 {
			if s.cfg.Reboot && observedEmpty {
				s.logger.Info("reboot mode: queue empty on two consecutive observations, exiting",
					zap.String("pool", string(s.cfg.Pool)))
				return nil
			}
			observedEmpty = true
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.DarcWait):
			}
			continue
		}
		observedEmpty = false

		metrics.SetQueueDepth(string(s.cfg.Queue), len(batch))
		if err := s.dispatch(ctx, batch); err != nil {
			return err
		}
		metrics.ObserveRound(string(s.cfg.Pool), time.Since(roundStart))

		if brk, err := s.runHooks(ctx, batch); err != nil {
			return err
		} else if brk {
			return nil
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, batch []frontier.Record) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	metrics.SetActiveWorkers(string(s.cfg.Pool), len(batch))
	defer metrics.SetActiveWorkers(string(s.cfg.Pool), 0)

	for _, rec := range batch {
		rec := rec
		group.Go(func() error {
			if err := s.processor.Process(gctx, rec); err != nil {
				s.logger.Error("process failed",
					zap.String("pool", string(s.cfg.Pool)),
					zap.String("url", rec.Link.URL),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	return group.Wait()
}

func (s *Scheduler) runHooks(ctx context.Context, batch []frontier.Record) (bool, error) {
	for _, hook := range s.hooks {
		if err := hook(ctx, s.cfg.Pool, batch); err != nil {
			if errors.Is(err, ErrWorkerBreak) {
				s.logger.Info("inter-round hook requested stop", zap.String("pool", string(s.cfg.Pool)))
				return true, nil
			}
			s.logger.Warn("inter-round hook failed", zap.String("pool", string(s.cfg.Pool)), zap.Error(err))
		}
	}
	return false, nil
}
