// Package frontier defines the dual task-queue and deduplication contract
// shared by every frontier backend: an ordered, deduplicated queue pair
// (pending-fetch, pending-render), a hosts-seen set, a visit log, and
// per-hash locks.
package frontier

import (
	"context"
	"errors"
	"time"

	"github.com/duskcrawl/duskcrawl/internal/link"
)

// Queue names one of the two ordered multisets a Store maintains.
type Queue string

const (
	PendingFetch  Queue = "pending-fetch"
	PendingRender Queue = "pending-render"
)

// VisitKind distinguishes the two visit-log timestamps tracked per hash.
type VisitKind string

const (
	Fetched  VisitKind = "fetched"
	Rendered VisitKind = "rendered"
)

// ErrLockBusy is returned by AcquireLock when another worker already holds
// the lock for a hash and the blocking timeout elapses first.
var ErrLockBusy = errors.New("frontier: lock busy")

// ErrStoreUnavailable is returned when the backing store cannot be reached;
// callers should treat this as fatal (§7 StoreUnavailable, exit code 2).
var ErrStoreUnavailable = errors.New("frontier: store unavailable")

// Record is one entry in a frontier queue.
type Record struct {
	Hash        link.Hash
	Link        link.Link
	EnqueueTime time.Time
	NotBefore   time.Time // zero means "ready immediately"
}

// HostFlags are the hosts-seen bookkeeping bits for one host.
type HostFlags struct {
	FirstSeen      time.Time
	RobotsFetched  bool
	SitemapFetched bool
}

// Lock is a held mutual-exclusion token for a hash; Release must be called
// exactly once.
type Lock interface {
	Release(ctx context.Context) error
}

// Stats is a point-in-time snapshot of frontier load, surfaced by the admin
// API for operators watching a running crawl.
type Stats struct {
	PendingFetch  int   // entries currently queued for fetch
	PendingRender int   // entries currently queued for render
	Hosts         int   // distinct hosts onboarded so far
	LockContended int64 // cumulative AcquireLock calls that returned ErrLockBusy
}

// StatsProvider is implemented by Store backends that can report Stats
// cheaply; not every backend need support it (checked with a type assertion
// by callers).
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Store is the backend-agnostic frontier contract. Implementations must be
// safe under concurrent callers; ordering within a queue is FIFO by
// enqueue-time, ties broken lexicographically by hash.
type Store interface {
	// AddMany inserts links into queue in bulk, deduplicating by hash. An
	// existing entry whose NotBefore has already passed is refreshed to
	// now; otherwise the existing entry is left alone.
	AddMany(ctx context.Context, queue Queue, links []link.Link) error

	// Pop removes and returns up to max ready entries (NotBefore <= now),
	// ordered by enqueue-time ascending.
	Pop(ctx context.Context, queue Queue, max int) ([]Record, error)

	// Drop idempotently removes a link from queue.
	Drop(ctx context.Context, queue Queue, h link.Hash) error

	// Requeue re-inserts a link into queue with the given NotBefore time,
	// replacing any existing entry's timing.
	Requeue(ctx context.Context, queue Queue, l link.Link, notBefore time.Time) error

	HasHost(ctx context.Context, host string) (bool, error)
	MarkHost(ctx context.Context, host string, flags HostFlags) error
	HostFlags(ctx context.Context, host string) (HostFlags, bool, error)

	RecordVisit(ctx context.Context, h link.Hash, kind VisitKind, t time.Time) error
	LastVisit(ctx context.Context, h link.Hash, kind VisitKind) (time.Time, bool, error)

	// AcquireLock blocks up to timeout waiting for the per-hash lock. It
	// returns ErrLockBusy if the timeout elapses first.
	AcquireLock(ctx context.Context, h link.Hash, timeout time.Duration) (Lock, error)

	// Close releases any resources held by the backend.
	Close(ctx context.Context) error
}
