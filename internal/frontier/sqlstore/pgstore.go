// Package sqlstore implements frontier.Store against a relational backend.
// PgStore targets a real deployment's Postgres instance via pgx; SqliteStore
// (sqlite.go) targets the pure-Go embedded default.
package sqlstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
)

// pgxIface is the slice of *pgxpool.Pool's method set PgStore depends on;
// pgxmock's mock pool satisfies the same interface, letting pgstore_test.go
// drive PgStore's SQL against a mock instead of a real Postgres instance.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// schema is shared in spirit between the Postgres and SQLite variants but
// kept separate per-file since pgx and database/sql use different
// placeholder and upsert syntax.
const pgSchema = `
CREATE TABLE IF NOT EXISTS frontier_entries (
	queue TEXT NOT NULL,
	hash BYTEA NOT NULL,
	url TEXT NOT NULL,
	scheme TEXT NOT NULL,
	host TEXT NOT NULL,
	path TEXT NOT NULL,
	query TEXT NOT NULL,
	fragment TEXT NOT NULL,
	proxy TEXT NOT NULL,
	enqueue_time TIMESTAMPTZ NOT NULL,
	not_before TIMESTAMPTZ,
	PRIMARY KEY (queue, hash)
);
CREATE TABLE IF NOT EXISTS frontier_hosts (
	host TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL,
	robots_fetched BOOLEAN NOT NULL DEFAULT FALSE,
	sitemap_fetched BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS frontier_visits (
	hash BYTEA NOT NULL,
	kind TEXT NOT NULL,
	last_visit TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (hash, kind)
);
CREATE TABLE IF NOT EXISTS frontier_locks (
	hash BYTEA PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// PgStore is a Postgres-backed frontier.Store for multi-process deployments.
type PgStore struct {
	pool          pgxIface
	retryInterval time.Duration // backoff between retries of a transient store error and lock-busy polls
	bulkSize      int           // AddMany batch size; <= 0 means one batch
	lockContended atomic.Int64
}

// NewPgStore connects to dsn and ensures the schema exists. retryInterval
// paces retries of transient connection errors and lock-acquire polling;
// bulkSize caps how many links AddMany commits per transaction.
func NewPgStore(ctx context.Context, dsn string, retryInterval time.Duration, bulkSize int) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres frontier: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres frontier schema: %w", err)
	}
	return &PgStore{pool: pool, retryInterval: retryInterval, bulkSize: bulkSize}, nil
}

func (s *PgStore) AddMany(ctx context.Context, q frontier.Queue, links []link.Link) error {
	chunkSize := s.bulkSize
	if chunkSize <= 0 {
		chunkSize = len(links)
	}
	for start := 0; start < len(links); start += chunkSize {
		end := start + chunkSize
		if end > len(links) || chunkSize == 0 {
			end = len(links)
		}
		chunk := links[start:end]
		if err := retryOnTransient(ctx, s.retryInterval, 3, func() error {
			return s.addManyChunk(ctx, q, chunk)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *PgStore) addManyChunk(ctx context.Context, q frontier.Queue, links []link.Link) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("frontier add-many begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, l := range links {
		_, err := tx.Exec(ctx, `
			INSERT INTO frontier_entries (queue, hash, url, scheme, host, path, query, fragment, proxy, enqueue_time, not_before)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL)
			ON CONFLICT (queue, hash) DO UPDATE SET
				enqueue_time = CASE WHEN frontier_entries.not_before IS NOT NULL AND frontier_entries.not_before <= $10
					THEN $10 ELSE frontier_entries.enqueue_time END,
				not_before = CASE WHEN frontier_entries.not_before IS NOT NULL AND frontier_entries.not_before <= $10
					THEN NULL ELSE frontier_entries.not_before END
		`, string(q), l.Hash[:], l.URL, l.Scheme, l.Host, l.Path, l.Query, l.Fragment, string(l.Proxy), now)
		if err != nil {
			return fmt.Errorf("frontier add-many: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Pop(ctx context.Context, q frontier.Queue, max int) ([]frontier.Record, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM frontier_entries
		WHERE queue = $1 AND ctid IN (
			SELECT ctid FROM frontier_entries
			WHERE queue = $1 AND (not_before IS NULL OR not_before <= now())
			ORDER BY enqueue_time ASC
			LIMIT $2
		)
		RETURNING hash, url, scheme, host, path, query, fragment, proxy, enqueue_time, not_before
	`, string(q), max)
	if err != nil {
		return nil, fmt.Errorf("frontier pop: %w", err)
	}
	defer rows.Close()

	var out []frontier.Record
	for rows.Next() {
		var (
			hashBytes []byte
			rec       frontier.Record
			notBefore *time.Time
		)
		if err := rows.Scan(&hashBytes, &rec.Link.URL, &rec.Link.Scheme, &rec.Link.Host, &rec.Link.Path,
			&rec.Link.Query, &rec.Link.Fragment, &rec.Link.Proxy, &rec.EnqueueTime, &notBefore); err != nil {
			return nil, fmt.Errorf("frontier pop scan: %w", err)
		}
		copy(rec.Hash[:], hashBytes)
		rec.Link.Hash = rec.Hash
		if notBefore != nil {
			rec.NotBefore = *notBefore
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PgStore) Drop(ctx context.Context, q frontier.Queue, h link.Hash) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM frontier_entries WHERE queue=$1 AND hash=$2`, string(q), h[:])
	return err
}

func (s *PgStore) Requeue(ctx context.Context, q frontier.Queue, l link.Link, notBefore time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frontier_entries (queue, hash, url, scheme, host, path, query, fragment, proxy, enqueue_time, not_before)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),$10)
		ON CONFLICT (queue, hash) DO UPDATE SET enqueue_time = now(), not_before = $10
	`, string(q), l.Hash[:], l.URL, l.Scheme, l.Host, l.Path, l.Query, l.Fragment, string(l.Proxy), notBefore)
	return err
}

func (s *PgStore) HasHost(ctx context.Context, host string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM frontier_hosts WHERE host=$1)`, host).Scan(&exists)
	return exists, err
}

func (s *PgStore) MarkHost(ctx context.Context, host string, flags frontier.HostFlags) error {
	if flags.FirstSeen.IsZero() {
		flags.FirstSeen = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frontier_hosts (host, first_seen, robots_fetched, sitemap_fetched)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (host) DO UPDATE SET robots_fetched=$3, sitemap_fetched=$4
	`, host, flags.FirstSeen, flags.RobotsFetched, flags.SitemapFetched)
	return err
}

func (s *PgStore) HostFlags(ctx context.Context, host string) (frontier.HostFlags, bool, error) {
	var f frontier.HostFlags
	err := s.pool.QueryRow(ctx, `SELECT first_seen, robots_fetched, sitemap_fetched FROM frontier_hosts WHERE host=$1`, host).
		Scan(&f.FirstSeen, &f.RobotsFetched, &f.SitemapFetched)
	if err != nil {
		return frontier.HostFlags{}, false, nil
	}
	return f, true, nil
}

func (s *PgStore) RecordVisit(ctx context.Context, h link.Hash, kind frontier.VisitKind, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frontier_visits (hash, kind, last_visit) VALUES ($1,$2,$3)
		ON CONFLICT (hash, kind) DO UPDATE SET last_visit = GREATEST(frontier_visits.last_visit, $3)
	`, h[:], string(kind), t)
	return err
}

func (s *PgStore) LastVisit(ctx context.Context, h link.Hash, kind frontier.VisitKind) (time.Time, bool, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_visit FROM frontier_visits WHERE hash=$1 AND kind=$2`, h[:], string(kind)).Scan(&t)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

type pgLock struct {
	store *PgStore
	hash  link.Hash
}

func (l *pgLock) Release(ctx context.Context) error {
	_, err := l.store.pool.Exec(ctx, `DELETE FROM frontier_locks WHERE hash=$1`, l.hash[:])
	return err
}

// AcquireLock implements the spec's atomic compare-and-set lock primitive:
// an upsert that only succeeds when no unexpired lock is held.
func (s *PgStore) AcquireLock(ctx context.Context, h link.Hash, timeout time.Duration) (frontier.Lock, error) {
	deadline := time.Now().Add(timeout)
	token := fmt.Sprintf("%x-%d", h[:4], time.Now().UnixNano())
	poll := s.retryInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO frontier_locks (hash, token, expires_at) VALUES ($1,$2,$3)
			ON CONFLICT (hash) DO UPDATE SET token=$2, expires_at=$3
			WHERE frontier_locks.expires_at < now()
		`, h[:], token, time.Now().Add(timeout))
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return &pgLock{store: s, hash: h}, nil
		}
		if time.Now().After(deadline) {
			s.lockContended.Add(1)
			return nil, frontier.ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Stats implements frontier.StatsProvider.
func (s *PgStore) Stats(ctx context.Context) (frontier.Stats, error) {
	var st frontier.Stats
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM frontier_entries WHERE queue = $1),
		(SELECT count(*) FROM frontier_entries WHERE queue = $2),
		(SELECT count(*) FROM frontier_hosts)
	`, string(frontier.PendingFetch), string(frontier.PendingRender)).Scan(&st.PendingFetch, &st.PendingRender, &st.Hosts)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	st.LockContended = s.lockContended.Load()
	return st, nil
}

func (s *PgStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

var _ frontier.Store = (*PgStore)(nil)
var _ frontier.StatsProvider = (*PgStore)(nil)
