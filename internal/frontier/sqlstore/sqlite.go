package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS frontier_entries (
	queue TEXT NOT NULL,
	hash BLOB NOT NULL,
	url TEXT NOT NULL,
	scheme TEXT NOT NULL,
	host TEXT NOT NULL,
	path TEXT NOT NULL,
	query TEXT NOT NULL,
	fragment TEXT NOT NULL,
	proxy TEXT NOT NULL,
	enqueue_time DATETIME NOT NULL,
	not_before DATETIME,
	PRIMARY KEY (queue, hash)
);
CREATE TABLE IF NOT EXISTS frontier_hosts (
	host TEXT PRIMARY KEY,
	first_seen DATETIME NOT NULL,
	robots_fetched INTEGER NOT NULL DEFAULT 0,
	sitemap_fetched INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS frontier_visits (
	hash BLOB NOT NULL,
	kind TEXT NOT NULL,
	last_visit DATETIME NOT NULL,
	PRIMARY KEY (hash, kind)
);
CREATE TABLE IF NOT EXISTS frontier_locks (
	hash BLOB PRIMARY KEY,
	token TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);
`

// SqliteStore is the embedded, single-process default frontier backend,
// mirroring the original implementation's default SqliteDatabase.
type SqliteStore struct {
	db            *sql.DB
	retryInterval time.Duration // backoff between retries of a transient store error and lock-busy polls
	bulkSize      int           // AddMany batch size; <= 0 means one batch
	lockContended atomic.Int64
}

// NewSqliteStore opens (creating if absent) a SQLite database at path and
// ensures the schema exists. path may be ":memory:" for tests. retryInterval
// paces retries of transient errors and lock-acquire polling; bulkSize caps
// how many links AddMany commits per transaction.
func NewSqliteStore(ctx context.Context, path string, retryInterval time.Duration, bulkSize int) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite frontier: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers across conns
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite frontier schema: %w", err)
	}
	return &SqliteStore{db: db, retryInterval: retryInterval, bulkSize: bulkSize}, nil
}

func (s *SqliteStore) AddMany(ctx context.Context, q frontier.Queue, links []link.Link) error {
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

func (s *SqliteStore) addManyChunk(ctx context.Context, q frontier.Queue, links []link.Link) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("frontier add-many: %w", err)
	}
	defer tx.Rollback()
	for _, l := range links {
		var notBefore *time.Time
		err := tx.QueryRowContext(ctx, `SELECT not_before FROM frontier_entries WHERE queue=? AND hash=?`, string(q), l.Hash[:]).Scan(&notBefore)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO frontier_entries (queue, hash, url, scheme, host, path, query, fragment, proxy, enqueue_time, not_before)
				VALUES (?,?,?,?,?,?,?,?,?,?,NULL)
			`, string(q), l.Hash[:], l.URL, l.Scheme, l.Host, l.Path, l.Query, l.Fragment, string(l.Proxy), now); err != nil {
				return fmt.Errorf("frontier add-many insert: %w", err)
			}
		case err != nil:
			return fmt.Errorf("frontier add-many lookup: %w", err)
		default:
			if notBefore != nil && !notBefore.After(now) {
				if _, err := tx.ExecContext(ctx, `UPDATE frontier_entries SET enqueue_time=?, not_before=NULL WHERE queue=? AND hash=?`,
					now, string(q), l.Hash[:]); err != nil {
					return fmt.Errorf("frontier add-many refresh: %w", err)
				}
			}
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) Pop(ctx context.Context, q frontier.Queue, max int) ([]frontier.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("frontier pop: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT hash, url, scheme, host, path, query, fragment, proxy, enqueue_time, not_before
		FROM frontier_entries
		WHERE queue=? AND (not_before IS NULL OR not_before <= ?)
		ORDER BY enqueue_time ASC
		LIMIT ?
	`, string(q), time.Now().UTC(), max)
	if err != nil {
		return nil, fmt.Errorf("frontier pop select: %w", err)
	}
	var out []frontier.Record
	var hashes [][]byte
	for rows.Next() {
		var (
			hashBytes []byte
			rec       frontier.Record
			notBefore *time.Time
		)
		if err := rows.Scan(&hashBytes, &rec.Link.URL, &rec.Link.Scheme, &rec.Link.Host, &rec.Link.Path,
			&rec.Link.Query, &rec.Link.Fragment, &rec.Link.Proxy, &rec.EnqueueTime, &notBefore); err != nil {
			rows.Close()
			return nil, fmt.Errorf("frontier pop scan: %w", err)
		}
		copy(rec.Hash[:], hashBytes)
		rec.Link.Hash = rec.Hash
		if notBefore != nil {
			rec.NotBefore = *notBefore
		}
		out = append(out, rec)
		hashes = append(hashes, hashBytes)
	}
	rows.Close()
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM frontier_entries WHERE queue=? AND hash=?`, string(q), h); err != nil {
			return nil, fmt.Errorf("frontier pop delete: %w", err)
		}
	}
	return out, tx.Commit()
}

func (s *SqliteStore) Drop(ctx context.Context, q frontier.Queue, h link.Hash) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM frontier_entries WHERE queue=? AND hash=?`, string(q), h[:])
	return err
}

func (s *SqliteStore) Requeue(ctx context.Context, q frontier.Queue, l link.Link, notBefore time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE frontier_entries SET enqueue_time=?, not_before=? WHERE queue=? AND hash=?`,
		time.Now().UTC(), notBefore, string(q), l.Hash[:])
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO frontier_entries (queue, hash, url, scheme, host, path, query, fragment, proxy, enqueue_time, not_before)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`, string(q), l.Hash[:], l.URL, l.Scheme, l.Host, l.Path, l.Query, l.Fragment, string(l.Proxy), time.Now().UTC(), notBefore)
	return err
}

func (s *SqliteStore) HasHost(ctx context.Context, host string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM frontier_hosts WHERE host=?`, host).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SqliteStore) MarkHost(ctx context.Context, host string, flags frontier.HostFlags) error {
	if flags.FirstSeen.IsZero() {
		flags.FirstSeen = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frontier_hosts (host, first_seen, robots_fetched, sitemap_fetched) VALUES (?,?,?,?)
		ON CONFLICT (host) DO UPDATE SET robots_fetched=?, sitemap_fetched=?
	`, host, flags.FirstSeen, flags.RobotsFetched, flags.SitemapFetched, flags.RobotsFetched, flags.SitemapFetched)
	return err
}

func (s *SqliteStore) HostFlags(ctx context.Context, host string) (frontier.HostFlags, bool, error) {
	var f frontier.HostFlags
	err := s.db.QueryRowContext(ctx, `SELECT first_seen, robots_fetched, sitemap_fetched FROM frontier_hosts WHERE host=?`, host).
		Scan(&f.FirstSeen, &f.RobotsFetched, &f.SitemapFetched)
	if err != nil {
		return frontier.HostFlags{}, false, nil
	}
	return f, true, nil
}

func (s *SqliteStore) RecordVisit(ctx context.Context, h link.Hash, kind frontier.VisitKind, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frontier_visits (hash, kind, last_visit) VALUES (?,?,?)
		ON CONFLICT (hash, kind) DO UPDATE SET last_visit = MAX(last_visit, ?)
	`, h[:], string(kind), t, t)
	return err
}

func (s *SqliteStore) LastVisit(ctx context.Context, h link.Hash, kind frontier.VisitKind) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_visit FROM frontier_visits WHERE hash=? AND kind=?`, h[:], string(kind)).Scan(&t)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

type sqliteLock struct {
	store *SqliteStore
	hash  link.Hash
}

func (l *sqliteLock) Release(ctx context.Context) error {
	_, err := l.store.db.ExecContext(ctx, `DELETE FROM frontier_locks WHERE hash=?`, l.hash[:])
	return err
}

func (s *SqliteStore) AcquireLock(ctx context.Context, h link.Hash, timeout time.Duration) (frontier.Lock, error) {
	deadline := time.Now().Add(timeout)
	token := fmt.Sprintf("%x-%d", h[:4], time.Now().UnixNano())
	poll := s.retryInterval
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		_, err := s.db.ExecContext(ctx, `DELETE FROM frontier_locks WHERE hash=? AND expires_at < ?`, h[:], time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO frontier_locks (hash, token, expires_at)
			SELECT ?,?,? WHERE NOT EXISTS (SELECT 1 FROM frontier_locks WHERE hash=?)
		`, h[:], token, time.Now().Add(timeout), h[:])
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return &sqliteLock{store: s, hash: h}, nil
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
func (s *SqliteStore) Stats(ctx context.Context) (frontier.Stats, error) {
	var st frontier.Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM frontier_entries WHERE queue=?),
		(SELECT count(*) FROM frontier_entries WHERE queue=?),
		(SELECT count(*) FROM frontier_hosts)
	`, string(frontier.PendingFetch), string(frontier.PendingRender)).Scan(&st.PendingFetch, &st.PendingRender, &st.Hosts)
	if err != nil {
		return frontier.Stats{}, fmt.Errorf("frontier stats: %w", err)
	}
	st.LockContended = s.lockContended.Load()
	return st, nil
}

func (s *SqliteStore) Close(context.Context) error {
	return s.db.Close()
}

var _ frontier.Store = (*SqliteStore)(nil)
var _ frontier.StatsProvider = (*SqliteStore)(nil)
