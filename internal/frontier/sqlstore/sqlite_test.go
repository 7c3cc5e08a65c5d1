package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
)

func newTestSqliteStore(t *testing.T) *SqliteStore {
	t.Helper()
	st, err := NewSqliteStore(context.Background(), ":memory:", 10*time.Millisecond, 100)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close(context.Background())) })
	return st
}

func TestSqliteStoreAddManyDedupesByHash(t *testing.T) {
	st := newTestSqliteStore(t)
	ctx := context.Background()

	l, err := link.Parse("https://example.com/a")
	require.NoError(t, err)

	require.NoError(t, st.AddMany(ctx, frontier.PendingFetch, []link.Link{l, l}))

	recs, err := st.Pop(ctx, frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, l.URL, recs[0].Link.URL)
}

func TestSqliteStorePopRespectsNotBefore(t *testing.T) {
	st := newTestSqliteStore(t)
	ctx := context.Background()

	l, err := link.Parse("https://example.com/future")
	require.NoError(t, err)
	require.NoError(t, st.Requeue(ctx, frontier.PendingFetch, l, time.Now().Add(time.Hour)))

	recs, err := st.Pop(ctx, frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestSqliteStorePopRemovesEntries(t *testing.T) {
	st := newTestSqliteStore(t)
	ctx := context.Background()

	l, err := link.Parse("https://example.com/a")
	require.NoError(t, err)
	require.NoError(t, st.AddMany(ctx, frontier.PendingFetch, []link.Link{l}))

	first, err := st.Pop(ctx, frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := st.Pop(ctx, frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestSqliteStoreHostFlagsRoundtrip(t *testing.T) {
	st := newTestSqliteStore(t)
	ctx := context.Background()

	ok, err := st.HasHost(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.MarkHost(ctx, "example.com", frontier.HostFlags{RobotsFetched: true}))

	ok, err = st.HasHost(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)

	flags, found, err := st.HostFlags(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, flags.RobotsFetched)
	require.False(t, flags.SitemapFetched)
}

func TestSqliteStoreRecordVisitMonotonic(t *testing.T) {
	st := newTestSqliteStore(t)
	ctx := context.Background()

	var h link.Hash
	older := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	newer := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.RecordVisit(ctx, h, frontier.Fetched, newer))
	require.NoError(t, st.RecordVisit(ctx, h, frontier.Fetched, older))

	got, ok, err := st.LastVisit(ctx, h, frontier.Fetched)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, newer, got, time.Second)
}

func TestSqliteStoreLockExclusivity(t *testing.T) {
	st := newTestSqliteStore(t)
	ctx := context.Background()

	var h link.Hash
	lock, err := st.AcquireLock(ctx, h, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = st.AcquireLock(ctx, h, 20*time.Millisecond)
	require.ErrorIs(t, err, frontier.ErrLockBusy)

	require.NoError(t, lock.Release(ctx))

	lock2, err := st.AcquireLock(ctx, h, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, lock2.Release(ctx))
}
