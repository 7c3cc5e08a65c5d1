package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
)

func mustLink(t *testing.T, raw string) link.Link {
	t.Helper()
	l, err := link.Parse(raw)
	require.NoError(t, err)
	return l
}

func TestStore_AddManyDeduplicatesByHash(t *testing.T) {
	t.Parallel()

	s := New()
	l := mustLink(t, "http://example.onion/a")
	require.NoError(t, s.AddMany(context.Background(), frontier.PendingFetch, []link.Link{l, l}))

	recs, err := s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestStore_PopOrdersByEnqueueTime(t *testing.T) {
	t.Parallel()

	s := New()
	first := mustLink(t, "http://example.onion/first")
	require.NoError(t, s.AddMany(context.Background(), frontier.PendingFetch, []link.Link{first}))
	time.Sleep(2 * time.Millisecond)
	second := mustLink(t, "http://example.onion/second")
	require.NoError(t, s.AddMany(context.Background(), frontier.PendingFetch, []link.Link{second}))

	recs, err := s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, first.Hash, recs[0].Hash)
	require.Equal(t, second.Hash, recs[1].Hash)
}

func TestStore_PopRespectsNotBefore(t *testing.T) {
	t.Parallel()

	s := New()
	l := mustLink(t, "http://example.onion/future")
	require.NoError(t, s.Requeue(context.Background(), frontier.PendingFetch, l, time.Now().Add(time.Hour)))

	recs, err := s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, recs)

	require.NoError(t, s.Requeue(context.Background(), frontier.PendingFetch, l, time.Now().Add(-time.Minute)))
	recs, err = s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestStore_PopFallbackScanPreservesEnqueueOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	blocked := mustLink(t, "http://example.onion/blocked")
	require.NoError(t, s.Requeue(ctx, frontier.PendingFetch, blocked, time.Now().Add(time.Hour)))

	var ready []link.Link
	for i := 0; i < 5; i++ {
		l := mustLink(t, "http://example.onion/ready-"+string(rune('a'+i)))
		ready = append(ready, l)
		require.NoError(t, s.AddMany(ctx, frontier.PendingFetch, []link.Link{l}))
		time.Sleep(time.Millisecond)
	}

	// The blocked entry sits at the heap root (earliest enqueue time) but is
	// not ready; Pop must fall back to a scan and still return the ready
	// entries in enqueue-time-ascending order, not heap-array order.
	recs, err := s.Pop(ctx, frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	for i, want := range ready {
		require.Equalf(t, want.Hash, recs[i].Hash, "position %d", i)
	}

	remaining, err := s.Pop(ctx, frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestStore_PopFallbackScanTruncatesToMax(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	blocked := mustLink(t, "http://example.onion/blocked-2")
	require.NoError(t, s.Requeue(ctx, frontier.PendingFetch, blocked, time.Now().Add(time.Hour)))

	var ready []link.Link
	for i := 0; i < 4; i++ {
		l := mustLink(t, "http://example.onion/cap-"+string(rune('a'+i)))
		ready = append(ready, l)
		require.NoError(t, s.AddMany(ctx, frontier.PendingFetch, []link.Link{l}))
		time.Sleep(time.Millisecond)
	}

	first, err := s.Pop(ctx, frontier.PendingFetch, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, ready[0].Hash, first[0].Hash)
	require.Equal(t, ready[1].Hash, first[1].Hash)

	second, err := s.Pop(ctx, frontier.PendingFetch, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, ready[2].Hash, second[0].Hash)
	require.Equal(t, ready[3].Hash, second[1].Hash)
}

func TestStore_PopIsDestructive(t *testing.T) {
	t.Parallel()

	s := New()
	l := mustLink(t, "http://example.onion/once")
	require.NoError(t, s.AddMany(context.Background(), frontier.PendingFetch, []link.Link{l}))

	recs, err := s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	recs, err = s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestStore_Drop(t *testing.T) {
	t.Parallel()

	s := New()
	l := mustLink(t, "http://example.onion/drop-me")
	require.NoError(t, s.AddMany(context.Background(), frontier.PendingFetch, []link.Link{l}))
	require.NoError(t, s.Drop(context.Background(), frontier.PendingFetch, l.Hash))

	recs, err := s.Pop(context.Background(), frontier.PendingFetch, 10)
	require.NoError(t, err)
	require.Empty(t, recs)

	// Dropping an absent hash is a no-op, not an error.
	require.NoError(t, s.Drop(context.Background(), frontier.PendingFetch, l.Hash))
}

func TestStore_HostFlags(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.HostFlags(context.Background(), "example.onion")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.MarkHost(context.Background(), "example.onion", frontier.HostFlags{RobotsFetched: true}))
	flags, ok, err := s.HostFlags(context.Background(), "example.onion")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, flags.RobotsFetched)

	seen, err := s.HasHost(context.Background(), "example.onion")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestStore_VisitTracking(t *testing.T) {
	t.Parallel()

	s := New()
	l := mustLink(t, "http://example.onion/visited")

	_, ok, err := s.LastVisit(context.Background(), l.Hash, frontier.Fetched)
	require.NoError(t, err)
	require.False(t, ok)

	now := time.Now().UTC()
	require.NoError(t, s.RecordVisit(context.Background(), l.Hash, frontier.Fetched, now))

	got, ok, err := s.LastVisit(context.Background(), l.Hash, frontier.Fetched)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(now))

	// An older timestamp must not regress the recorded visit time.
	require.NoError(t, s.RecordVisit(context.Background(), l.Hash, frontier.Fetched, now.Add(-time.Hour)))
	got, _, err = s.LastVisit(context.Background(), l.Hash, frontier.Fetched)
	require.NoError(t, err)
	require.True(t, got.Equal(now))
}

func TestStore_AcquireLockBlocksConcurrentHolders(t *testing.T) {
	t.Parallel()

	s := New()
	l := mustLink(t, "http://example.onion/locked")

	lock, err := s.AcquireLock(context.Background(), l.Hash, time.Second)
	require.NoError(t, err)

	_, err = s.AcquireLock(context.Background(), l.Hash, 20*time.Millisecond)
	require.ErrorIs(t, err, frontier.ErrLockBusy)

	require.NoError(t, lock.Release(context.Background()))

	lock2, err := s.AcquireLock(context.Background(), l.Hash, time.Second)
	require.NoError(t, err)
	require.NoError(t, lock2.Release(context.Background()))
}
