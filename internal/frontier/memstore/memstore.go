// Package memstore implements frontier.Store with an in-process map and a
// per-queue min-heap, suitable as the default single-host backend.
package memstore

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/duskcrawl/duskcrawl/internal/frontier"
	"github.com/duskcrawl/duskcrawl/internal/link"
)

type entry struct {
	rec   frontier.Record
	index int // heap index, maintained by container/heap
}

type queueState struct {
	byHash map[link.Hash]*entry
	order  entryHeap
}

func newQueueState() *queueState {
	return &queueState{byHash: make(map[link.Hash]*entry)}
}

// entryHeap orders entries by enqueue-time ascending, ties broken by hash.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].rec.EnqueueTime.Equal(h[j].rec.EnqueueTime) {
		return h[i].rec.Hash.String() < h[j].rec.Hash.String()
	}
	return h[i].rec.EnqueueTime.Before(h[j].rec.EnqueueTime)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Store is an in-memory frontier.Store.
type Store struct {
	mu sync.Mutex

	queues map[frontier.Queue]*queueState
	hosts  map[string]frontier.HostFlags
	visits map[link.Hash]map[frontier.VisitKind]time.Time
	locks  map[link.Hash]*semaphore.Weighted

	lockContended atomic.Int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		queues: map[frontier.Queue]*queueState{
			frontier.PendingFetch:  newQueueState(),
			frontier.PendingRender: newQueueState(),
		},
		hosts:  make(map[string]frontier.HostFlags),
		visits: make(map[link.Hash]map[frontier.VisitKind]time.Time),
		locks:  make(map[link.Hash]*semaphore.Weighted),
	}
}

func (s *Store) AddMany(_ context.Context, q frontier.Queue, links []link.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.queues[q]
	now := time.Now().UTC()
	for _, l := range links {
		if existing, ok := qs.byHash[l.Hash]; ok {
			if !existing.rec.NotBefore.IsZero() && !existing.rec.NotBefore.After(now) {
				existing.rec.EnqueueTime = now
				existing.rec.NotBefore = time.Time{}
				heap.Fix(&qs.order, existing.index)
			}
			continue
		}
		e := &entry{rec: frontier.Record{Hash: l.Hash, Link: l, EnqueueTime: now}}
		qs.byHash[l.Hash] = e
		heap.Push(&qs.order, e)
	}
	return nil
}

func (s *Store) Pop(_ context.Context, q frontier.Queue, max int) ([]frontier.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.queues[q]
	now := time.Now().UTC()

	var ready []*entry
	var notReady []*entry
	for qs.order.Len() > 0 && len(ready) < max {
		e := qs.order[0]
		if !e.rec.NotBefore.IsZero() && e.rec.NotBefore.After(now) {
			break // heap is ordered by enqueue-time, not not-before; fall through to scan below
		}
		heap.Pop(&qs.order)
		delete(qs.byHash, e.rec.Hash)
		ready = append(ready, e)
	}
	// The heap orders by enqueue-time; entries with a future NotBefore can
	// be interleaved with ready ones, so do a full scan for the remainder.
	// Candidates found this way must still come out enqueue-time-ascending
	// (ties by hash), so sort them before truncating to the remaining slots.
	if len(ready) < max {
		remaining := qs.order
		qs.order = nil
		var candidates []*entry
		for _, e := range remaining {
			if e.rec.NotBefore.IsZero() || !e.rec.NotBefore.After(now) {
				candidates = append(candidates, e)
			} else {
				notReady = append(notReady, e)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].rec.EnqueueTime.Equal(candidates[j].rec.EnqueueTime) {
				return candidates[i].rec.Hash.String() < candidates[j].rec.Hash.String()
			}
			return candidates[i].rec.EnqueueTime.Before(candidates[j].rec.EnqueueTime)
		})
		room := max - len(ready)
		if room > len(candidates) {
			room = len(candidates)
		}
		for _, e := range candidates[:room] {
			delete(qs.byHash, e.rec.Hash)
			ready = append(ready, e)
		}
		notReady = append(notReady, candidates[room:]...)
		for _, e := range notReady {
			heap.Push(&qs.order, e)
		}
	}

	out := make([]frontier.Record, 0, len(ready))
	for _, e := range ready {
		out = append(out, e.rec)
	}
	return out, nil
}

func (s *Store) Drop(_ context.Context, q frontier.Queue, h link.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.queues[q]
	e, ok := qs.byHash[h]
	if !ok {
		return nil
	}
	heap.Remove(&qs.order, e.index)
	delete(qs.byHash, h)
	return nil
}

func (s *Store) Requeue(_ context.Context, q frontier.Queue, l link.Link, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.queues[q]
	if e, ok := qs.byHash[l.Hash]; ok {
		e.rec.NotBefore = notBefore
		e.rec.EnqueueTime = time.Now().UTC()
		heap.Fix(&qs.order, e.index)
		return nil
	}
	e := &entry{rec: frontier.Record{Hash: l.Hash, Link: l, EnqueueTime: time.Now().UTC(), NotBefore: notBefore}}
	qs.byHash[l.Hash] = e
	heap.Push(&qs.order, e)
	return nil
}

func (s *Store) HasHost(_ context.Context, host string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hosts[host]
	return ok, nil
}

func (s *Store) MarkHost(_ context.Context, host string, flags frontier.HostFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flags.FirstSeen.IsZero() {
		if existing, ok := s.hosts[host]; ok {
			flags.FirstSeen = existing.FirstSeen
		} else {
			flags.FirstSeen = time.Now().UTC()
		}
	}
	s.hosts[host] = flags
	return nil
}

func (s *Store) HostFlags(_ context.Context, host string) (frontier.HostFlags, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.hosts[host]
	return f, ok, nil
}

func (s *Store) RecordVisit(_ context.Context, h link.Hash, kind frontier.VisitKind, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.visits[h]
	if !ok {
		m = make(map[frontier.VisitKind]time.Time)
		s.visits[h] = m
	}
	if existing, ok := m[kind]; !ok || t.After(existing) {
		m[kind] = t
	}
	return nil
}

func (s *Store) LastVisit(_ context.Context, h link.Hash, kind frontier.VisitKind) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.visits[h]
	if !ok {
		return time.Time{}, false, nil
	}
	t, ok := m[kind]
	return t, ok, nil
}

func (s *Store) lockFor(h link.Hash) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.locks[h]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[h] = sem
	}
	return sem
}

type memLock struct {
	sem *semaphore.Weighted
}

func (l *memLock) Release(context.Context) error {
	l.sem.Release(1)
	return nil
}

func (s *Store) AcquireLock(ctx context.Context, h link.Hash, timeout time.Duration) (frontier.Lock, error) {
	sem := s.lockFor(h)
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sem.Acquire(wctx, 1); err != nil {
		s.lockContended.Add(1)
		return nil, frontier.ErrLockBusy
	}
	return &memLock{sem: sem}, nil
}

// Stats implements frontier.StatsProvider.
func (s *Store) Stats(context.Context) (frontier.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return frontier.Stats{
		PendingFetch:  s.queues[frontier.PendingFetch].order.Len(),
		PendingRender: s.queues[frontier.PendingRender].order.Len(),
		Hosts:         len(s.hosts),
		LockContended: s.lockContended.Load(),
	}, nil
}

func (s *Store) Close(context.Context) error { return nil }

var _ frontier.Store = (*Store)(nil)
var _ frontier.StatsProvider = (*Store)(nil)
