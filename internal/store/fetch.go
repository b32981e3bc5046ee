package store

import (
	"slices"
	"sync"
	"time"

	"github.com/roach88/livestore/internal/value"
)

// Fetch policy defaults.
const (
	DefaultFetchBatchSize = 20
	DefaultFetchTimeout   = 10 * time.Second
)

// FetchPolicy controls how missing records are requested.
type FetchPolicy struct {
	BatchSize int           // ids per request
	Timeout   time.Duration // per request, enforced by the Fetcher
	Endpoint  string        // where the Fetcher sends requests
}

func (p FetchPolicy) withDefaults() FetchPolicy {
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultFetchBatchSize
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultFetchTimeout
	}
	return p
}

// FetchRequest asks for the records with the given ids.
type FetchRequest struct {
	Store  string
	IDs    []value.ID
	Policy FetchPolicy

	release func(ids []value.ID)
}

// Release hands ids back to the store so a later GetOrRequest asks for
// them again. Without arguments it releases every id of the request.
// Fetchers call it when a request fails or its response lacks some ids.
// It may be called from any goroutine; the store applies it on its next
// fetch operation. A release that arrives after a store reset is
// ignored.
func (r FetchRequest) Release(ids ...value.ID) {
	if r.release == nil {
		return
	}
	if len(ids) == 0 {
		ids = r.IDs
	}
	r.release(ids)
}

// Fetcher starts a request for missing records. Request must not block
// on the network: results re-enter the store as ordinary create events
// through the ingestion path. A returned error releases the ids at once;
// a request that fails later releases them with FetchRequest.Release.
type Fetcher interface {
	Request(req FetchRequest) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(req FetchRequest) error

// Request implements Fetcher.
func (f FetcherFunc) Request(req FetchRequest) error { return f(req) }

type fetchQueue struct {
	store    string
	policy   FetchPolicy
	fetcher  Fetcher
	pending  []value.ID
	inflight map[value.ID]struct{} // pending or requested, not yet created
	gen      uint64                // bumped by reset

	mu       sync.Mutex
	released []releasedIDs // filled from fetcher goroutines
}

type releasedIDs struct {
	gen uint64
	ids []value.ID
}

func newFetchQueue(store string, policy FetchPolicy, f Fetcher) *fetchQueue {
	return &fetchQueue{
		store:    store,
		policy:   policy.withDefaults(),
		fetcher:  f,
		inflight: make(map[value.ID]struct{}),
	}
}

func (q *fetchQueue) reset() {
	q.pending = nil
	clear(q.inflight)
	q.gen++
	q.mu.Lock()
	q.released = nil
	q.mu.Unlock()
}

func (q *fetchQueue) releaser() func([]value.ID) {
	gen := q.gen
	return func(ids []value.ID) {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.released = append(q.released, releasedIDs{gen: gen, ids: slices.Clone(ids)})
	}
}

// drainReleased forgets the in-flight state of released ids.
func (q *fetchQueue) drainReleased() {
	q.mu.Lock()
	batches := q.released
	q.released = nil
	q.mu.Unlock()

	for _, b := range batches {
		if b.gen != q.gen {
			continue
		}
		for _, id := range b.ids {
			delete(q.inflight, id)
		}
	}
}

// GetOrRequest returns the record with the given id, or queues a request
// for it and reports false. Placeholder ids are never requested, and an
// id already queued or in flight is not requested twice.
func (s *Store) GetOrRequest(id value.ID) (*Record, bool) {
	if rec, ok := s.records[id]; ok {
		return rec, true
	}
	if s.fetch == nil || !id.Valid() || id.IsPlaceholder() {
		return nil, false
	}
	q := s.fetch
	q.drainReleased()
	if _, ok := q.inflight[id]; ok {
		return nil, false
	}
	q.inflight[id] = struct{}{}
	q.pending = append(q.pending, id)
	if len(q.pending) >= q.policy.BatchSize {
		s.FlushRequests()
	}
	return nil, false
}

// FlushRequests hands queued ids to the Fetcher even if the batch is not
// full, and returns how many ids were handed off.
func (s *Store) FlushRequests() int {
	if s.fetch == nil || len(s.fetch.pending) == 0 {
		return 0
	}
	q := s.fetch
	ids := q.pending
	q.pending = nil

	req := FetchRequest{Store: q.store, IDs: ids, Policy: q.policy, release: q.releaser()}
	if err := q.fetcher.Request(req); err != nil {
		s.logger.Warn("fetch request failed", "ids", len(ids), "error", err)
		for _, id := range ids {
			delete(q.inflight, id)
		}
		return 0
	}
	s.logger.Debug("fetch requested", "ids", len(ids))
	return len(ids)
}

// Requested reports whether id is queued or in flight.
func (s *Store) Requested(id value.ID) bool {
	if s.fetch == nil {
		return false
	}
	s.fetch.drainReleased()
	_, ok := s.fetch.inflight[id]
	return ok
}

func (s *Store) fetchDone(id value.ID) {
	if s.fetch == nil {
		return
	}
	if _, ok := s.fetch.inflight[id]; !ok {
		return
	}
	delete(s.fetch.inflight, id)
	for i, p := range s.fetch.pending {
		if p == id {
			s.fetch.pending = append(s.fetch.pending[:i], s.fetch.pending[i+1:]...)
			break
		}
	}
}
