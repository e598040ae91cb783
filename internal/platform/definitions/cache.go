package definitions

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the remote side of the cache. *Client implements it.
type Fetcher interface {
	ListSegments(ctx context.Context, version string) ([]SegmentSummary, error)
	GetSegment(ctx context.Context, version, segmentID string) (SegmentDetail, error)
}

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// Cache memoizes segment catalogs and segment details per version.
//
// Concurrent lookups of the same key share a single outbound fetch. Fetches
// are detached from the caller's context: a caller that stops waiting does
// not abort the request, and its result still lands in the cache. Failed
// fetches and details without fields are never stored.
type Cache struct {
	fetcher Fetcher
	clock   Clock
	ttl     time.Duration
	logger  zerolog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	segments map[string]entry[[]SegmentSummary]
	details  map[string]entry[SegmentDetail]
	gens     map[string]uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	fetches   atomic.Uint64
	evictions atomic.Uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock sets the time source used to age entries.
func WithCacheClock(clock Clock) CacheOption {
	return func(c *Cache) { c.clock = clock }
}

// WithEntryTTL expires entries after d. Zero keeps them for the life of the cache.
func WithEntryTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = d }
}

// WithCacheLogger sets the cache logger.
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates an empty cache in front of fetcher.
func NewCache(fetcher Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetcher:  fetcher,
		clock:    SystemClock(),
		logger:   zerolog.Nop(),
		segments: make(map[string]entry[[]SegmentSummary]),
		details:  make(map[string]entry[SegmentDetail]),
		gens:     make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats holds cache counters.
type Stats struct {
	SegmentLists int    `json:"segment_lists"`
	Details      int    `json:"details"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Fetches      uint64 `json:"fetches"`
	Evictions    uint64 `json:"evictions"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	lists, details := len(c.segments), len(c.details)
	c.mu.RUnlock()
	return Stats{
		SegmentLists: lists,
		Details:      details,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Fetches:      c.fetches.Load(),
		Evictions:    c.evictions.Load(),
	}
}

func segmentsKey(version string) string { return version }

func detailKey(version, segmentID string) string { return version + ":" + segmentID }

func normalizeSegmentID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }

// Segments returns the segment catalog for version.
func (c *Cache) Segments(ctx context.Context, version string) ([]SegmentSummary, error) {
	version = NormalizeVersion(version)
	key := segmentsKey(version)

	if e, ok := lookup(c, c.segments, key); ok {
		return slices.Clone(e.value), nil
	}

	v, err := c.do(ctx, "segments|"+key, func(fctx context.Context) (interface{}, error) {
		c.mu.RLock()
		e, ok := c.segments[key]
		gen := c.gens[key]
		c.mu.RUnlock()
		if ok {
			return e.value, nil
		}
		c.fetches.Add(1)
		list, err := c.fetcher.ListSegments(fctx, version)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gens[key] == gen {
			c.segments[key] = entry[[]SegmentSummary]{value: list, storedAt: c.clock.Now()}
		}
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]SegmentSummary)), nil
}

// SegmentDetail returns the field layout of segmentID in version. A detail
// with no parseable fields is returned but not retained, so the next call
// fetches again.
func (c *Cache) SegmentDetail(ctx context.Context, version, segmentID string) (SegmentDetail, error) {
	segmentID = normalizeSegmentID(segmentID)
	if segmentID == "" {
		return SegmentDetail{}, &ValidationError{Field: "segment", Message: "is required"}
	}
	version = NormalizeVersion(version)
	key := detailKey(version, segmentID)

	if e, ok := lookup(c, c.details, key); ok {
		return cloneDetail(e.value), nil
	}

	v, err := c.do(ctx, "detail|"+key, func(fctx context.Context) (interface{}, error) {
		c.mu.RLock()
		e, ok := c.details[key]
		gen := c.gens[key]
		c.mu.RUnlock()
		if ok {
			return e.value, nil
		}
		c.fetches.Add(1)
		detail, err := c.fetcher.GetSegment(fctx, version, segmentID)
		if err != nil {
			return nil, err
		}
		if len(detail.Fields) == 0 {
			c.evictions.Add(1)
			c.logger.Debug().Str("key", key).Msg("segment detail has no fields; not cached")
			return detail, nil
		}
		c.mu.Lock()
		if c.gens[key] == gen {
			c.details[key] = entry[SegmentDetail]{value: detail, storedAt: c.clock.Now()}
		}
		c.mu.Unlock()
		return detail, nil
	})
	if err != nil {
		return SegmentDetail{}, err
	}
	return cloneDetail(v.(SegmentDetail)), nil
}

// Invalidate drops the cached detail for segmentID in version. With a blank
// segmentID the version's segment catalog is dropped instead. A fetch already
// in flight for the key finishes but its result is discarded.
func (c *Cache) Invalidate(version, segmentID string) {
	version = NormalizeVersion(version)
	segmentID = normalizeSegmentID(segmentID)

	c.mu.Lock()
	var flight string
	if segmentID == "" {
		key := segmentsKey(version)
		delete(c.segments, key)
		c.gens[key]++
		flight = "segments|" + key
	} else {
		key := detailKey(version, segmentID)
		delete(c.details, key)
		c.gens[key]++
		flight = "detail|" + key
	}
	c.mu.Unlock()

	c.group.Forget(flight)
}

// do runs fn once per flight key. The caller may stop waiting when ctx is
// done; fn itself keeps running on a context without cancellation.
func (c *Cache) do(ctx context.Context, flight string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	c.misses.Add(1)
	fctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flight, func() (interface{}, error) {
		return fn(fctx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Str("flight", flight).Msg("joined in-flight definition fetch")
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func lookup[T any](c *Cache, m map[string]entry[T], key string) (entry[T], bool) {
	c.mu.RLock()
	e, ok := m[key]
	c.mu.RUnlock()
	if !ok {
		return e, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(e.storedAt) >= c.ttl {
		c.mu.Lock()
		if cur, still := m[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(m, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		return e, false
	}
	c.hits.Add(1)
	return e, true
}

func cloneDetail(d SegmentDetail) SegmentDetail {
	d.Fields = slices.Clone(d.Fields)
	return d
}
