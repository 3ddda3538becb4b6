package verify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/verifily/vigil/fingerprint"
)

// Authority is the remote half of the cache: a check endpoint keyed by
// fingerprint and a create endpoint taking the full content payload.
// *Client satisfies it.
type Authority interface {
	Check(ctx context.Context, fp fingerprint.Identity) (*Record, error)
	Create(ctx context.Context, req CreateRequest) (*Record, error)
}

// Source says which tier satisfied a resolution.
type Source string

const (
	// SourceCache is a local hit, no network.
	SourceCache Source = "cache"
	// SourceCheck means the authority already knew the fingerprint.
	SourceCheck Source = "check"
	// SourceCreate means the content was submitted for classification.
	SourceCreate Source = "create"
	// SourceAuthor means the record came from the author's own
	// self-verification.
	SourceAuthor Source = "author"
)

type entry struct {
	rec    *Record
	origin Source
}

// Cache is the two-tier verification lookup: a session-lifetime local
// map in front of the authority.
//
// Resolve order: local hit → remote check → remote create. Once a
// fingerprint has resolved locally it never touches the network again
// for the rest of the session. Concurrent resolves for the same
// fingerprint coalesce into a single remote round trip, so one scan
// pass issues at most one create per fingerprint no matter how many
// elements carry the same text.
type Cache struct {
	mu      sync.RWMutex
	records map[fingerprint.Identity]entry

	authority Authority
	group     singleflight.Group
	logger    *slog.Logger

	hits     atomic.Int64
	checks   atomic.Int64
	creates  atomic.Int64
	failures atomic.Int64
}

// NewCache creates an empty cache in front of the given authority.
func NewCache(authority Authority, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		records:   make(map[fingerprint.Identity]entry),
		authority: authority,
		logger:    logger,
	}
}

// Get returns the locally cached record, if any. No network.
func (c *Cache) Get(fp fingerprint.Identity) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.records[fp]
	return e.rec, ok
}

// Put stores a record locally, tagged with where it came from. The
// self-verification workflow writes back with SourceAuthor so the
// passive path reports author-certified records as such.
func (c *Cache) Put(fp fingerprint.Identity, rec *Record, origin Source) {
	c.mu.Lock()
	c.records[fp] = entry{rec: rec, origin: origin}
	c.mu.Unlock()
}

func (c *Cache) getEntry(fp fingerprint.Identity) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.records[fp]
	return e, ok
}

// localSource maps a stored entry to the source a local hit reports:
// author-written records keep their provenance, everything else is a
// plain cache hit.
func localSource(e entry) Source {
	if e.origin == SourceAuthor {
		return SourceAuthor
	}
	return SourceCache
}

type resolution struct {
	rec *Record
	src Source
}

// Resolve returns the verification record for a fingerprint and the
// tier that satisfied it, consulting the local map, then the
// authority's check endpoint, then its create endpoint with the given
// payload.
//
// A transport failure caches nothing and returns the error: the caller
// gets no record for this fingerprint this pass, and a retry happens
// only if a future scan pass rediscovers the content under a fresh
// dedup pair. There is deliberately no internal retry loop.
func (c *Cache) Resolve(ctx context.Context, fp fingerprint.Identity, payload CreateRequest) (*Record, Source, error) {
	if e, ok := c.getEntry(fp); ok {
		c.hits.Add(1)
		return e.rec, localSource(e), nil
	}

	v, err, _ := c.group.Do(fp.String(), func() (any, error) {
		// A coalesced waiter may arrive after the winner stored the
		// record; re-check under the flight.
		if e, ok := c.getEntry(fp); ok {
			c.hits.Add(1)
			return resolution{rec: e.rec, src: localSource(e)}, nil
		}
		return c.resolveRemote(ctx, fp, payload)
	})
	if err != nil {
		c.failures.Add(1)
		return nil, "", err
	}
	res := v.(resolution)
	return res.rec, res.src, nil
}

func (c *Cache) resolveRemote(ctx context.Context, fp fingerprint.Identity, payload CreateRequest) (resolution, error) {
	c.checks.Add(1)
	rec, err := c.authority.Check(ctx, fp)
	if err == nil {
		c.Put(fp, rec, SourceCheck)
		return resolution{rec: rec, src: SourceCheck}, nil
	}
	if err != ErrNotFound {
		return resolution{}, err
	}

	c.creates.Add(1)
	rec, err = c.authority.Create(ctx, payload)
	if err != nil {
		return resolution{}, err
	}
	c.Put(fp, rec, SourceCreate)
	return resolution{rec: rec, src: SourceCreate}, nil
}

// CacheStats are point-in-time counters.
type CacheStats struct {
	Size     int   `json:"size"`
	Hits     int64 `json:"hits"`
	Checks   int64 `json:"checks"`
	Creates  int64 `json:"creates"`
	Failures int64 `json:"failures"`
}

// Stats returns the current counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.records)
	c.mu.RUnlock()
	return CacheStats{
		Size:     size,
		Hits:     c.hits.Load(),
		Checks:   c.checks.Load(),
		Creates:  c.creates.Load(),
		Failures: c.failures.Load(),
	}
}
