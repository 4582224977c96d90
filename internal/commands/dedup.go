// dedup.go makes mutating commands idempotent per request id.
//
// Clients that retry a request after a timeout would otherwise register the
// same task twice. When an Envelope carries a request_id, the first Response
// for that id is stored and replayed for any repeat. The cache is bounded and
// evicts its oldest tenth when full.
package commands

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
)

// defaultMaxSeen is the maximum number of request ids to remember.
const defaultMaxSeen = 1000

type replayEntry struct {
	resp Response
	seq  uint64
}

// ReplayCache remembers responses by request id.
type ReplayCache struct {
	mu      sync.Mutex
	seen    map[string]replayEntry
	seq     uint64
	maxSeen int
	logger  *slog.Logger
}

// NewReplayCache creates an empty cache.
func NewReplayCache(logger *slog.Logger) *ReplayCache {
	return &ReplayCache{
		seen:    make(map[string]replayEntry),
		maxSeen: defaultMaxSeen,
		logger:  logger,
	}
}

// Lookup returns the stored response for id.
func (c *ReplayCache) Lookup(id string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[id]
	if ok {
		c.logger.Debug("replaying response for duplicate request",
			slog.String("request_id", id),
		)
	}
	return e.resp, ok
}

// Store remembers resp for id. An id that is already stored keeps its first
// response.
func (c *ReplayCache) Store(id string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return
	}
	c.seq++
	c.seen[id] = replayEntry{resp: resp, seq: c.seq}
	if len(c.seen) > c.maxSeen {
		c.evictOldest()
	}
}

// Len returns the number of remembered request ids.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest drops the oldest tenth of the cache. Call with c.mu held.
func (c *ReplayCache) evictOldest() {
	toRemove := max(c.maxSeen/10, 1)

	type entry struct {
		id  string
		seq uint64
	}
	entries := make([]entry, 0, len(c.seen))
	for id, e := range c.seen {
		entries = append(entries, entry{id: id, seq: e.seq})
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })

	for _, e := range entries[:min(toRemove, len(entries))] {
		delete(c.seen, e.id)
	}

	c.logger.Debug("evicted old request ids",
		slog.Int("removed", toRemove),
		slog.Int("remaining", len(c.seen)),
	)
}
