package service

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ladybird/contentsec/internal/domain/policygraph"
)

// OptionalPolicy distinguishes "no policy matched, and we know it" (Present
// true, Policy nil) from "we haven't looked this up yet" (a cache miss,
// i.e. absent from the map entirely), so a known-absent decision is
// cacheable in its own right.
type OptionalPolicy struct {
	Present bool
	Policy  *policygraph.Policy
}

// cacheEntry is a doubly-linked-list node for the decision cache's LRU
// order.
type cacheEntry struct {
	key    uint64
	value  OptionalPolicy
	prev   *cacheEntry
	next   *cacheEntry
}

// DecisionCache is PolicyGraph's in-process LRU, keyed on
// (url, file_hash, mime_type, rule_name). O(1) get/put; hit/miss/eviction
// counters are observable via Stats.
type DecisionCache struct {
	mu       sync.Mutex
	entries  map[uint64]*cacheEntry
	head     *cacheEntry
	tail     *cacheEntry
	maxSize  int
	hits     int64
	misses   int64
	evicted  int64
}

// CacheStats is an observable snapshot of DecisionCache counters.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Evicted  int64
	Size     int
}

// NewDecisionCache creates an LRU with the given capacity. A non-positive
// size defaults to 1000.
func NewDecisionCache(maxSize int) *DecisionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DecisionCache{
		entries: make(map[uint64]*cacheEntry, maxSize),
		maxSize: maxSize,
	}
}

// CacheKeyHash computes the xxhash of a policygraph.CacheKey's
// (url, file_hash, mime_type, rule_name) tuple. NUL separators keep
// adjacent fields from colliding ("ab"+"c" vs "a"+"bc").
func CacheKeyHash(k policygraph.CacheKey) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.URL)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.FileHash)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.MIME)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.RuleName)
	return h.Sum64()
}

// Get returns the cached OptionalPolicy for key and true on a hit; on a
// miss it returns the zero OptionalPolicy and false, distinct from a hit
// whose Present field is false.
func (c *DecisionCache) Get(key uint64) (OptionalPolicy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return OptionalPolicy{}, false
	}
	c.hits++
	c.moveToHeadLocked(e)
	return e.value, true
}

// Put stores value under key, evicting the least-recently-used entry if at
// capacity.
func (c *DecisionCache) Put(key uint64, value OptionalPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &cacheEntry{key: key, value: value}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Invalidate clears the cache, used after a policy write since a stale
// "known absent" entry would otherwise mask a newly created policy.
func (c *DecisionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*cacheEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Stats returns an observable snapshot of the cache's counters.
func (c *DecisionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Evicted: c.evicted, Size: len(c.entries)}
}

func (c *DecisionCache) moveToHeadLocked(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *DecisionCache) pushHeadLocked(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *DecisionCache) unlinkLocked(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *DecisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
	c.evicted++
}
