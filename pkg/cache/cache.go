// Package cache is the per-agent response cache used to short-circuit the
// pipeline when an identical question arrives for an unchanged schema.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Answer is a previously formatted response kept for replay. A hit returns
// the exact formatted_response and sql_query of the original run.
type Answer struct {
	FormattedResponse string
	SQLQuery          string
	CreatedAt         time.Time
}

type entry struct {
	agentID     string
	fingerprint string
	answer      Answer
}

// Cache is a thread-safe LRU with TTL expiration. Expired entries are
// cleaned up lazily on Get; eviction is strict LRU once capacity is
// reached. Staleness across schema changes is handled by the fingerprint
// (the schema version, which includes the connection version, participates
// in the key) plus wholesale per-agent invalidation when an agent's table
// config changes or the agent is deleted.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recent
	items    map[string]*list.Element
	now      func() time.Time
}

// New creates a cache with the given capacity and TTL. A non-positive
// capacity defaults to 256; a non-positive TTL disables expiry.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Fingerprint derives the stable cache key from the normalised question,
// the agent and the schema snapshot version. Normalisation: lowercase,
// trim, collapse runs of whitespace.
func Fingerprint(question, agentID, schemaVersion string) string {
	h := sha256.Sum256([]byte(Normalise(question) + "|" + agentID + "|" + schemaVersion))
	return hex.EncodeToString(h[:])
}

// Normalise folds case, trims and collapses whitespace runs so trivially
// rephrased whitespace never defeats the cache.
func Normalise(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// Get returns the cached answer for (agentID, fingerprint) if present and
// fresh.
func (c *Cache) Get(agentID, fingerprint string) (Answer, bool) {
	key := agentID + "/" + fingerprint

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Answer{}, false
	}
	ent := el.Value.(*entry)
	if c.ttl > 0 && c.now().Sub(ent.answer.CreatedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return Answer{}, false
	}
	c.order.MoveToFront(el)
	return ent.answer, true
}

// Put stores an answer, evicting the least recently used entry when at
// capacity.
func (c *Cache) Put(agentID, fingerprint string, ans Answer) {
	key := agentID + "/" + fingerprint
	if ans.CreatedAt.IsZero() {
		ans.CreatedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).answer = ans
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{agentID: agentID, fingerprint: fingerprint, answer: ans})
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		old := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.items, old.agentID+"/"+old.fingerprint)
	}
}

// InvalidateAgent drops every cached answer for one agent. Called when the
// agent's table configuration changes or the agent is deleted; a change to
// the agent's connection is not routed here but alters the fingerprint.
func (c *Cache) InvalidateAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		ent := el.Value.(*entry)
		if ent.agentID == agentID {
			c.order.Remove(el)
			delete(c.items, ent.agentID+"/"+ent.fingerprint)
		}
		el = next
	}
}

// Len returns the current number of cached answers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
