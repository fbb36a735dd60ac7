package policy

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Decision is the outcome of evaluating a tool call against the loaded rules.
type Decision struct {
	Allowed bool
	RuleID  string
	Reason  string
}

// cacheKey hashes the parts of an EvaluationContext that affect the
// outcome, so repeat calls with the same tool/arguments/session state hit
// the cache instead of re-running CEL.
func cacheKey(evalCtx EvaluationContext) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(evalCtx.ToolName)
	h.Write([]byte{0})
	_, _ = h.WriteString(evalCtx.Platform)
	h.Write([]byte{0})
	if evalCtx.Authenticated {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	if len(evalCtx.Arguments) > 0 {
		keys := make([]string, 0, len(evalCtx.Arguments))
		for k := range evalCtx.Arguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = h.WriteString(strings.Join(keys, ","))
		if b, err := json.Marshal(evalCtx.Arguments); err == nil {
			h.Write(b)
		}
	}
	return h.Sum64()
}

type lruEntry struct {
	key      uint64
	decision Decision
	prev     *lruEntry
	next     *lruEntry
}

// resultCache is a bounded LRU over evaluation decisions, keyed by
// cacheKey. Safe for concurrent use.
type resultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

func newResultCache(maxSize int) *resultCache {
	return &resultCache{entries: make(map[uint64]*lruEntry, maxSize), maxSize: maxSize}
}

func (c *resultCache) get(key uint64) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.moveToHead(e)
	return e.decision, true
}

func (c *resultCache) put(key uint64, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHead(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTail()
	}
	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHead(e)
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head, c.tail = nil, nil
}

func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *resultCache) moveToHead(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushHead(e)
}

func (c *resultCache) pushHead(e *lruEntry) {
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

func (c *resultCache) unlink(e *lruEntry) {
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
	e.prev, e.next = nil, nil
}

func (c *resultCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
