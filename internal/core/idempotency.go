package core

import "container/list"

// IdempotencyChecker deduplicates redelivered events. Lookup is two-tier:
// an in-memory LRU over composite "type:key" strings answers the hot path,
// and the settlement event log in Postgres answers keys that aged out of
// the LRU. Single-threaded with the settler, so nothing here locks.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
}

// DBIdempotencyChecker is the cold-tier lookup against the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether the event was already settled. A cold-tier
// error reads as "not a duplicate": the event log's unique index still
// rejects the re-insert, so wrongly letting one through cannot double-apply,
// while blocking on a flaky DB would stall settlement.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := eventType + ":" + idempotencyKey

	if ic.lru.Contains(key) {
		return true
	}

	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		return false
	}
	if isDup {
		ic.lru.Add(key)
		return true
	}
	return false
}

// MarkProcessed records a settled event's key in the warm tier.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(eventType + ":" + idempotencyKey)
}

// IdempotencyLRU is a bounded recency cache of composite keys.
// Not thread-safe; only the settler touches it.
type IdempotencyLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front = most recent
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports membership and promotes the key.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if !ok {
		return false
	}
	lru.order.MoveToFront(elem)
	return true
}

// Add inserts or promotes a key, evicting the oldest entry past capacity.
func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.index[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		lru.evictOldest()
	}
}

// WarmFromKeys preloads keys in the given order (oldest first) so startup
// seeding from a snapshot or from Postgres reproduces the recency order the
// keys were saved with.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns the cached keys oldest first, the order WarmFromKeys expects.
func (lru *IdempotencyLRU) Keys() []string {
	out := make([]string, 0, lru.order.Len())
	for elem := lru.order.Back(); elem != nil; elem = elem.Prev() {
		out = append(out, elem.Value.(string))
	}
	return out
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.order.Back()
	if elem == nil {
		return
	}
	lru.order.Remove(elem)
	delete(lru.index, elem.Value.(string))
	lru.evictions++
}
