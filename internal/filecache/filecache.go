/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package filecache provides a capacity-bounded, TTL-aware LRU cache for
// static file bodies. It is self-contained (built on container/list) and
// evicts the least-recently-used entry when full, in addition to expiring
// entries after their TTL.
package filecache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a cached static file body plus the metadata needed to answer
// conditional requests and set response headers.
type Entry struct {
	Body        []byte
	ContentType string
	ModTime     time.Time
	ETag        string
}

type record struct {
	key      string
	value    Entry
	expireAt time.Time
}

// Cache is a fixed-capacity, least-recently-used cache of Entry values with
// per-item expiration, safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element

	hits   uint64
	misses uint64
}

// New builds a Cache holding at most capacity entries, each valid for ttl
// (zero means entries never expire on their own, only by eviction).
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached entry for key, promoting it to most-recently-used.
// ok is false on a miss or if the entry has expired.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		c.misses++
		return Entry{}, false
	}

	rec := el.Value.(*record)
	if c.ttl > 0 && time.Now().After(rec.expireAt) {
		c.removeElement(el)
		c.misses++
		return Entry{}, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	return rec.value, true
}

// Put stores or replaces the entry for key, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(key string, value Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expireAt := time.Time{}
	if c.ttl > 0 {
		expireAt = time.Now().Add(c.ttl)
	}

	if el, found := c.items[key]; found {
		el.Value.(*record).value = value
		el.Value.(*record).expireAt = expireAt
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&record{key: key, value: value, expireAt: expireAt})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		c.removeOldest()
	}
}

// Delete evicts key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.items[key]; found {
		c.removeElement(el)
	}
}

// Len returns the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) removeOldest() {
	el := c.ll.Back()
	if el != nil {
		c.removeElement(el)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	rec := el.Value.(*record)
	delete(c.items, rec.key)
}
