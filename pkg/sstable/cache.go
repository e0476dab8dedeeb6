package sstable

import (
	"sync"

	"lsmtree/pkg/tablekey"
)

// lruCache is a fixed-capacity least-recently-used cache of decoded data
// blocks, keyed by "path#blockIndex" (§5.3). Adapted from the teacher's
// pkg/persistence/block_cache.go BlockCacheImpl, repurposed to hold
// decoded []tablekey.TableKey blocks instead of raw bytes and dropping
// the unused lastUsed timestamp field (the intrusive list order already
// encodes recency).
type lruCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*cacheItem
	head     *cacheItem
	tail     *cacheItem
}

type cacheItem struct {
	key   string
	value []tablekey.TableKey
	prev  *cacheItem
	next  *cacheItem
}

// NewLRUCache builds a BlockCache holding at most capacity blocks.
func NewLRUCache(capacity int) BlockCache {
	return &lruCache{
		capacity: capacity,
		items:    make(map[string]*cacheItem),
	}
}

func (c *lruCache) Get(key string) ([]tablekey.TableKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}
	c.moveToHead(item)
	return item.value, true
}

func (c *lruCache) Set(key string, value []tablekey.TableKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		item.value = value
		c.moveToHead(item)
		return
	}

	item := &cacheItem{key: key, value: value}
	c.addToHead(item)
	c.items[key] = item

	if len(c.items) > c.capacity {
		c.evictLRU()
	}
}

func (c *lruCache) moveToHead(item *cacheItem) {
	if item == c.head {
		return
	}
	if item.prev != nil {
		item.prev.next = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	}
	if item == c.tail {
		c.tail = item.prev
	}
	c.addToHead(item)
}

func (c *lruCache) addToHead(item *cacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *lruCache) evictLRU() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	if c.tail.prev != nil {
		c.tail.prev.next = nil
	} else {
		c.head = nil
	}
	c.tail = c.tail.prev
}
