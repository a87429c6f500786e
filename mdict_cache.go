package mdict

import "container/list"

// defaultBlockCacheSize bounds the decoded key and record blocks a handle
// keeps around. Blocks decompress to at most ~128 KiB each.
const defaultBlockCacheSize = 8

// blockCache is a small LRU of decoded blocks keyed by block id. It is owned
// by a single handle and never shared, so no locking. Correctness must never
// depend on a hit: every entry is reproducible from the file.
type blockCache struct {
	m        map[int64]*list.Element
	list     *list.List
	capacity int
}

type blockCacheEntry struct {
	id    int64
	block any
}

func newBlockCache(capacity int) *blockCache {
	return &blockCache{
		m:        make(map[int64]*list.Element),
		list:     list.New(),
		capacity: capacity,
	}
}

func (c *blockCache) get(id int64) any {
	if elem, ok := c.m[id]; ok {
		c.list.MoveToFront(elem)
		return elem.Value.(*blockCacheEntry).block
	}
	return nil
}

func (c *blockCache) put(id int64, block any) {
	if elem, ok := c.m[id]; ok {
		elem.Value.(*blockCacheEntry).block = block
		c.list.MoveToFront(elem)
		return
	}
	if c.list.Len() == c.capacity {
		oldest := c.list.Back()
		c.list.Remove(oldest)
		delete(c.m, oldest.Value.(*blockCacheEntry).id)
	}
	c.m[id] = c.list.PushFront(&blockCacheEntry{id: id, block: block})
}

// drop removes a single entry if present.
func (c *blockCache) drop(id int64) {
	if elem, ok := c.m[id]; ok {
		c.list.Remove(elem)
		delete(c.m, id)
	}
}
