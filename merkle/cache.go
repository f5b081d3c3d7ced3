package merkle

import "container/list"

// Cache is a bounded LRU of block hash -> computed Tree, so a node
// serving repeated proof requests for recent blocks does not rebuild the
// tree on every call (spec §4.6's cache_max_entries).
type Cache struct {
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

type cacheEntry struct {
	blockHash string
	tree      *Tree
}

// NewCache creates a Cache holding at most capacity trees.
func NewCache(capacity int) *Cache {
	return &Cache{capacity: capacity, ll: list.New(), index: make(map[string]*list.Element)}
}

// Get returns the cached tree for blockHash, promoting it to
// most-recently-used.
func (c *Cache) Get(blockHash string) (*Tree, bool) {
	el, ok := c.index[blockHash]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).tree, true
}

// Put stores tree for blockHash, evicting the least-recently-used entry
// if the cache is at capacity.
func (c *Cache) Put(blockHash string, tree *Tree) {
	if el, ok := c.index[blockHash]; ok {
		el.Value.(*cacheEntry).tree = tree
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{blockHash: blockHash, tree: tree})
	c.index[blockHash] = el
	if c.capacity > 0 && c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*cacheEntry).blockHash)
		}
	}
}

// Len reports the number of trees currently cached.
func (c *Cache) Len() int { return c.ll.Len() }
