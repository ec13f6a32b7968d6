package read

import (
	"github.com/google/uuid"

	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// Cache maps (table, key) to the object materialized for it during one read
// traversal. Every reference to the same key within the traversal observes
// the same instance. A Cache is not safe for concurrent use and must not be
// shared between traversals.
type Cache struct {
	session string
	entries map[string]*schema.Object
}

// NewCache creates an empty cache for one traversal.
func NewCache() *Cache {
	return &Cache{
		session: uuid.NewString(),
		entries: make(map[string]*schema.Object),
	}
}

// Session identifies the traversal in logs.
func (c *Cache) Session() string { return c.session }

func cacheKey(table string, k key.ObjectKey) string {
	return table + "|" + k.String()
}

// Get returns the object materialized for the key, if any.
func (c *Cache) Get(table string, k key.ObjectKey) (*schema.Object, bool) {
	obj, ok := c.entries[cacheKey(table, k)]
	return obj, ok
}

// Put records the object materialized for the key.
func (c *Cache) Put(table string, k key.ObjectKey, obj *schema.Object) {
	c.entries[cacheKey(table, k)] = obj
}

// Len returns the number of cached objects.
func (c *Cache) Len() int { return len(c.entries) }
