package query

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache memoizes compiled filters by query text. Subscription refreshes
// re-send the same few window queries often, so parsing is skipped for
// repeats. Parse errors are never cached.
type Cache struct {
	filters *ristretto.Cache[string, *Filter]
}

// NewCache creates a cache holding up to maxEntries compiled filters.
func NewCache(maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Filter]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating filter cache: %w", err)
	}
	return &Cache{filters: c}, nil
}

// Compile returns the cached filter for text, parsing it on a miss.
func (c *Cache) Compile(text string) (*Filter, error) {
	if f, ok := c.filters.Get(text); ok {
		return f, nil
	}
	f, err := Parse(text)
	if err != nil {
		return nil, err
	}
	c.filters.Set(text, f, 1)
	return f, nil
}

// Wait blocks until buffered writes are visible to Get.
func (c *Cache) Wait() {
	c.filters.Wait()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.filters.Close()
}
