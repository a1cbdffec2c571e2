package catalog

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how stale the resolver's view of the catalog may get.
const DefaultCacheTTL = 30 * time.Minute

// Cache holds a process-local, time-expiring snapshot of product candidates
// and store data. Catalog writes do not invalidate it; staleness up to one TTL
// window is accepted for throughput. Concurrent refreshes on expiry are
// harmless and merely duplicate one scan.
type Cache struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time

	mu          sync.Mutex
	products    []string
	productsExp time.Time
	stores      []StoreSnapshot
	storesExp   time.Time
}

// NewCache wraps the repository with a TTL snapshot cache.
func NewCache(repo Repository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{repo: repo, ttl: ttl, now: time.Now}
}

// ProductCandidates returns every product name and alias, refreshing from the
// repository when the snapshot expired.
func (c *Cache) ProductCandidates(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	if c.now().Before(c.productsExp) {
		cached := c.products
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	candidates, err := c.repo.ProductNameCandidates(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.products = candidates
	c.productsExp = c.now().Add(c.ttl)
	c.mu.Unlock()
	return candidates, nil
}

// Stores returns the store snapshots, refreshing on expiry.
func (c *Cache) Stores(ctx context.Context) ([]StoreSnapshot, error) {
	c.mu.Lock()
	if c.now().Before(c.storesExp) {
		cached := c.stores
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	snapshots, err := c.repo.StoreSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.stores = snapshots
	c.storesExp = c.now().Add(c.ttl)
	c.mu.Unlock()
	return snapshots, nil
}
