package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheServesSnapshotUntilExpiry(t *testing.T) {
	repo := newMockRepo()
	repo.candidates = []string{"latte intero"}
	repo.snapshots = []StoreSnapshot{{ID: uuid.New(), Name: "Coop"}}

	cache := NewCache(repo, time.Minute)
	current := time.Now()
	cache.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		candidates, err := cache.ProductCandidates(ctx)
		require.NoError(t, err)
		assert.Equal(t, repo.candidates, candidates)

		stores, err := cache.Stores(ctx)
		require.NoError(t, err)
		assert.Len(t, stores, 1)
	}
	assert.Equal(t, 1, repo.candidateCalls)
	assert.Equal(t, 1, repo.snapshotCalls)

	// A catalog write within the window stays invisible until the TTL lapses.
	repo.candidates = []string{"latte intero", "biscotti frollini"}
	candidates, err := cache.ProductCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)

	current = current.Add(2 * time.Minute)
	candidates, err = cache.ProductCandidates(ctx)
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
	assert.Equal(t, 2, repo.candidateCalls)

	_, err = cache.Stores(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.snapshotCalls)
}

func TestCacheDefaultTTL(t *testing.T) {
	cache := NewCache(newMockRepo(), 0)
	assert.Equal(t, DefaultCacheTTL, cache.ttl)
}
