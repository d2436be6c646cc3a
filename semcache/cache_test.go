package semcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderSimilarTextScoresHigh(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "what is the capital of france")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "what is the capital of france?")
	require.NoError(t, err)

	// Tokens are split on whitespace only, so "france" and "france?" are
	// different words: five of six tokens match, a cosine of 5/6.
	assert.InDelta(t, 5.0/6.0, cosineSimilarity(a, b), 0.01)
}

func TestCacheLookupMissWithoutEntries(t *testing.T) {
	c := NewCache(Config{SimilarityThreshold: 0.9}, nil)
	_, err := c.Lookup(context.Background(), "tenant-a", "chat", []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestCacheStoreThenLookupHit(t *testing.T) {
	c := NewCache(Config{SimilarityThreshold: 0.9, PerTenantByteBudget: 1 << 20}, nil)
	embedding := []float32{1, 0, 0}

	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: embedding, Response: []byte("cached answer")})

	entry, err := c.Lookup(context.Background(), "tenant-a", "chat", embedding)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached answer"), entry.Response)
	assert.EqualValues(t, 1, entry.HitCount)
}

func TestCacheMissBelowThreshold(t *testing.T) {
	c := NewCache(Config{SimilarityThreshold: 0.99, PerTenantByteBudget: 1 << 20}, nil)
	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: []float32{1, 0, 0}, Response: []byte("a")})

	_, err := c.Lookup(context.Background(), "tenant-a", "chat", []float32{0, 1, 0})
	assert.ErrorIs(t, err, ErrNoMatch)
}

// TestCacheTenantIsolation is spec testable property 7: a cache lookup with
// tenant T never returns an entry written by tenant T' != T.
func TestCacheTenantIsolation(t *testing.T) {
	c := NewCache(Config{SimilarityThreshold: 0.9, PerTenantByteBudget: 1 << 20}, nil)
	embedding := []float32{1, 0, 0}

	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: embedding, Response: []byte("tenant-a's answer")})

	_, err := c.Lookup(context.Background(), "tenant-b", "chat", embedding)
	assert.ErrorIs(t, err, ErrNoMatch, "tenant-b must never see tenant-a's cached entry")
}

func TestCacheNamespaceIsolation(t *testing.T) {
	c := NewCache(Config{SimilarityThreshold: 0.9, PerTenantByteBudget: 1 << 20}, nil)
	embedding := []float32{1, 0, 0}

	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: embedding, Response: []byte("chat answer")})

	_, err := c.Lookup(context.Background(), "tenant-a", "vision", embedding)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestCacheExpiresEntriesPastTTL(t *testing.T) {
	c := NewCache(Config{SimilarityThreshold: 0.9, PerTenantByteBudget: 1 << 20, TTL: time.Millisecond}, nil)
	embedding := []float32{1, 0, 0}
	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: embedding, Response: []byte("stale")})

	time.Sleep(5 * time.Millisecond)

	_, err := c.Lookup(context.Background(), "tenant-a", "chat", embedding)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestCacheEvictsLeastRecentlyUsedUnderByteBudget(t *testing.T) {
	// Each entry is ~(len(Response) + len(Embedding)*4 + 64) bytes; budget
	// is sized to hold roughly one entry at a time.
	c := NewCache(Config{SimilarityThreshold: 0.5, PerTenantByteBudget: 150}, nil)

	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: []float32{1, 0, 0}, Response: []byte("first")})
	c.Store(context.Background(), "tenant-a", &Entry{Namespace: "chat", Embedding: []float32{0, 1, 0}, Response: []byte("second")})

	_, err := c.Lookup(context.Background(), "tenant-a", "chat", []float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrNoMatch, "the oldest entry must have been evicted once the byte budget was exceeded")

	entry, err := c.Lookup(context.Background(), "tenant-a", "chat", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), entry.Response)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}
