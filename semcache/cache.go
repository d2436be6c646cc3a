// Package semcache implements the gateway's semantic response cache: a
// tenant-isolated, embedding-similarity lookup that lets a near-duplicate
// prompt reuse a prior completion instead of paying full provider cost
// again. It is adapted from llm/cache's MultiLevelCache — same doubly
// linked list LRU shape, same hit-count bookkeeping — but keyed by
// (tenant, namespace) and evicted by cumulative byte size rather than a
// flat entry count, and looked up by cosine similarity over embedding
// vectors instead of an exact hash match.
package semcache

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoMatch is returned by Lookup when nothing in the tenant's cache
// clears the configured similarity threshold.
var ErrNoMatch = errors.New("semcache: no entry above similarity threshold")

// Embedder produces a fixed-dimension embedding vector for cache-key
// comparison. The gateway wires this to whatever embedding model or
// provider it is configured with; semcache never calls an upstream itself.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one cached completion.
type Entry struct {
	Namespace  string
	Embedding  []float32
	Response   []byte
	CreditCost int64 // the full cost this entry's original completion was billed
	HitCount   int64
	CreatedAt  time.Time
}

func (e *Entry) size() int64 {
	return int64(len(e.Response)) + int64(len(e.Embedding)*4) + 64
}

// Config configures a Cache.
type Config struct {
	SimilarityThreshold float64
	PerTenantByteBudget int64
	TTL                 time.Duration
}

// Cache is a tenant-isolated semantic cache. One Cache instance serves the
// whole gateway; isolation between tenants is structural (each tenant gets
// its own node list and byte counter), not access-control — a caller that
// gets the tenant_id wrong can never read another tenant's entries because
// there is no code path that looks across the boundary.
type Cache struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	tenants  map[string]*tenantCache
}

// NewCache builds a Cache from cfg.
func NewCache(cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.97
	}
	return &Cache{
		cfg:     cfg,
		logger:  logger,
		tenants: make(map[string]*tenantCache),
	}
}

// tenantCache is a doubly linked list LRU over one tenant's entries,
// evicted by cumulative byte size instead of item count.
type tenantCache struct {
	mu        sync.Mutex
	byteBudget int64
	usedBytes int64
	head      *node
	tail      *node
}

type node struct {
	entry *Entry
	bytes int64
	prev  *node
	next  *node
}

func (c *Cache) tenant(tenantID string) *tenantCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tenants[tenantID]
	if !ok {
		t = &tenantCache{byteBudget: c.cfg.PerTenantByteBudget}
		c.tenants[tenantID] = t
	}
	return t
}

// Lookup finds the nearest cached entry in (tenantID, namespace) whose
// cosine similarity to queryEmbedding clears the configured threshold.
// Expired entries are evicted as they are encountered rather than on a
// separate sweep.
func (c *Cache) Lookup(ctx context.Context, tenantID, namespace string, queryEmbedding []float32) (*Entry, error) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *node
	var bestScore float64

	for n := t.head; n != nil; {
		next := n.next
		if c.cfg.TTL > 0 && time.Since(n.entry.CreatedAt) > c.cfg.TTL {
			t.unlink(n)
			n = next
			continue
		}
		if n.entry.Namespace == namespace {
			if score := cosineSimilarity(n.entry.Embedding, queryEmbedding); score > bestScore {
				bestScore = score
				best = n
			}
		}
		n = next
	}

	if best == nil || bestScore < c.cfg.SimilarityThreshold {
		return nil, ErrNoMatch
	}

	t.moveToFront(best)
	best.entry.HitCount++
	return best.entry, nil
}

// Store inserts e as a new entry at the front of the tenant's list (an
// earlier entry for the same prompt is not replaced), evicting the
// least-recently-used entries until the tenant's byte budget is satisfied.
func (c *Cache) Store(ctx context.Context, tenantID string, e *Entry) {
	t := c.tenant(tenantID)
	t.mu.Lock()
	defer t.mu.Unlock()

	e.CreatedAt = time.Now()
	n := &node{entry: e, bytes: e.size()}
	t.pushFront(n)

	for t.byteBudget > 0 && t.usedBytes > t.byteBudget && t.tail != nil {
		t.unlink(t.tail)
	}
}

func (t *tenantCache) pushFront(n *node) {
	n.prev = nil
	n.next = t.head
	if t.head != nil {
		t.head.prev = n
	}
	t.head = n
	if t.tail == nil {
		t.tail = n
	}
	t.usedBytes += n.bytes
}

func (t *tenantCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		t.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		t.tail = n.prev
	}
	t.usedBytes -= n.bytes
}

func (t *tenantCache) moveToFront(n *node) {
	if t.head == n {
		return
	}
	t.unlink(n)
	n.prev = nil
	n.next = t.head
	if t.head != nil {
		t.head.prev = n
	}
	t.head = n
	if t.tail == nil {
		t.tail = n
	}
	t.usedBytes += n.bytes
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if
// either is empty or their lengths differ (a dimension mismatch always
// means "not a candidate", never an error worth propagating).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
