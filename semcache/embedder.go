package semcache

import (
	"context"
	"hash/fnv"
	"strings"
)

// HashEmbedder is a dependency-free stand-in for a real embedding model:
// it buckets whitespace-tokenized words into a fixed-width vector by
// hashing each token into a slot and accumulating counts, giving prompts
// that share a lot of vocabulary a high cosine similarity without calling
// out to any embedding API. The gateway swaps this for a provider-backed
// Embedder wherever one is configured; HashEmbedder exists so semantic
// caching still functions — at reduced recall — when none is.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder builds a HashEmbedder producing vectors of length dim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Embed implements Embedder.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % e.dim
		if idx < 0 {
			idx += e.dim
		}
		vec[idx]++
	}
	return vec, nil
}
