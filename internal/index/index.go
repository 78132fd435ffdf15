package index

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"claimsapi/internal/model"
)

// Sink stores processed-document records with an embedding vector and serves
// approximate-similarity queries. Put is best-effort at call sites (a storage
// failure never fails the overall request); Search errors propagate because
// results without connectivity are meaningless.
type Sink interface {
	Put(ctx context.Context, doc model.IndexedDocument) error
	Search(ctx context.Context, embedding []float32, k int) ([]model.SearchHit, error)
	Ping(ctx context.Context) error
}

// Embedder produces a fixed-length vector for a piece of text. Embedding
// generation is an injected external concern; the pipeline only requires
// determinism and the configured dimension.
type Embedder func(text string, dim int) []float32

// HashEmbedder is the default Embedder: tokens are hashed into dim buckets
// and the bucket counts are L2-normalized. Deterministic, so equal texts get
// equal vectors and nearest-neighbor results are reproducible in tests.
func HashEmbedder(text string, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	vec := make([]float32, dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
