package retrieval

import (
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jamesaphoenix/tx/internal/types"
)

// vectorHit is one scored result from the in-process cosine pass.
type vectorHit struct {
	learning *types.Learning
	score    float64
	rank     int // 1-based, best first
}

// vectorIndex scores a corpus of learnings against a query embedding. A
// small LRU memoizes per-(query,learningID) cosine scores, so repeated
// searches with the same query hash on one Engine reuse dot products
// already computed. Graph expansion does no vector scoring and does not
// use this cache.
type vectorIndex struct {
	cache *lru.Cache[cacheKey, float64]
}

type cacheKey struct {
	queryHash string
	learningID int64
}

func newVectorIndex() *vectorIndex {
	c, _ := lru.New[cacheKey, float64](512)
	return &vectorIndex{cache: c}
}

// Search scores every learning with a non-empty embedding against query,
// returning hits sorted best-first. queryHash identifies this query for
// cache keying; callers typically pass a hash of the query text.
func (v *vectorIndex) Search(queryHash string, query []float32, corpus []*types.Learning) ([]vectorHit, error) {
	var hits []vectorHit
	for _, l := range corpus {
		if len(l.Embedding) == 0 {
			continue
		}
		if len(l.Embedding) != len(query) {
			return nil, fmt.Errorf("learning %d has %d dims, query has %d: %w",
				l.ID, len(l.Embedding), len(query), ErrEmbeddingDimensionMismatch)
		}

		key := cacheKey{queryHash: queryHash, learningID: l.ID}
		score, ok := v.cache.Get(key)
		if !ok {
			score = cosine(query, l.Embedding)
			v.cache.Add(key, score)
		}
		hits = append(hits, vectorHit{learning: l, score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	for i := range hits {
		hits[i].rank = i + 1
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
