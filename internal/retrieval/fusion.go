package retrieval

import (
	"math"
	"sort"

	"github.com/jamesaphoenix/tx/internal/types"
)

// rrfK is Reciprocal Rank Fusion's smoothing constant from spec.md §4.6.
const rrfK = 60

// fusedHit tracks the per-signal ranks and scores a learning accumulated
// across the keyword and vector passes, before relevance blending.
type fusedHit struct {
	learning    *types.Learning
	bm25Rank    int // 0 means absent from the keyword list
	vectorRank  int // 0 means absent from the vector list
	rrf         float64
	recency     float64
	rerankerScore *float64
	expansionHops int
	expansionPath []int64
	sourceEdge    types.EdgeType
}

// fuse combines the BM25 and vector rank lists via RRF: rrf(x) = sum of
// 1/(k + rank) over every list x appears in.
func fuse(keyword []*types.Learning, vector []vectorHit) map[int64]*fusedHit {
	out := make(map[int64]*fusedHit)

	for i, l := range keyword {
		rank := i + 1
		h := out[l.ID]
		if h == nil {
			h = &fusedHit{learning: l}
			out[l.ID] = h
		}
		h.bm25Rank = rank
		h.rrf += 1.0 / float64(rrfK+rank)
	}

	for _, v := range vector {
		h := out[v.learning.ID]
		if h == nil {
			h = &fusedHit{learning: v.learning}
			out[v.learning.ID] = h
		}
		h.vectorRank = v.rank
		h.rrf += 1.0 / float64(rrfK+v.rank)
	}

	return out
}

// recencyScore decays monotonically with age, halving roughly every ~10
// days at the spec's chosen 14-day time constant.
func recencyScore(ageDays float64) float64 {
	return math.Exp(-ageDays / 14.0)
}

// sortedHits returns fused hits ordered by rrf score, best first, for
// callers that need a stable order before relevance blending.
func sortedHits(m map[int64]*fusedHit) []*fusedHit {
	out := make([]*fusedHit, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].rrf > out[j].rrf })
	return out
}
