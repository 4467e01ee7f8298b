package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// maxGraphDepth bounds expansion traversal per spec.md §4.6.
const maxGraphDepth = 2

// Config tunes the relevance blend and expansion behavior. Defaults come
// from spec.md §9's Open Question resolution: favor RRF, small recency
// tiebreak, reranker folded in only when available.
type Config struct {
	WeightRRF      float64
	WeightRecency  float64
	WeightReranker float64
	TopN           int // fusion hits considered before reranking/expansion
	MinScore       float64
	ExpandGraph    bool
	RerankTopK     int
}

// DefaultConfig matches spec.md §9's baseline: 0.7 rrf / 0.2 recency / 0.1
// reranker, re-normalized when the reranker didn't run.
func DefaultConfig() Config {
	return Config{
		WeightRRF:      0.7,
		WeightRecency:  0.2,
		WeightReranker: 0.1,
		TopN:           20,
		MinScore:       0,
		ExpandGraph:    true,
		RerankTopK:     10,
	}
}

// Hit is one scored learning returned from Search, carrying every
// component the final relevance figure was blended from.
type Hit struct {
	Learning       *types.Learning
	BM25Rank       int
	VectorRank     int
	RRF            float64
	Recency        float64
	RerankerScore  *float64
	Relevance      float64
	ExpansionHops  int
	ExpansionPath  []int64
	SourceEdge     types.EdgeType
}

// Engine runs the full hybrid retrieval pipeline over one store.
type Engine struct {
	store    storage.Store
	clock    clock.Clock
	embedder Embedder
	reranker Reranker
	config   Config
	vectors  *vectorIndex
}

func New(store storage.Store, embedder Embedder, reranker Reranker, config Config) *Engine {
	return NewWithClock(store, embedder, reranker, config, clock.Real{})
}

func NewWithClock(store storage.Store, embedder Embedder, reranker Reranker, config Config, c clock.Clock) *Engine {
	if embedder == nil {
		embedder = NoopEmbedder{}
	}
	if reranker == nil {
		reranker = NoopReranker{}
	}
	return &Engine{store: store, clock: c, embedder: embedder, reranker: reranker, config: config, vectors: newVectorIndex()}
}

// Search runs keyword + vector retrieval, fuses via RRF, blends in
// recency (and reranker score when available), optionally expands the
// result set across the learning graph, and returns hits sorted
// best-first with every score >= config.MinScore.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	keyword, err := e.store.KeywordSearch(ctx, query, e.config.TopN)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	var vectorHits []vectorHit
	if e.embedder.Available() {
		qvec, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRetrievalError, err)
		}
		corpus, err := e.store.AllLearnings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		vectorHits, err = e.vectors.Search(queryHash(query), qvec, corpus)
		if err != nil {
			return nil, err
		}
		if len(vectorHits) > e.config.TopN {
			vectorHits = vectorHits[:e.config.TopN]
		}
	}

	fused := fuse(keyword, vectorHits)
	ordered := sortedHits(fused)

	now := e.clock.Now()
	for _, h := range ordered {
		ageDays := now.Sub(h.learning.CreatedAt).Hours() / 24
		h.recency = recencyScore(ageDays)
	}

	if e.reranker.Available() && len(ordered) > 0 {
		topK := ordered
		if len(topK) > e.config.RerankTopK {
			topK = topK[:e.config.RerankTopK]
		}
		texts := make([]string, len(topK))
		for i, h := range topK {
			texts[i] = h.learning.Content
		}
		scores, err := e.reranker.Rerank(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
		for i, h := range topK {
			s := scores[i]
			h.rerankerScore = &s
		}
	}

	if e.config.ExpandGraph {
		expanded, err := e.expand(ctx, ordered)
		if err != nil {
			return nil, fmt.Errorf("graph expansion: %w", err)
		}
		ordered = expanded
	}

	hits := e.blend(ordered)
	sort.Slice(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })

	var out []Hit
	for _, h := range hits {
		if h.Relevance < e.config.MinScore {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	ids := make([]int64, len(out))
	for i, h := range out {
		ids[i] = h.Learning.ID
	}
	if err := e.store.RecordUsage(ctx, ids); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}

	return out, nil
}

// ContextForTask builds a query from a task's title and description and
// runs Search with the given floor, for surfacing relevant learnings
// when a worker picks up a task.
func (e *Engine) ContextForTask(ctx context.Context, task *types.Task, limit int, minScore float64) ([]Hit, error) {
	query := strings.TrimSpace(task.Title + " " + task.Description)
	cfg := e.config
	cfg.MinScore = minScore
	sub := &Engine{store: e.store, clock: e.clock, embedder: e.embedder, reranker: e.reranker, config: cfg, vectors: e.vectors}
	return sub.Search(ctx, query, limit)
}

// expand walks up to maxGraphDepth hops of outgoing edges from each seed
// hit, adding newly-discovered learnings tagged with how they were
// reached, and returns seeds plus everything discovered.
func (e *Engine) expand(ctx context.Context, seeds []*fusedHit) ([]*fusedHit, error) {
	seen := make(map[int64]*fusedHit, len(seeds))
	for _, h := range seeds {
		seen[h.learning.ID] = h
	}

	frontier := seeds
	for depth := 1; depth <= maxGraphDepth && len(frontier) > 0; depth++ {
		var next []*fusedHit
		for _, h := range frontier {
			edges, err := e.store.EdgesFrom(ctx, h.learning.ID)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if _, ok := seen[edge.ToLearningID]; ok {
					continue
				}
				target, err := e.store.GetLearning(ctx, edge.ToLearningID)
				if err != nil {
					continue
				}
				path := append(append([]int64{}, h.expansionPath...), h.learning.ID)
				nh := &fusedHit{
					learning:      target,
					expansionHops: depth,
					expansionPath: path,
					sourceEdge:    edge.Type,
				}
				seen[target.ID] = nh
				next = append(next, nh)
			}
		}
		frontier = next
	}

	out := make([]*fusedHit, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	return out, nil
}

// blend computes the final relevance figure per hit, re-normalizing the
// rrf/recency weights when no reranker score is present for that hit. The
// rrf term is divided by its largest possible value, 2/(k+1) (rank 1 in
// both lists), so it lies in [0,1] like recency; the reported RRF stays raw.
func (e *Engine) blend(hits []*fusedHit) []Hit {
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		wRRF, wRecency, wReranker := e.config.WeightRRF, e.config.WeightRecency, e.config.WeightReranker
		rrfNorm := h.rrf / (2.0 / float64(rrfK+1))
		var relevance float64
		if h.rerankerScore != nil {
			relevance = wRRF*rrfNorm + wRecency*h.recency + wReranker*(*h.rerankerScore)
		} else {
			total := wRRF + wRecency
			if total == 0 {
				total = 1
			}
			relevance = (wRRF/total)*rrfNorm + (wRecency/total)*h.recency
		}

		out = append(out, Hit{
			Learning:      h.learning,
			BM25Rank:      h.bm25Rank,
			VectorRank:    h.vectorRank,
			RRF:           h.rrf,
			Recency:       h.recency,
			RerankerScore: h.rerankerScore,
			Relevance:     relevance,
			ExpansionHops: h.expansionHops,
			ExpansionPath: h.expansionPath,
			SourceEdge:    h.sourceEdge,
		})
	}
	return out
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:8])
}
