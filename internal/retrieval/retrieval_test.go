package retrieval_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/retrieval"
	"github.com/jamesaphoenix/tx/internal/storage/sqlite"
	"github.com/jamesaphoenix/tx/internal/types"
)

// fakeEmbedder returns a deterministic 4-dim vector so vector search is
// exercisable without a live API key.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f fakeEmbedder) Available() bool { return true }

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func newTestStore(t *testing.T) (*sqlite.SQLiteStorage, *clock.Frozen) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tx.db")
	frozen := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store, err := sqlite.OpenWithClock(ctx, path, frozen)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, frozen
}

// Scenario 6 from spec.md §8: a keyword-strong/vector-weak learning and a
// keyword-weak/vector-strong learning both appear in fusion, each ranking
// better on its own signal.
func TestSearch_FusionOrdersBothSignals(t *testing.T) {
	store, frozen := newTestStore(t)
	ctx := context.Background()

	l1 := &types.Learning{Content: "retry backoff jitter exponential", Embedding: []float32{0, 0, 0, 1}}
	require.NoError(t, store.CreateLearning(ctx, l1))
	l2 := &types.Learning{Content: "unrelated filler text about nothing", Embedding: []float32{1, 0, 0, 0}}
	require.NoError(t, store.CreateLearning(ctx, l2))

	embedder := fakeEmbedder{vectors: map[string][]float32{"retry backoff": {1, 0, 0, 0}}}
	engine := retrieval.NewWithClock(store, embedder, retrieval.NoopReranker{}, retrieval.DefaultConfig(), frozen)

	hits, err := engine.Search(ctx, "retry backoff", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	var sawL1, sawL2 bool
	for _, h := range hits {
		if h.Learning.ID == l1.ID {
			sawL1 = true
			assert.Greater(t, h.BM25Rank, 0)
		}
		if h.Learning.ID == l2.ID {
			sawL2 = true
			assert.Equal(t, 1, h.VectorRank)
		}
		assert.Nil(t, h.RerankerScore)
	}
	assert.True(t, sawL1)
	assert.True(t, sawL2)
}

func TestSearch_RecordsUsage(t *testing.T) {
	store, frozen := newTestStore(t)
	ctx := context.Background()

	l := &types.Learning{Content: "use context.Context for cancellation"}
	require.NoError(t, store.CreateLearning(ctx, l))

	engine := retrieval.NewWithClock(store, retrieval.NoopEmbedder{}, retrieval.NoopReranker{}, retrieval.DefaultConfig(), frozen)
	hits, err := engine.Search(ctx, "context cancellation", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	reloaded, err := store.GetLearning(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.UsageCount)
}

func TestSearch_GraphExpansionTagsHops(t *testing.T) {
	store, frozen := newTestStore(t)
	ctx := context.Background()

	seed := &types.Learning{Content: "flaky test retries masked a broken migration"}
	require.NoError(t, store.CreateLearning(ctx, seed))
	neighbor := &types.Learning{Content: "completely different unrelated words here"}
	require.NoError(t, store.CreateLearning(ctx, neighbor))
	require.NoError(t, store.CreateLearningEdge(ctx, &types.LearningEdge{
		FromLearningID: seed.ID, ToLearningID: neighbor.ID, Type: types.EdgeSupports,
	}))

	cfg := retrieval.DefaultConfig()
	engine := retrieval.NewWithClock(store, retrieval.NoopEmbedder{}, retrieval.NoopReranker{}, cfg, frozen)

	hits, err := engine.Search(ctx, "flaky test retries masked a broken migration", 10)
	require.NoError(t, err)

	var found bool
	for _, h := range hits {
		if h.Learning.ID == neighbor.ID {
			found = true
			assert.Equal(t, 1, h.ExpansionHops)
			assert.Equal(t, types.EdgeSupports, h.SourceEdge)
		}
	}
	assert.True(t, found)
}

func TestSearch_EmbeddingDimensionMismatchFailsLoudly(t *testing.T) {
	store, frozen := newTestStore(t)
	ctx := context.Background()

	l := &types.Learning{Content: "three dims", Embedding: []float32{1, 2, 3}}
	require.NoError(t, store.CreateLearning(ctx, l))

	embedder := fakeEmbedder{vectors: map[string][]float32{"q": {1, 2, 3, 4}}}
	engine := retrieval.NewWithClock(store, embedder, retrieval.NoopReranker{}, retrieval.DefaultConfig(), frozen)

	_, err := engine.Search(ctx, "q", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieval.ErrEmbeddingDimensionMismatch)
}

func TestContextForTask_BuildsQueryFromTitleAndDescription(t *testing.T) {
	store, frozen := newTestStore(t)
	ctx := context.Background()

	l := &types.Learning{Content: "pagination cursor off-by-one edge case"}
	require.NoError(t, store.CreateLearning(ctx, l))

	engine := retrieval.NewWithClock(store, retrieval.NoopEmbedder{}, retrieval.NoopReranker{}, retrieval.DefaultConfig(), frozen)
	task := &types.Task{Title: "pagination", Description: "cursor off-by-one edge case"}

	hits, err := engine.ContextForTask(ctx, task, 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, l.ID, hits[0].Learning.ID)
}
