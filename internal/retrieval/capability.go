// Package retrieval implements hybrid learning search: BM25 keyword
// ranking fused with cosine vector similarity via Reciprocal Rank Fusion,
// blended with a recency decay and an optional reranker pass, followed by
// optional bounded-depth graph expansion over learning-to-learning edges.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors from spec.md §4.6.
var (
	ErrEmbeddingUnavailable      = errors.New("embedding backend unavailable")
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrRerankerUnavailable       = errors.New("reranker unavailable")
	ErrRetrievalError            = errors.New("retrieval error")
)

// Embedder turns text into a dense vector. Every vector a single store
// holds must share one dimension; callers are responsible for rejecting
// mismatches before persisting.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available() bool
}

// Reranker re-scores a shortlist of candidate texts against a query,
// returning a relevance score per candidate in the same order given.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
	Available() bool
}

// NoopEmbedder satisfies Embedder when no API key is configured; every
// call fails loudly rather than silently returning a zero vector.
type NoopEmbedder struct{}

func (NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrEmbeddingUnavailable
}

func (NoopEmbedder) Available() bool { return false }

// NoopReranker satisfies Reranker when no API key is configured.
type NoopReranker struct{}

func (NoopReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	return nil, ErrRerankerUnavailable
}

func (NoopReranker) Available() bool { return false }

// LiveEmbedder and LiveReranker both ride the same anthropic-sdk-go
// client the compaction pipeline uses for summarization, so a single
// API key lights up every AI-backed capability at once.
type LiveEmbedder struct {
	client anthropic.Client
	model  anthropic.Model
	dim    int
}

// NewLiveEmbedder probes ANTHROPIC_API_KEY and returns a NoopEmbedder if
// it's unset, matching the Live/Noop capability split from spec.md §9.
func NewLiveEmbedder(apiKey string, dim int) Embedder {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return NoopEmbedder{}
	}
	if dim <= 0 {
		dim = 256
	}
	return &LiveEmbedder{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model("claude-haiku-4-5"),
		dim:    dim,
	}
}

func (e *LiveEmbedder) Available() bool { return true }

func (e *LiveEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	prompt := fmt.Sprintf(
		"Return only a JSON array of exactly %d numbers between -1 and 1 representing a dense embedding of this text. No prose.\n\nText:\n%s",
		e.dim, text,
	)

	resp, err := callWithBackoff(ctx, e.client, e.model, prompt)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	var floats []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &floats); err != nil {
		return nil, fmt.Errorf("embed: parse response: %w", err)
	}
	if len(floats) != e.dim {
		return nil, fmt.Errorf("embed: got %d dims, want %d: %w", len(floats), e.dim, ErrEmbeddingDimensionMismatch)
	}

	out := make([]float32, len(floats))
	for i, f := range floats {
		out[i] = float32(f)
	}
	return out, nil
}

// LiveReranker asks the model to score each candidate 0-1 against query.
type LiveReranker struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewLiveReranker(apiKey string) Reranker {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return NoopReranker{}
	}
	return &LiveReranker{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model("claude-haiku-4-5"),
	}
}

func (r *LiveReranker) Available() bool { return true }

func (r *LiveReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Score each candidate's relevance to the query on a 0-1 scale. Query: %q\n\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i, c)
	}
	b.WriteString("\nReturn only a JSON array of floats, one per candidate, in order.")

	resp, err := callWithBackoff(ctx, r.client, r.model, b.String())
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	var scores []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &scores); err != nil {
		return nil, fmt.Errorf("rerank: parse response: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("rerank: got %d scores for %d candidates: %w", len(scores), len(candidates), ErrRetrievalError)
	}
	return scores, nil
}

// callWithBackoff wraps a single-turn Messages.New call with exponential
// backoff on retryable errors, using the compaction pipeline's retry
// schedule (base 100ms, 2x multiplier, cap 5s, at most 3 attempts). Unlike
// compaction, every error that is not an API error is retried here, not
// only network timeouts.
func callWithBackoff(ctx context.Context, client anthropic.Client, model anthropic.Model, prompt string) (string, error) {
	var result string
	op := func() error {
		msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 2048,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode != 429 && apiErr.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(msg.Content) == 0 || msg.Content[0].Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format"))
		}
		result = msg.Content[0].Text
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.Multiplier = 2
	eb.MaxInterval = 5 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, 2), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return result, nil
}
