package compact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/jamesaphoenix/tx/internal/types"
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// ErrUnavailable is returned by the Noop LLM capability for every
// user-facing call, per spec.md §9's Live/Noop capability split.
var ErrUnavailable = errors.New("LLM backend unavailable")

const defaultModel = "claude-haiku-4-5"

// LLM is the capability interface compaction and candidate extraction are
// gated on. It has exactly two implementations: Live (backed by the
// Anthropic API) and Noop (no API key configured). Callers check
// Available() before depending on a call succeeding; Noop's methods
// always return ErrUnavailable so "degrade and continue" call sites (see
// spec.md §7) can branch on the same sentinel regardless of which variant
// is wired in.
type LLM interface {
	Available() bool
	// Summarize produces a 2-4 paragraph summary plus a bullet list of
	// actionable learnings for a batch of tasks being compacted together.
	Summarize(ctx context.Context, tasks []*types.Task) (summary string, learnings []string, err error)
	// ExtractCandidates asks the model for up to 5 learning candidates
	// from one transcript chunk.
	ExtractCandidates(ctx context.Context, chunk string) ([]types.LearningCandidate, error)
}

// NewLLM probes ANTHROPIC_API_KEY (falling back to apiKey when the variable
// is unset) and returns a Live capability if a key is available, else Noop. This is the single
// construction point the rest of the package uses to pick a backend.
func NewLLM(apiKey string) LLM {
	c, err := newHaikuClient(apiKey)
	if err != nil {
		return Noop{}
	}
	return &Live{haikuClient: c}
}

// Live wraps the real Anthropic-backed haikuClient.
type Live struct {
	*haikuClient
}

// Available reports true unconditionally: a Live value is only ever
// constructed once a key has been verified present.
func (l *Live) Available() bool { return true }

// Summarize renders the summary template over tasks and parses the
// model's "paragraphs, then Learnings: bullets" response shape.
func (l *Live) Summarize(ctx context.Context, tasks []*types.Task) (string, []string, error) {
	var b strings.Builder
	if err := l.summaryTmpl.Execute(&b, struct{ Tasks []*types.Task }{Tasks: tasks}); err != nil {
		return "", nil, fmt.Errorf("render summary prompt: %w", err)
	}
	resp, err := l.summarize(ctx, b.String())
	if err != nil {
		return "", nil, err
	}
	return splitSummaryAndLearnings(resp)
}

// ExtractCandidates renders the candidate template over chunk and parses
// the model's JSON array response, discarding short/empty content and
// coercing invalid confidence/category to medium/other with a warning,
// per spec.md §4.7.
func (l *Live) ExtractCandidates(ctx context.Context, chunk string) ([]types.LearningCandidate, error) {
	var b strings.Builder
	if err := l.candidateTmpl.Execute(&b, struct{ Chunk string }{Chunk: chunk}); err != nil {
		return nil, fmt.Errorf("render candidate prompt: %w", err)
	}
	resp, err := l.extractCandidates(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return parseCandidates(resp), nil
}

// Noop satisfies LLM when no API key is configured. Every call fails
// loudly with ErrUnavailable rather than silently returning empty
// results, matching the Live/Noop pattern in internal/retrieval.
type Noop struct{}

func (Noop) Available() bool { return false }

func (Noop) Summarize(ctx context.Context, tasks []*types.Task) (string, []string, error) {
	return "", nil, ErrUnavailable
}

func (Noop) ExtractCandidates(ctx context.Context, chunk string) ([]types.LearningCandidate, error) {
	return nil, ErrUnavailable
}

// splitSummaryAndLearnings separates the model's plain-text response into
// the prose summary and the bullet list following a "Learnings:" header.
func splitSummaryAndLearnings(resp string) (string, []string, error) {
	idx := strings.Index(resp, "Learnings:")
	if idx < 0 {
		return strings.TrimSpace(resp), nil, nil
	}
	summary := strings.TrimSpace(resp[:idx])
	rest := resp[idx+len("Learnings:"):]

	var learnings []string
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "-")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line != "" {
			learnings = append(learnings, line)
		}
	}
	return summary, learnings, nil
}

// parseCandidates decodes the model's JSON array response, discarding
// entries whose content is too short to be useful and coercing invalid
// confidence/category values to the documented defaults with a warning.
func parseCandidates(resp string) []types.LearningCandidate {
	type raw struct {
		Content    string `json:"content"`
		Confidence string `json:"confidence"`
		Category   string `json:"category"`
	}
	var items []raw
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &items); err != nil {
		slog.Warn("candidate extraction: could not parse model response as JSON", "error", err)
		return nil
	}

	const minContentLength = 10
	out := make([]types.LearningCandidate, 0, len(items))
	for _, it := range items {
		content := strings.TrimSpace(it.Content)
		if len(content) < minContentLength {
			continue
		}
		conf := types.Confidence(it.Confidence)
		switch conf {
		case types.ConfidenceHigh, types.ConfidenceMedium, types.ConfidenceLow:
		default:
			slog.Warn("candidate extraction: invalid confidence, coercing to medium", "got", it.Confidence)
			conf = types.ConfidenceMedium
		}
		category := it.Category
		if category == "" {
			slog.Warn("candidate extraction: missing category, coercing to other")
			category = "other"
		}
		out = append(out, types.LearningCandidate{
			Content:    content,
			Confidence: conf,
			Category:   category,
		})
	}
	return out
}

// haikuClient wraps the Anthropic API for subtree summarization and
// candidate extraction.
type haikuClient struct {
	client       anthropic.Client
	model        anthropic.Model
	summaryTmpl  *template.Template
	candidateTmpl *template.Template
}

// newHaikuClient creates a new Haiku API client. The ANTHROPIC_API_KEY
// environment variable takes precedence over an explicit apiKey. Extra
// opts are appended after the API key option, letting tests point the
// client at a local httptest server or override its retry count.
func newHaikuClient(apiKey string, opts ...option.RequestOption) (*haikuClient, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY environment variable or pass one explicitly", ErrAPIKeyRequired)
	}

	clientOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(clientOpts...)

	summaryTmpl, err := template.New("summary").Parse(summaryPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse summary template: %w", err)
	}
	candidateTmpl, err := template.New("candidates").Parse(candidatePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse candidate template: %w", err)
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &haikuClient{
		client:        client,
		model:         anthropic.Model(defaultModel),
		summaryTmpl:   summaryTmpl,
		candidateTmpl: candidateTmpl,
	}, nil
}

// aiMetrics holds lazily-initialized OTel instruments for Anthropic API calls.
var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := otel.Meter("github.com/jamesaphoenix/tx/compact")
	aiMetrics.inputTokens, _ = m.Int64Counter("tx.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("tx.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("tx.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

var tracer = otel.Tracer("github.com/jamesaphoenix/tx/compact")

// summarize asks the model for a 2-4 paragraph summary plus a bullet list
// of actionable learnings for the given subtree transcript, retrying
// transient failures per spec.md §5's backoff schedule (base 100ms,
// 2x multiplier, cap 5s, max 3 attempts).
func (h *haikuClient) summarize(ctx context.Context, prompt string) (string, error) {
	return h.callWithBackoff(ctx, "compact.summarize", prompt)
}

// extractCandidates asks the model for up to 5 learning candidates from
// one transcript chunk, returning the raw JSON array text.
func (h *haikuClient) extractCandidates(ctx context.Context, prompt string) (string, error) {
	return h.callWithBackoff(ctx, "compact.extract_candidates", prompt)
}

func (h *haikuClient) callWithBackoff(ctx context.Context, spanName, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("tx.ai.model", string(h.model)))

	params := anthropic.MessageNewParams{
		Model:     h.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newRetryBackoff(), 2), ctx)

	var result string
	attempts := 0
	op := func() error {
		attempts++
		t0 := time.Now()
		message, err := h.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("tx.ai.model", string(h.model))
			if aiMetrics.inputTokens != nil {
				aiMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(
				attribute.Int64("tx.ai.input_tokens", message.Usage.InputTokens),
				attribute.Int64("tx.ai.output_tokens", message.Usage.OutputTokens),
				attribute.Int("tx.ai.attempts", attempts),
			)
			if len(message.Content) == 0 {
				return backoff.Permanent(fmt.Errorf("unexpected response format: no content blocks"))
			}
			content := message.Content[0]
			if content.Type != "text" {
				return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type))
			}
			result = content.Text
			return nil
		}

		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, bo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("anthropic call failed: %w", err)
	}
	return result, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// newRetryBackoff matches spec.md §5's retry schedule for LLM/reranker
// calls: base 100ms, 2x multiplier, cap 5s.
func newRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	return b
}

const summaryPromptTemplate = `You are summarizing a completed, already-closed batch of work for long-term archival. Produce 2-4 concise paragraphs covering what was done, the key decisions made, and the outcome, followed by a bullet list of actionable learnings future agents should know.

**Tasks in this batch:**
{{range .Tasks}}
- {{.Title}}: {{.Description}}
{{end}}

Respond in plain text: paragraphs first, then a "Learnings:" section with one bullet per line.`

const candidatePromptTemplate = `Extract up to 5 durable learnings from this transcript excerpt. Each candidate must be a short, self-contained, actionable statement - discard anything too short or vague to be useful on its own.

Respond with a JSON array only, no surrounding text, where each element matches exactly:
{"content": string, "confidence": "high"|"medium"|"low", "category": string}

Transcript:
{{.Chunk}}`
