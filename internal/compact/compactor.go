package compact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesaphoenix/tx/internal/clock"
	"github.com/jamesaphoenix/tx/internal/storage"
	"github.com/jamesaphoenix/tx/internal/types"
)

// Config tunes the compaction pipeline: where markdown exports land, and
// whether the export should also be committed to git.
type Config struct {
	ProjectRoot   string
	MarkdownPath  string // relative to ProjectRoot; empty disables markdown export
	GitCommit     bool
}

// Compactor implements spec.md §4.7: atomic compaction of completed task
// subtrees into durable learnings, transcript-chunk candidate extraction,
// and confidence-gated auto-promotion. It holds a Store and an LLM
// capability; the LLM may be Noop, in which case compaction still runs
// but produces no summary or learnings (callers can still Preview).
type Compactor struct {
	store  storage.Store
	llm    LLM
	clock  clock.Clock
	config Config
}

// New builds a Compactor over store and llm using the real wall clock.
func New(store storage.Store, llm LLM, config Config) *Compactor {
	return NewWithClock(store, llm, config, clock.Real{})
}

// NewWithClock is New with an injectable clock, for deterministic tests
// of the cutoff-timestamp selection.
func NewWithClock(store storage.Store, llm LLM, config Config, c clock.Clock) *Compactor {
	if llm == nil {
		llm = Noop{}
	}
	return &Compactor{store: store, llm: llm, clock: c, config: config}
}

// Result reports what a compaction run did (or would do, for dry-run).
type Result struct {
	TaskIDs             []string
	Summary              string
	Learnings            []string
	MarkdownPath         string
	DryRun               bool
}

// Compact selects done tasks completed before cutoff whose entire subtree
// is also done, summarizes them (if the LLM is available), and atomically
// deletes them once any requested markdown export has succeeded.
//
// Ordering is load-bearing: if MarkdownPath is set, the file is written
// FIRST; only once that succeeds does the function open the single
// transaction that inserts compaction_log, deletes dependency edges, and
// deletes the tasks. This guarantees the store never records an export
// that failed to write — see spec.md §4.7 and invariant 5 in §8.
//
// dryRun returns the preview (what would be compacted, and the summary
// the LLM produced) without writing anything.
func (c *Compactor) Compact(ctx context.Context, cutoff time.Time, dryRun bool) (*Result, error) {
	tasks, err := c.store.EligibleForCompaction(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrNoEligibleTasks
	}

	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}

	var summary string
	var learnings []string
	if c.llm.Available() {
		summary, learnings, err = c.llm.Summarize(ctx, tasks)
		if err != nil {
			return nil, fmt.Errorf("compact: summarize: %w", err)
		}
	}

	if dryRun {
		return &Result{TaskIDs: taskIDs, Summary: summary, Learnings: learnings, DryRun: true}, nil
	}

	var exportedTo string
	if c.config.MarkdownPath != "" {
		exportedTo, err = c.writeMarkdown(cutoff, tasks, summary, learnings)
		if err != nil {
			// The write failed: the transaction below never begins, so
			// no compaction_log row is inserted and the tasks remain —
			// exactly the guarantee scenario 5 in spec.md §8 checks for.
			return nil, fmt.Errorf("compact: write markdown export: %w", err)
		}
		if c.config.GitCommit {
			if err := commitExport(ctx, c.config.ProjectRoot, exportedTo); err != nil {
				slog.Warn("compact: git commit of export failed, continuing", "error", err)
			}
		}
	}

	entry := &types.CompactionLogEntry{
		CompactedAt:         c.clock.Now(),
		Summary:             summary,
		Learnings:           learnings,
		LearningsExportedTo: exportedTo,
	}
	if err := c.store.ApplyCompaction(ctx, entry, taskIDs); err != nil {
		return nil, fmt.Errorf("compact: apply: %w", err)
	}

	return &Result{TaskIDs: taskIDs, Summary: summary, Learnings: learnings, MarkdownPath: exportedTo}, nil
}

// writeMarkdown appends (or creates) the export file under a dated
// section header, after validating the target resolves inside the
// project root. Returns the path written on success.
func (c *Compactor) writeMarkdown(cutoff time.Time, tasks []*types.Task, summary string, learnings []string) (string, error) {
	path, err := resolveExportPath(c.config.ProjectRoot, c.config.MarkdownPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "\n## Compacted %s (%d tasks)\n\n", c.clock.Now().Format("2006-01-02"), len(tasks))
	if summary != "" {
		fmt.Fprintf(w, "%s\n\n", summary)
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "- `%s`: %s\n", t.ID, t.Title)
	}
	if len(learnings) > 0 {
		w.WriteString("\nLearnings:\n")
		for _, l := range learnings {
			fmt.Fprintf(w, "- %s\n", l)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush export file: %w", err)
	}
	return path, nil
}

// ExtractCandidates asks the LLM for learning candidates from one
// transcript chunk and persists them as pending, auto-promoting any whose
// confidence is high. Returns ErrUnavailable unchanged when the LLM
// capability is Noop, letting the caller still use Preview-style flows
// elsewhere (spec.md §7's degrade-and-continue policy).
func (c *Compactor) ExtractCandidates(ctx context.Context, chunk, sourceFile, sourceRunID, sourceTaskID string) ([]*types.LearningCandidate, error) {
	if !c.llm.Available() {
		return nil, ErrUnavailable
	}
	extracted, err := c.llm.ExtractCandidates(ctx, chunk)
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}

	now := c.clock.Now()
	out := make([]*types.LearningCandidate, 0, len(extracted))
	for i := range extracted {
		cand := extracted[i]
		cand.SourceFile = sourceFile
		cand.SourceRunID = sourceRunID
		cand.SourceTaskID = sourceTaskID
		cand.ExtractedAt = now
		cand.Status = types.CandidatePending
		if err := c.store.CreateCandidate(ctx, &cand); err != nil {
			return nil, fmt.Errorf("persist candidate: %w", err)
		}
		if cand.Confidence == types.ConfidenceHigh {
			if _, err := c.Promote(ctx, cand.ID, "auto"); err != nil {
				return nil, fmt.Errorf("auto-promote candidate %d: %w", cand.ID, err)
			}
		}
		out = append(out, &cand)
	}
	return out, nil
}

// Promote creates a Learning from a pending candidate, links it back, and
// marks the candidate promoted. reviewedBy is "auto" for confidence-gated
// auto-promotion or the caller's identity for a manual review decision.
func (c *Compactor) Promote(ctx context.Context, candidateID int64, reviewedBy string) (*types.Learning, error) {
	candidates, err := c.store.PendingCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("promote: %w", err)
	}
	var target *types.LearningCandidate
	for _, cand := range candidates {
		if cand.ID == candidateID {
			target = cand
			break
		}
	}
	if target == nil {
		return nil, ErrCandidateNotFound
	}

	learning := &types.Learning{
		Content:   target.Content,
		Source:    types.SourceCompaction,
		SourceRef: target.SourceRunID,
		CreatedAt: c.clock.Now(),
		Category:  target.Category,
	}
	if err := c.store.CreateLearning(ctx, learning); err != nil {
		return nil, fmt.Errorf("promote: create learning: %w", err)
	}
	if err := c.store.ResolveCandidate(ctx, candidateID, types.CandidatePromoted, &learning.ID, ""); err != nil {
		return nil, fmt.Errorf("promote: resolve candidate: %w", err)
	}
	return learning, nil
}

// Reject marks a pending candidate rejected with reason, leaving no
// learning behind.
func (c *Compactor) Reject(ctx context.Context, candidateID int64, reason string) error {
	if err := c.store.ResolveCandidate(ctx, candidateID, types.CandidateRejected, nil, reason); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCandidateNotFound
		}
		return fmt.Errorf("reject candidate %d: %w", candidateID, err)
	}
	return nil
}
