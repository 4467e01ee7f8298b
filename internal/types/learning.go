package types

import "time"

// LearningSource identifies where a learning originated.
type LearningSource string

const (
	SourceCompaction LearningSource = "compaction"
	SourceRun        LearningSource = "run"
	SourceManual     LearningSource = "manual"
	SourceClaudeMD   LearningSource = "claude_md"
)

// Learning is a durable note retrievable by hybrid search.
type Learning struct {
	ID            int64          `json:"id"`
	Content       string         `json:"content"`
	Source        LearningSource `json:"source"`
	SourceRef     string         `json:"source_ref,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Keywords      []string       `json:"keywords,omitempty"`
	Category      string         `json:"category,omitempty"`
	UsageCount    int            `json:"usage_count"`
	LastUsedAt    *time.Time     `json:"last_used_at,omitempty"`
	OutcomeScore  *float64       `json:"outcome_score,omitempty"`
	Embedding     []float32      `json:"embedding,omitempty"`
}

// Confidence is the extractor's self-reported confidence in a candidate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// CandidateStatus is a learning candidate's review lifecycle.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidatePromoted CandidateStatus = "promoted"
	CandidateRejected CandidateStatus = "rejected"
	CandidateMerged   CandidateStatus = "merged"
)

// LearningCandidate is an extracted but unpromoted note awaiting review.
type LearningCandidate struct {
	ID                int64           `json:"id"`
	Content           string          `json:"content"`
	Confidence        Confidence      `json:"confidence"`
	Category          string          `json:"category,omitempty"`
	SourceFile        string          `json:"source_file,omitempty"`
	SourceRunID       string          `json:"source_run_id,omitempty"`
	SourceTaskID      string          `json:"source_task_id,omitempty"`
	ExtractedAt       time.Time       `json:"extracted_at"`
	Status            CandidateStatus `json:"status"`
	ReviewedBy        string          `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
	PromotedLearningID *int64         `json:"promoted_learning_id,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
}

// AnchorType identifies what kind of code-location pointer an Anchor records.
type AnchorType string

const (
	AnchorGlob      AnchorType = "glob"
	AnchorHash      AnchorType = "hash"
	AnchorSymbol    AnchorType = "symbol"
	AnchorLineRange AnchorType = "line_range"
)

// AnchorStatus tracks whether an anchor still points at valid content.
type AnchorStatus string

const (
	AnchorValid   AnchorStatus = "valid"
	AnchorDrifted AnchorStatus = "drifted"
	AnchorInvalid AnchorStatus = "invalid"
)

// Anchor binds a Learning to a location in a source file.
type Anchor struct {
	ID         int64        `json:"id"`
	LearningID int64        `json:"learning_id"`
	Type       AnchorType   `json:"type"`
	Value      string       `json:"value"`
	FilePath   string       `json:"file_path"`
	SymbolFQN  string       `json:"symbol_fqn,omitempty"`
	LineStart  int          `json:"line_start,omitempty"`
	LineEnd    int          `json:"line_end,omitempty"`
	ContentHash string      `json:"content_hash,omitempty"`
	Status     AnchorStatus `json:"status"`
	Pinned     bool         `json:"pinned"`
	VerifiedAt *time.Time   `json:"verified_at,omitempty"`
}

// Validate enforces the type-specific constraints from spec.md §3.
func (a *Anchor) Validate() error {
	switch a.Type {
	case AnchorHash:
		if len(a.ContentHash) != 64 || !isHex(a.ContentHash) {
			return &ValidationError{Field: "content_hash", Message: "hash anchors require a 64-character hex value"}
		}
	case AnchorSymbol:
		if a.SymbolFQN == "" {
			return &ValidationError{Field: "symbol_fqn", Message: "symbol anchors require a fully-qualified name"}
		}
	case AnchorLineRange:
		if a.LineStart < 1 {
			return &ValidationError{Field: "line_start", Message: "line_start must be >= 1"}
		}
		if a.LineEnd < a.LineStart {
			return &ValidationError{Field: "line_end", Message: "line_end must be >= line_start"}
		}
	case AnchorGlob:
		if a.Value == "" {
			return &ValidationError{Field: "value", Message: "glob anchors require a pattern"}
		}
	default:
		return &ValidationError{Field: "type", Message: "invalid anchor type"}
	}
	return nil
}

// EdgeType identifies how one learning relates to another in the
// retrieval graph.
type EdgeType string

const (
	EdgeSupports    EdgeType = "supports"
	EdgeContradicts EdgeType = "contradicts"
	EdgeRefines     EdgeType = "refines"
)

// LearningEdge is a directed relationship between two learnings, walked
// during bounded-depth graph expansion in hybrid retrieval.
type LearningEdge struct {
	ID             int64     `json:"id"`
	FromLearningID int64     `json:"from_learning_id"`
	ToLearningID   int64     `json:"to_learning_id"`
	Type           EdgeType  `json:"edge_type"`
	CreatedAt      time.Time `json:"created_at"`
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
