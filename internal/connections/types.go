package connections

import (
	"context"
	"time"
)

// SentimentType is the closed set of sentiment labels enrichment can assign.
type SentimentType string

const (
	SentimentPositive SentimentType = "positive"
	SentimentNeutral  SentimentType = "neutral"
	SentimentNegative SentimentType = "negative"
)

// PriorityLevel is an ordered closed set. The ordinal distance between two
// levels drives the priority alignment criterion.
type PriorityLevel string

const (
	PriorityLow      PriorityLevel = "low"
	PriorityMedium   PriorityLevel = "medium"
	PriorityHigh     PriorityLevel = "high"
	PriorityCritical PriorityLevel = "critical"
)

type Sentiment struct {
	Type SentimentType `json:"type"`
}

type Priority struct {
	Level PriorityLevel `json:"level"`
}

// Item is a content record as the engine consumes it: read-only, with
// optional enrichment fields. A missing optional field means "unknown",
// never zero or negative.
type Item struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Embedding []float32  `json:"embedding,omitempty"`
	Sentiment *Sentiment `json:"sentiment,omitempty"`
	Priority  *Priority  `json:"priority,omitempty"`

	From   string   `json:"from,omitempty"`
	To     []string `json:"to,omitempty"`
	CC     []string `json:"cc,omitempty"`
	Author string   `json:"author,omitempty"`
}

// ScoringWeights holds one non-negative weight per criterion. The engine
// never normalizes the weights; callers own their sum.
type ScoringWeights struct {
	VectorSimilarity   float64 `json:"vector_similarity"`
	TemporalSimilarity float64 `json:"temporal_similarity"`
	SentimentAlignment float64 `json:"sentiment_alignment"`
	PriorityAlignment  float64 `json:"priority_alignment"`
	SharedParticipants float64 `json:"shared_participants"`
	SharedTags         float64 `json:"shared_tags"`
}

// DefaultScoringWeights returns the default weights, which sum to 1.0.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		VectorSimilarity:   0.40,
		TemporalSimilarity: 0.15,
		SentimentAlignment: 0.10,
		PriorityAlignment:  0.10,
		SharedParticipants: 0.15,
		SharedTags:         0.10,
	}
}

// WeightOverrides overrides any subset of the default weights. Nil fields
// keep the default.
type WeightOverrides struct {
	VectorSimilarity   *float64 `json:"vector_similarity,omitempty"`
	TemporalSimilarity *float64 `json:"temporal_similarity,omitempty"`
	SentimentAlignment *float64 `json:"sentiment_alignment,omitempty"`
	PriorityAlignment  *float64 `json:"priority_alignment,omitempty"`
	SharedParticipants *float64 `json:"shared_participants,omitempty"`
	SharedTags         *float64 `json:"shared_tags,omitempty"`
}

// Merge applies the overrides on top of w and returns the result.
func (w ScoringWeights) Merge(o *WeightOverrides) ScoringWeights {
	if o == nil {
		return w
	}
	if o.VectorSimilarity != nil {
		w.VectorSimilarity = *o.VectorSimilarity
	}
	if o.TemporalSimilarity != nil {
		w.TemporalSimilarity = *o.TemporalSimilarity
	}
	if o.SentimentAlignment != nil {
		w.SentimentAlignment = *o.SentimentAlignment
	}
	if o.PriorityAlignment != nil {
		w.PriorityAlignment = *o.PriorityAlignment
	}
	if o.SharedParticipants != nil {
		w.SharedParticipants = *o.SharedParticipants
	}
	if o.SharedTags != nil {
		w.SharedTags = *o.SharedTags
	}
	return w
}

// ScoringCriteria carries the six per-criterion signals. All are in [0,1]
// except VectorSimilarity, which is a raw cosine and may reach [-1,1] on
// the pairwise path.
type ScoringCriteria struct {
	VectorSimilarity   float64 `json:"vector_similarity"`
	TemporalSimilarity float64 `json:"temporal_similarity"`
	SentimentAlignment float64 `json:"sentiment_alignment"`
	PriorityAlignment  float64 `json:"priority_alignment"`
	SharedParticipants float64 `json:"shared_participants"`
	SharedTags         float64 `json:"shared_tags"`
}

const (
	DefaultMinScore           = 0.6
	DefaultMaxConnections     = 10
	DefaultTemporalWindowDays = 30

	// candidateOverfetch over-fetches from the vector store to absorb
	// losses from self-exclusion, type and temporal filters.
	candidateOverfetch = 3

	// candidateMinSimilarity is the loose retrieval floor. Vector
	// similarity is only one of six weighted signals, so this sits well
	// below the final score threshold.
	candidateMinSimilarity = 0.5

	// temporalDecayDays is the fixed normalization window of the temporal
	// similarity formula. Independent from DetectionOptions.TemporalWindowDays,
	// which filters candidates before scoring.
	temporalDecayDays = 30.0
)

// DetectionOptions tunes one detection call. Zero values fall back to the
// defaults above; a negative TemporalWindowDays disables the temporal
// candidate filter entirely.
type DetectionOptions struct {
	MinScore           float64          `json:"min_score"`
	MaxConnections     int              `json:"max_connections"`
	Weights            *WeightOverrides `json:"weights,omitempty"`
	TemporalWindowDays int              `json:"temporal_window_days"`
	ItemTypes          []string         `json:"item_types,omitempty"`
}

func (o DetectionOptions) withDefaults() DetectionOptions {
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.TemporalWindowDays == 0 {
		o.TemporalWindowDays = DefaultTemporalWindowDays
	}
	return o
}

// Relationship is the bidirectional edge record built for every accepted
// connection. Strength is the full weighted score; Confidence is bound to
// the raw vector similarity on purpose: it reflects how sure we are the two
// items are about the same topic, not how strong the overall tie is.
type Relationship struct {
	SourceID      string          `json:"source_id"`
	TargetID      string          `json:"target_id"`
	Strength      float64         `json:"strength"`
	Confidence    float64         `json:"confidence"`
	Criteria      ScoringCriteria `json:"criteria"`
	Weights       ScoringWeights  `json:"weights"`
	Reason        string          `json:"reason"`
	Bidirectional bool            `json:"bidirectional"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// ConnectionResult is one scored connection between a source and a target.
type ConnectionResult struct {
	SourceItem   Item            `json:"source_item"`
	TargetItem   Item            `json:"target_item"`
	OverallScore float64         `json:"overall_score"`
	Criteria     ScoringCriteria `json:"criteria"`
	Reason       string          `json:"reason"`
	Relationship Relationship    `json:"relationship"`
}

// ItemConnectionsResult is the full outcome of one detection call.
// TotalFound counts results that passed the score threshold before
// truncation to MaxConnections, so callers can tell more results exist.
type ItemConnectionsResult struct {
	Item          Item               `json:"item"`
	Connections   []ConnectionResult `json:"connections"`
	TotalFound    int                `json:"total_found"`
	ExecutionTime time.Duration      `json:"execution_time"`
}

// Candidate is an item returned by the vector store with its cosine
// similarity, prior to full scoring.
type Candidate struct {
	Item  Item    `json:"item"`
	Score float64 `json:"score"`
}

// Searcher is the approximate-nearest-neighbor contract the detector
// consumes. Scores are cosine similarities in [0,1]; the engine treats them
// as authoritative.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]Candidate, error)
}
