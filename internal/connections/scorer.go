package connections

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Scorer combines the six criterion signals into one weighted score and
// builds the output relationship record. It holds no state and is safe for
// concurrent use.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// ScoreConnection evaluates source against target. The vector similarity is
// passed in rather than recomputed: the caller already has it from the
// vector store (or from a direct cosine on the pairwise path), and the
// scorer stays decoupled from the embedding representation.
//
// The overall score is a plain weighted sum. No normalization, no clamping;
// exotic weights can push it outside [0,1] and that is accepted behavior.
func (s *Scorer) ScoreConnection(source, target Item, vectorSimilarity float64, weights ScoringWeights) ConnectionResult {
	criteria := ScoringCriteria{
		VectorSimilarity:   vectorSimilarity,
		TemporalSimilarity: TemporalSimilarity(source, target),
		SentimentAlignment: SentimentAlignment(source, target),
		PriorityAlignment:  PriorityAlignment(source, target),
		SharedParticipants: SharedParticipants(source, target),
		SharedTags:         SharedTags(source, target),
	}

	overall := weights.VectorSimilarity*criteria.VectorSimilarity +
		weights.TemporalSimilarity*criteria.TemporalSimilarity +
		weights.SentimentAlignment*criteria.SentimentAlignment +
		weights.PriorityAlignment*criteria.PriorityAlignment +
		weights.SharedParticipants*criteria.SharedParticipants +
		weights.SharedTags*criteria.SharedTags

	return ConnectionResult{
		SourceItem:   source,
		TargetItem:   target,
		OverallScore: overall,
		Criteria:     criteria,
		Reason:       buildReason(source, target, criteria),
		Relationship: Relationship{
			SourceID:      source.ID,
			TargetID:      target.ID,
			Strength:      overall,
			Confidence:    vectorSimilarity,
			Criteria:      criteria,
			Weights:       weights,
			Bidirectional: true,
			DetectedAt:    time.Now(),
		},
	}
}

const fallbackReason = "connection detected via multi-criteria analysis"

// buildReason synthesizes the human-readable explanation. Rules run in a
// fixed order; every qualifying clause is appended and the clauses are
// comma-joined. Determinism here is load-bearing: the same inputs must
// always produce the same string.
func buildReason(source, target Item, c ScoringCriteria) string {
	var clauses []string

	if c.VectorSimilarity >= 0.8 {
		clauses = append(clauses, fmt.Sprintf("strong semantic similarity (%d%%)", roundPercent(c.VectorSimilarity)))
	} else if c.VectorSimilarity >= 0.6 {
		clauses = append(clauses, fmt.Sprintf("moderate semantic similarity (%d%%)", roundPercent(c.VectorSimilarity)))
	}

	if c.TemporalSimilarity >= 0.8 {
		clauses = append(clauses, "created at the same time")
	} else if c.TemporalSimilarity >= 0.5 {
		clauses = append(clauses, "temporal proximity")
	}

	if c.SharedParticipants >= 0.5 {
		clauses = append(clauses, "similar participants")
	}

	if c.SharedTags >= 0.5 {
		if common := commonTags(source, target, 3); len(common) > 0 {
			clauses = append(clauses, "shared tags: "+strings.Join(common, ", "))
		}
	}

	if c.SentimentAlignment == 1.0 && source.Sentiment != nil {
		clauses = append(clauses, fmt.Sprintf("same sentiment (%s)", source.Sentiment.Type))
	}

	if c.PriorityAlignment >= 0.8 && source.Priority != nil {
		clauses = append(clauses, fmt.Sprintf("same priority (%s)", source.Priority.Level))
	}

	if len(clauses) == 0 {
		return capitalize(fallbackReason)
	}

	return capitalize(strings.Join(clauses, ", "))
}

// commonTags returns up to limit tags present on both items, in the source
// item's tag order.
func commonTags(source, target Item, limit int) []string {
	targetSet := make(map[string]struct{}, len(target.Tags))
	for _, t := range target.Tags {
		targetSet[t] = struct{}{}
	}

	var common []string
	seen := make(map[string]struct{})
	for _, t := range source.Tags {
		if _, ok := targetSet[t]; !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		common = append(common, t)
		if len(common) == limit {
			break
		}
	}
	return common
}

func roundPercent(v float64) int {
	return int(math.Round(v * 100))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
