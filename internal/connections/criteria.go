package connections

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDimensionMismatch is returned when cosine similarity is asked to
// compare vectors of unequal length. Vectors are never truncated or padded.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// CosineSimilarity computes dot(a,b) / (|a|*|b|). Returns 0 when either
// vector has zero norm.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// TemporalSimilarity decays linearly from 1 to 0 over a fixed 30-day
// window. The window is a property of the scoring formula, not of the
// caller-supplied candidate filter.
func TemporalSimilarity(a, b Item) float64 {
	days := daysBetween(a, b)
	return math.Max(0, 1-days/temporalDecayDays)
}

func daysBetween(a, b Item) float64 {
	return math.Abs(a.CreatedAt.Sub(b.CreatedAt).Hours()) / 24
}

// SentimentAlignment is a categorical lookup over the sentiment labels.
// Either side unknown scores the neutral 0.5.
func SentimentAlignment(a, b Item) float64 {
	if a.Sentiment == nil || b.Sentiment == nil {
		return 0.5
	}

	sa, sb := a.Sentiment.Type, b.Sentiment.Type

	switch {
	case sa == sb:
		return 1.0
	case sa == SentimentNeutral && sb != SentimentNegative,
		sb == SentimentNeutral && sa != SentimentNegative:
		return 0.7
	case (sa == SentimentPositive && sb == SentimentNegative) ||
		(sa == SentimentNegative && sb == SentimentPositive):
		return 0.0
	default:
		return 0.5
	}
}

var priorityOrdinals = map[PriorityLevel]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// PriorityAlignment maps levels to ordinals 0..3 and decays by 0.34 per
// step of distance, floored at 0. Missing or unrecognized levels score 0.5.
func PriorityAlignment(a, b Item) float64 {
	if a.Priority == nil || b.Priority == nil {
		return 0.5
	}

	oa, okA := priorityOrdinals[a.Priority.Level]
	ob, okB := priorityOrdinals[b.Priority.Level]
	if !okA || !okB {
		return 0.5
	}

	dist := math.Abs(float64(oa - ob))
	return math.Max(0, 1-dist*0.34)
}

// SharedParticipants is overlap over min-set-size of the lower-cased
// participant sets. Zero if either item has no participants.
func SharedParticipants(a, b Item) float64 {
	setA := participantSet(a)
	setB := participantSet(b)
	return overlapRatio(setA, setB)
}

// SharedTags uses the same overlap ratio over the tag sets, with no case
// normalization.
func SharedTags(a, b Item) float64 {
	setA := make(map[string]struct{}, len(a.Tags))
	for _, t := range a.Tags {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b.Tags))
	for _, t := range b.Tags {
		setB[t] = struct{}{}
	}
	return overlapRatio(setA, setB)
}

func participantSet(item Item) map[string]struct{} {
	set := make(map[string]struct{})
	add := func(p string) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			set[p] = struct{}{}
		}
	}

	add(item.From)
	add(item.Author)
	for _, p := range item.To {
		add(p)
	}
	for _, p := range item.CC {
		add(p)
	}
	return set
}

func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}

	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}

	return float64(intersection) / float64(smaller)
}
