package connections

import (
	"errors"
	"math"
	"testing"
	"time"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func itemAt(t time.Time) Item {
	return Item{ID: "x", CreatedAt: t}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"identical unit vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"scaled copies", []float32{1, 2, 3}, []float32{2, 4, 6}, 1.0},
		{"zero norm left", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"zero norm right", []float32{1, 1}, []float32{0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity() error = %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float32{0.3, -0.7, 1.2, 0.01}
	b := []float32{-0.5, 0.9, 0.2, 2.4}

	ab, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity(a,b) error = %v", err)
	}
	ba, err := CosineSimilarity(b, a)
	if err != nil {
		t.Fatalf("CosineSimilarity(b,a) error = %v", err)
	}

	if !almostEqual(ab, ba) {
		t.Errorf("similarity not symmetric: %v vs %v", ab, ba)
	}
	if ab < -1 || ab > 1 {
		t.Errorf("similarity out of bounds: %v", ab)
	}
}

func TestCosineSimilarity_SelfSimilarity(t *testing.T) {
	v := []float32{0.12, -3.4, 5.6, 0.7, 8.9}

	got, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("CosineSimilarity() error = %v", err)
	}
	if math.Abs(got-1.0) > 1e-6 {
		t.Errorf("self similarity = %v, want 1.0", got)
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2})
	if err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestTemporalSimilarity(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		b    time.Time
		want float64
	}{
		{"same instant", base, 1.0},
		{"15 days apart", base.AddDate(0, 0, 15), 0.5},
		{"15 days before", base.AddDate(0, 0, -15), 0.5},
		{"30 days apart", base.AddDate(0, 0, 30), 0.0},
		{"90 days apart, clamped", base.AddDate(0, 0, 90), 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TemporalSimilarity(itemAt(base), itemAt(tt.b))
			if !almostEqual(got, tt.want) {
				t.Errorf("TemporalSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func sentimentItem(s SentimentType) Item {
	return Item{Sentiment: &Sentiment{Type: s}}
}

func TestSentimentAlignment(t *testing.T) {
	tests := []struct {
		name string
		a    Item
		b    Item
		want float64
	}{
		{"both positive", sentimentItem(SentimentPositive), sentimentItem(SentimentPositive), 1.0},
		{"both negative", sentimentItem(SentimentNegative), sentimentItem(SentimentNegative), 1.0},
		{"positive vs negative", sentimentItem(SentimentPositive), sentimentItem(SentimentNegative), 0.0},
		{"negative vs positive", sentimentItem(SentimentNegative), sentimentItem(SentimentPositive), 0.0},
		{"neutral vs positive", sentimentItem(SentimentNeutral), sentimentItem(SentimentPositive), 0.7},
		{"positive vs neutral", sentimentItem(SentimentPositive), sentimentItem(SentimentNeutral), 0.7},
		{"neutral vs negative", sentimentItem(SentimentNeutral), sentimentItem(SentimentNegative), 0.5},
		{"left missing", Item{}, sentimentItem(SentimentPositive), 0.5},
		{"right missing", sentimentItem(SentimentNegative), Item{}, 0.5},
		{"both missing", Item{}, Item{}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SentimentAlignment(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("SentimentAlignment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func priorityItem(p PriorityLevel) Item {
	return Item{Priority: &Priority{Level: p}}
}

func TestPriorityAlignment(t *testing.T) {
	tests := []struct {
		name string
		a    Item
		b    Item
		want float64
	}{
		{"same level", priorityItem(PriorityLow), priorityItem(PriorityLow), 1.0},
		{"adjacent", priorityItem(PriorityMedium), priorityItem(PriorityHigh), 0.66},
		{"two apart", priorityItem(PriorityLow), priorityItem(PriorityHigh), 0.32},
		{"three apart, clamped to zero", priorityItem(PriorityLow), priorityItem(PriorityCritical), 0.0},
		{"left missing", Item{}, priorityItem(PriorityHigh), 0.5},
		{"right missing", priorityItem(PriorityHigh), Item{}, 0.5},
		{"unrecognized level", priorityItem("urgent"), priorityItem(PriorityHigh), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityAlignment(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("PriorityAlignment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSharedParticipants(t *testing.T) {
	tests := []struct {
		name string
		a    Item
		b    Item
		want float64
	}{
		{
			"no participants on either side",
			Item{},
			Item{},
			0.0,
		},
		{
			"one side empty",
			Item{From: "alice@example.com"},
			Item{},
			0.0,
		},
		{
			"full overlap on smaller set",
			Item{From: "alice@example.com"},
			Item{From: "bob@example.com", To: []string{"alice@example.com", "carol@example.com"}},
			1.0,
		},
		{
			"case insensitive",
			Item{From: "Alice@Example.com"},
			Item{To: []string{"alice@example.com"}},
			1.0,
		},
		{
			"partial overlap",
			Item{From: "alice@example.com", To: []string{"bob@example.com"}},
			Item{From: "bob@example.com", CC: []string{"dave@example.com"}},
			0.5,
		},
		{
			"author counted",
			Item{Author: "carol"},
			Item{Author: "carol", From: "mallory"},
			1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SharedParticipants(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("SharedParticipants() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSharedTags(t *testing.T) {
	tests := []struct {
		name string
		a    Item
		b    Item
		want float64
	}{
		{"no tags", Item{}, Item{}, 0.0},
		{"disjoint", Item{Tags: []string{"go"}}, Item{Tags: []string{"rust"}}, 0.0},
		{"identical", Item{Tags: []string{"go", "infra"}}, Item{Tags: []string{"infra", "go"}}, 1.0},
		{"subset", Item{Tags: []string{"go"}}, Item{Tags: []string{"go", "infra", "db"}}, 1.0},
		{"case sensitive", Item{Tags: []string{"Go"}}, Item{Tags: []string{"go"}}, 0.0},
		{"half overlap", Item{Tags: []string{"go", "db"}}, Item{Tags: []string{"db", "web"}}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SharedTags(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("SharedTags() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultScoringWeights_SumToOne(t *testing.T) {
	w := DefaultScoringWeights()
	sum := w.VectorSimilarity + w.TemporalSimilarity + w.SentimentAlignment +
		w.PriorityAlignment + w.SharedParticipants + w.SharedTags

	if !almostEqual(sum, 1.0) {
		t.Errorf("default weights sum = %v, want 1.0", sum)
	}
}

func TestScoringWeights_Merge(t *testing.T) {
	override := 0.9

	merged := DefaultScoringWeights().Merge(&WeightOverrides{VectorSimilarity: &override})
	if !almostEqual(merged.VectorSimilarity, 0.9) {
		t.Errorf("VectorSimilarity = %v, want 0.9", merged.VectorSimilarity)
	}
	if !almostEqual(merged.TemporalSimilarity, 0.15) {
		t.Errorf("TemporalSimilarity = %v, want default 0.15", merged.TemporalSimilarity)
	}

	unchanged := DefaultScoringWeights().Merge(nil)
	if unchanged != DefaultScoringWeights() {
		t.Errorf("nil override changed weights: %+v", unchanged)
	}
}
