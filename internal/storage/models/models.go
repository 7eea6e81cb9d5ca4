package models

import (
	"time"

	"github.com/guthubrx/cartae-connections/internal/connections"
)

// ItemRecord is the persisted form of a content item. The engine consumes
// the connections.Item view; the record additionally keeps the raw content
// the item was enriched and embedded from.
type ItemRecord struct {
	ID        string
	Type      string
	Title     string
	Tags      []string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
	Embedding []float32
	Sentiment string
	Priority  string
	From      string
	To        []string
	CC        []string
	Author    string
}

// ToItem converts the record into the engine's read-only item view. Empty
// sentiment/priority strings map to absent enrichment, never to a default
// label.
func (r *ItemRecord) ToItem() connections.Item {
	item := connections.Item{
		ID:        r.ID,
		Type:      r.Type,
		Title:     r.Title,
		Tags:      r.Tags,
		CreatedAt: r.CreatedAt,
		Embedding: r.Embedding,
		From:      r.From,
		To:        r.To,
		CC:        r.CC,
		Author:    r.Author,
	}
	if r.Sentiment != "" {
		item.Sentiment = &connections.Sentiment{Type: connections.SentimentType(r.Sentiment)}
	}
	if r.Priority != "" {
		item.Priority = &connections.Priority{Level: connections.PriorityLevel(r.Priority)}
	}
	return item
}

// RecordFromItem builds a persistable record from an engine item.
func RecordFromItem(item connections.Item, content string) *ItemRecord {
	record := &ItemRecord{
		ID:        item.ID,
		Type:      item.Type,
		Title:     item.Title,
		Tags:      item.Tags,
		Content:   content,
		CreatedAt: item.CreatedAt,
		UpdatedAt: time.Now(),
		Embedding: item.Embedding,
		From:      item.From,
		To:        item.To,
		CC:        item.CC,
		Author:    item.Author,
	}
	if item.Sentiment != nil {
		record.Sentiment = string(item.Sentiment.Type)
	}
	if item.Priority != nil {
		record.Priority = string(item.Priority.Level)
	}
	return record
}

// RelationshipRecord is one stored connection edge. Strength is the full
// weighted score, confidence the raw vector similarity.
type RelationshipRecord struct {
	ID         int
	RunID      string
	SourceID   string
	TargetID   string
	Strength   float64
	Confidence float64
	Reason     string
	Criteria   connections.ScoringCriteria
	Weights    connections.ScoringWeights
	DetectedAt time.Time
}

// DetectionRun is the audit row for one detection call.
type DetectionRun struct {
	ID         string
	ItemID     string
	Mode       string
	TotalFound int
	Returned   int
	MinScore   float64
	LatencyMS  int
	CreatedAt  time.Time
}
