package enrichment

import (
	"sort"
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

// Enricher derives the scoring metadata the detector consumes from raw
// item text: participants, tags, sentiment and priority. All of it is
// best-effort; an item with no derivable signal keeps nil fields and the
// scorer falls back to its neutral values.
type Enricher struct {
	maxTags int
}

// Enrichment holds the derived fields for one item.
type Enrichment struct {
	Participants []string
	Tags         []string
	Sentiment    *connections.Sentiment
	Priority     *connections.Priority
}

func NewEnricher() *Enricher {
	return &Enricher{maxTags: 8}
}

// Enrich runs tokenization and entity extraction once and derives every
// signal from the same document.
func (e *Enricher) Enrich(title, content string) (*Enrichment, error) {
	text := strings.TrimSpace(title + ". " + content)

	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil, err
	}

	result := &Enrichment{
		Participants: extractParticipants(doc),
		Tags:         e.extractTags(doc),
		Sentiment:    classifySentiment(doc),
		Priority:     classifyPriority(doc),
	}

	logger.Debug("Item enriched",
		zap.Int("participants", len(result.Participants)),
		zap.Int("tags", len(result.Tags)),
	)

	return result, nil
}

// extractParticipants collects PERSON entities, deduplicated and
// lowercased to match the scorer's participant normalization.
func extractParticipants(doc *prose.Document) []string {
	seen := make(map[string]bool)
	var participants []string

	for _, ent := range doc.Entities() {
		if ent.Label != "PERSON" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(ent.Text))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		participants = append(participants, name)
	}

	return participants
}

// extractTags picks the most frequent noun lemmas as topical tags.
func (e *Enricher) extractTags(doc *prose.Document) []string {
	counts := make(map[string]int)
	order := make(map[string]int)

	for i, tok := range doc.Tokens() {
		if !strings.HasPrefix(tok.Tag, "NN") {
			continue
		}
		word := strings.ToLower(tok.Text)
		if len(word) < 3 || stopwords[word] {
			continue
		}
		if _, ok := counts[word]; !ok {
			order[word] = i
		}
		counts[word]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}

	// Frequency first, earliest occurrence breaks ties so output is stable.
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return order[words[i]] < order[words[j]]
	})

	if len(words) > e.maxTags {
		words = words[:e.maxTags]
	}
	return words
}

func classifySentiment(doc *prose.Document) *connections.Sentiment {
	var positive, negative int

	for _, tok := range doc.Tokens() {
		word := strings.ToLower(tok.Text)
		if positiveWords[word] {
			positive++
		}
		if negativeWords[word] {
			negative++
		}
	}

	total := positive + negative
	if total == 0 {
		return nil
	}

	switch {
	case positive > negative:
		return &connections.Sentiment{Type: connections.SentimentPositive}
	case negative > positive:
		return &connections.Sentiment{Type: connections.SentimentNegative}
	default:
		return &connections.Sentiment{Type: connections.SentimentNeutral}
	}
}

func classifyPriority(doc *prose.Document) *connections.Priority {
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(tok.Text)
		if level, ok := priorityKeywords[word]; ok {
			return &connections.Priority{Level: level}
		}
	}
	return nil
}

var stopwords = map[string]bool{
	"thing": true, "things": true, "way": true, "ways": true,
	"time": true, "times": true, "day": true, "days": true,
	"lot": true, "lots": true, "kind": true, "sort": true,
	"part": true, "parts": true, "item": true, "items": true,
}

var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "thanks": true,
	"thank": true, "happy": true, "glad": true, "perfect": true,
	"success": true, "successful": true, "resolved": true, "fixed": true,
	"works": true, "working": true, "approved": true, "done": true,
}

var negativeWords = map[string]bool{
	"bad": true, "broken": true, "fail": true, "failed": true,
	"failure": true, "error": true, "errors": true, "issue": true,
	"problem": true, "problems": true, "crash": true, "crashed": true,
	"wrong": true, "blocked": true, "rejected": true, "bug": true,
}

var priorityKeywords = map[string]connections.PriorityLevel{
	"critical":  connections.PriorityCritical,
	"emergency": connections.PriorityCritical,
	"outage":    connections.PriorityCritical,
	"urgent":    connections.PriorityHigh,
	"asap":      connections.PriorityHigh,
	"important": connections.PriorityHigh,
	"deadline":  connections.PriorityHigh,
	"soon":      connections.PriorityMedium,
	"whenever":  connections.PriorityLow,
	"someday":   connections.PriorityLow,
}
