package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/embedding"
	"github.com/guthubrx/cartae-connections/internal/enrichment"
	"github.com/guthubrx/cartae-connections/internal/storage/models"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

// ItemStore persists the canonical item record and its stored
// relationships.
type ItemStore interface {
	UpsertItem(record *models.ItemRecord) error
	DeleteItem(id string) error
	DeleteRelationshipsForItem(itemID string) error
}

// VectorStore receives the embedded item for ANN retrieval.
type VectorStore interface {
	Upsert(ctx context.Context, items []connections.Item) error
	Delete(ctx context.Context, itemID string) error
}

// GraphStore keeps item nodes in sync so detected edges have endpoints.
type GraphStore interface {
	MergeItem(ctx context.Context, item connections.Item) error
	DeleteConnections(ctx context.Context, itemID string) error
}

// CacheInvalidator drops stale detection results after re-ingestion.
type CacheInvalidator interface {
	InvalidateItem(ctx context.Context, itemID string) error
}

// Request is one item submitted for ingestion. Explicit metadata always
// wins over what enrichment derives from the text.
type Request struct {
	ID        string
	Type      string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	Sentiment string
	Priority  string
	From      string
	To        []string
	CC        []string
	Author    string
}

type Processor struct {
	store    ItemStore
	vectors  VectorStore
	graph    GraphStore
	cache    CacheInvalidator
	embedder embedding.Embedder
	enricher *enrichment.Enricher
}

func NewProcessor(store ItemStore, vectors VectorStore, graph GraphStore, cache CacheInvalidator, embedder embedding.Embedder) *Processor {
	return &Processor{
		store:    store,
		vectors:  vectors,
		graph:    graph,
		cache:    cache,
		embedder: embedder,
		enricher: enrichment.NewEnricher(),
	}
}

// Process cleans, enriches, embeds and persists one item, returning the
// engine-ready view of it.
func (p *Processor) Process(ctx context.Context, req Request) (*connections.Item, error) {
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("item has no content to ingest")
	}

	itemID := req.ID
	if itemID == "" {
		itemID = uuid.New().String()
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	text := cleanHTML(req.Content)
	title := req.Title
	if title == "" {
		title = extractTitle(req.Content)
	}

	logger.Info("Processing item",
		zap.String("item_id", itemID),
		zap.String("type", req.Type),
	)

	item := connections.Item{
		ID:        itemID,
		Type:      req.Type,
		Title:     title,
		Tags:      req.Tags,
		CreatedAt: createdAt,
		From:      req.From,
		To:        req.To,
		CC:        req.CC,
		Author:    req.Author,
	}
	if req.Sentiment != "" {
		item.Sentiment = &connections.Sentiment{Type: connections.SentimentType(req.Sentiment)}
	}
	if req.Priority != "" {
		item.Priority = &connections.Priority{Level: connections.PriorityLevel(req.Priority)}
	}

	enriched, err := p.enricher.Enrich(title, text)
	if err != nil {
		logger.Warn("Enrichment failed, continuing with explicit metadata",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	} else {
		if len(item.Tags) == 0 {
			item.Tags = enriched.Tags
		}
		if item.Sentiment == nil {
			item.Sentiment = enriched.Sentiment
		}
		if item.Priority == nil {
			item.Priority = enriched.Priority
		}
		if item.From == "" && item.Author == "" && len(item.To) == 0 {
			item.To = enriched.Participants
		}
	}

	embedText := title
	if text != "" {
		embedText = title + "\n\n" + text
	}
	vector, err := p.embedder.Embed(ctx, embedText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed item: %w", err)
	}
	item.Embedding = vector

	record := models.RecordFromItem(item, text)
	if err := p.store.UpsertItem(record); err != nil {
		return nil, fmt.Errorf("failed to persist item: %w", err)
	}

	if err := p.vectors.Upsert(ctx, []connections.Item{item}); err != nil {
		return nil, fmt.Errorf("failed to index item: %w", err)
	}

	if err := p.graph.MergeItem(ctx, item); err != nil {
		logger.Warn("Failed to mirror item into graph",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}

	if err := p.cache.InvalidateItem(ctx, itemID); err != nil {
		logger.Warn("Failed to invalidate cached connections",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}

	logger.Info("Item processed",
		zap.String("item_id", itemID),
		zap.Int("embedding_dim", len(item.Embedding)),
		zap.Int("tags", len(item.Tags)),
	)

	return &item, nil
}

// Delete removes an item everywhere ingestion put it: the canonical
// record and its relationships, the vector index, the graph mirror and
// the result cache. The canonical store and the vector index must both
// succeed, otherwise a stale vector would keep resurfacing the item as
// a candidate; graph and cache failures are logged and skipped.
func (p *Processor) Delete(ctx context.Context, itemID string) error {
	if err := p.vectors.Delete(ctx, itemID); err != nil {
		return fmt.Errorf("failed to remove item from vector store: %w", err)
	}

	if err := p.store.DeleteRelationshipsForItem(itemID); err != nil {
		return fmt.Errorf("failed to delete relationships: %w", err)
	}

	if err := p.store.DeleteItem(itemID); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	if err := p.graph.DeleteConnections(ctx, itemID); err != nil {
		logger.Warn("Failed to remove graph connections",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}

	if err := p.cache.InvalidateItem(ctx, itemID); err != nil {
		logger.Warn("Failed to invalidate cached connections",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}

	logger.Info("Item deleted", zap.String("item_id", itemID))
	return nil
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// cleanHTML strips markup and collapses whitespace. Plain-text input
// passes through with only whitespace normalization.
func cleanHTML(content string) string {
	if !strings.Contains(content, "<") {
		return strings.TrimSpace(whitespaceRE.ReplaceAllString(content, " "))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return strings.TrimSpace(content)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	return strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
}

func extractTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "Untitled"
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}
	if title == "" {
		return "Untitled"
	}

	return strings.TrimSpace(title)
}
