package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/storage/models"
)

type fakeItemStore struct {
	records      []*models.ItemRecord
	deletedItems []string
	deletedRels  []string
	err          error
}

func (f *fakeItemStore) UpsertItem(record *models.ItemRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeItemStore) DeleteItem(id string) error {
	if f.err != nil {
		return f.err
	}
	f.deletedItems = append(f.deletedItems, id)
	return nil
}

func (f *fakeItemStore) DeleteRelationshipsForItem(itemID string) error {
	if f.err != nil {
		return f.err
	}
	f.deletedRels = append(f.deletedRels, itemID)
	return nil
}

type fakeVectorStore struct {
	items   []connections.Item
	deleted []string
	err     error
}

func (f *fakeVectorStore) Upsert(ctx context.Context, items []connections.Item) error {
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, items...)
	return nil
}

func (f *fakeVectorStore) Delete(ctx context.Context, itemID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

type fakeGraphStore struct {
	merged  []string
	deleted []string
	err     error
}

func (f *fakeGraphStore) MergeItem(ctx context.Context, item connections.Item) error {
	if f.err != nil {
		return f.err
	}
	f.merged = append(f.merged, item.ID)
	return nil
}

func (f *fakeGraphStore) DeleteConnections(ctx context.Context, itemID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, itemID)
	return nil
}

type fakeInvalidator struct {
	invalidated []string
}

func (f *fakeInvalidator) InvalidateItem(ctx context.Context, itemID string) error {
	f.invalidated = append(f.invalidated, itemID)
	return nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func newTestProcessor() (*Processor, *fakeItemStore, *fakeVectorStore, *fakeGraphStore, *fakeInvalidator, *fakeEmbedder) {
	store := &fakeItemStore{}
	vectors := &fakeVectorStore{}
	graph := &fakeGraphStore{}
	cache := &fakeInvalidator{}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	return NewProcessor(store, vectors, graph, cache, embedder), store, vectors, graph, cache, embedder
}

func TestProcess_PersistsEverywhere(t *testing.T) {
	p, store, vectors, graph, cache, _ := newTestProcessor()

	item, err := p.Process(context.Background(), Request{
		ID:        "item-1",
		Type:      "note",
		Title:     "Deployment checklist",
		Content:   "Verify the database backup before the deployment window.",
		CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if item.ID != "item-1" {
		t.Errorf("item ID = %s", item.ID)
	}
	if len(item.Embedding) != 3 {
		t.Errorf("embedding length = %d, want 3", len(item.Embedding))
	}
	if len(store.records) != 1 || store.records[0].ID != "item-1" {
		t.Errorf("item store records = %+v", store.records)
	}
	if len(vectors.items) != 1 || vectors.items[0].ID != "item-1" {
		t.Errorf("vector store items = %+v", vectors.items)
	}
	if len(graph.merged) != 1 || graph.merged[0] != "item-1" {
		t.Errorf("graph merges = %v", graph.merged)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "item-1" {
		t.Errorf("cache invalidations = %v", cache.invalidated)
	}
}

func TestProcess_GeneratesIDWhenMissing(t *testing.T) {
	p, store, _, _, _, _ := newTestProcessor()

	item, err := p.Process(context.Background(), Request{
		Type:    "note",
		Title:   "Untitled note",
		Content: "Some content.",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if store.records[0].ID != item.ID {
		t.Errorf("stored ID %s does not match returned ID %s", store.records[0].ID, item.ID)
	}
}

func TestProcess_RejectsEmptyItem(t *testing.T) {
	p, store, vectors, _, _, _ := newTestProcessor()

	_, err := p.Process(context.Background(), Request{ID: "x", Type: "note"})
	if err == nil {
		t.Fatal("expected error for empty item")
	}
	if len(store.records) != 0 || len(vectors.items) != 0 {
		t.Error("nothing should be persisted for a rejected item")
	}
}

func TestProcess_ExplicitMetadataWins(t *testing.T) {
	p, _, vectors, _, _, _ := newTestProcessor()

	item, err := p.Process(context.Background(), Request{
		ID:        "item-2",
		Type:      "email",
		Title:     "Quarterly review",
		Content:   "This failed and it is urgent.",
		Tags:      []string{"finance"},
		Sentiment: "positive",
		Priority:  "low",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if item.Sentiment == nil || item.Sentiment.Type != connections.SentimentPositive {
		t.Errorf("sentiment = %+v, explicit value should win over derived", item.Sentiment)
	}
	if item.Priority == nil || item.Priority.Level != connections.PriorityLow {
		t.Errorf("priority = %+v, explicit value should win over derived", item.Priority)
	}
	if len(item.Tags) != 1 || item.Tags[0] != "finance" {
		t.Errorf("tags = %v, explicit tags should win", item.Tags)
	}
	if vectors.items[0].Sentiment.Type != connections.SentimentPositive {
		t.Error("indexed item should carry the explicit sentiment")
	}
}

func TestProcess_EmbedsTitleAndCleanedContent(t *testing.T) {
	p, _, _, _, _, embedder := newTestProcessor()

	html := "<html><head><title>Ignored</title><style>p{}</style></head>" +
		"<body><script>var x;</script><p>Migration   notes here.</p></body></html>"

	_, err := p.Process(context.Background(), Request{
		ID:      "item-3",
		Type:    "doc",
		Title:   "Migration notes",
		Content: html,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(embedder.texts) != 1 {
		t.Fatalf("embedder called %d times, want 1", len(embedder.texts))
	}
	got := embedder.texts[0]
	if strings.Contains(got, "var x") || strings.Contains(got, "p{}") {
		t.Errorf("embedded text %q still contains markup noise", got)
	}
	if !strings.Contains(got, "Migration notes here.") {
		t.Errorf("embedded text %q missing cleaned body text", got)
	}
}

func TestProcess_TitleExtractedFromHTML(t *testing.T) {
	p, _, _, _, _, _ := newTestProcessor()

	item, err := p.Process(context.Background(), Request{
		ID:      "item-4",
		Type:    "doc",
		Content: "<html><head><title>Incident report</title></head><body>Details.</body></html>",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.Title != "Incident report" {
		t.Errorf("title = %q, want extracted HTML title", item.Title)
	}
}

func TestProcess_EmbedderErrorAbortsPersistence(t *testing.T) {
	p, store, vectors, _, _, embedder := newTestProcessor()
	embedder.err = errors.New("embedding service down")

	_, err := p.Process(context.Background(), Request{
		ID:      "item-5",
		Type:    "note",
		Title:   "Note",
		Content: "Body.",
	})
	if err == nil {
		t.Fatal("expected embedder error to propagate")
	}
	if len(store.records) != 0 || len(vectors.items) != 0 {
		t.Error("nothing should be persisted when embedding fails")
	}
}

func TestProcess_GraphFailureIsNonFatal(t *testing.T) {
	p, store, _, graph, _, _ := newTestProcessor()
	graph.err = errors.New("neo4j unavailable")

	_, err := p.Process(context.Background(), Request{
		ID:      "item-6",
		Type:    "note",
		Title:   "Note",
		Content: "Body.",
	})
	if err != nil {
		t.Fatalf("graph failure should not fail ingestion: %v", err)
	}
	if len(store.records) != 1 {
		t.Error("item should still be persisted")
	}
}

func TestDelete_RemovesFromEveryStore(t *testing.T) {
	p, store, vectors, graph, cache, _ := newTestProcessor()

	err := p.Delete(context.Background(), "item-7")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(vectors.deleted) != 1 || vectors.deleted[0] != "item-7" {
		t.Errorf("vector deletions = %v", vectors.deleted)
	}
	if len(store.deletedRels) != 1 || store.deletedRels[0] != "item-7" {
		t.Errorf("relationship deletions = %v", store.deletedRels)
	}
	if len(store.deletedItems) != 1 || store.deletedItems[0] != "item-7" {
		t.Errorf("item deletions = %v", store.deletedItems)
	}
	if len(graph.deleted) != 1 || graph.deleted[0] != "item-7" {
		t.Errorf("graph deletions = %v", graph.deleted)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "item-7" {
		t.Errorf("cache invalidations = %v", cache.invalidated)
	}
}

func TestDelete_VectorFailureAborts(t *testing.T) {
	p, store, vectors, _, _, _ := newTestProcessor()
	vectors.err = errors.New("milvus unavailable")

	err := p.Delete(context.Background(), "item-8")
	if err == nil {
		t.Fatal("expected vector store error to propagate")
	}
	if len(store.deletedItems) != 0 {
		t.Error("item record should survive when the vector delete fails")
	}
}

func TestDelete_GraphFailureIsNonFatal(t *testing.T) {
	p, store, _, graph, _, _ := newTestProcessor()
	graph.err = errors.New("neo4j unavailable")

	err := p.Delete(context.Background(), "item-9")
	if err != nil {
		t.Fatalf("graph failure should not fail deletion: %v", err)
	}
	if len(store.deletedItems) != 1 {
		t.Error("item record should still be deleted")
	}
}

func TestCleanHTML_PlainTextPassthrough(t *testing.T) {
	got := cleanHTML("plain   text\n\twith   gaps")
	if got != "plain text with gaps" {
		t.Errorf("cleanHTML = %q", got)
	}
}
