package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/storage/models"
)

type fakeLoader struct {
	records map[string]*models.ItemRecord
}

func (f *fakeLoader) GetItem(id string) (*models.ItemRecord, error) {
	record, ok := f.records[id]
	if !ok {
		return nil, errors.New("item not found")
	}
	return record, nil
}

type fakeRelStore struct {
	relationships []*models.RelationshipRecord
	runs          []*models.DetectionRun
}

func (f *fakeRelStore) InsertRelationship(rel *models.RelationshipRecord) error {
	f.relationships = append(f.relationships, rel)
	return nil
}

func (f *fakeRelStore) InsertDetectionRun(run *models.DetectionRun) error {
	f.runs = append(f.runs, run)
	return nil
}

type fakeGraph struct {
	merged []connections.Relationship
}

func (f *fakeGraph) MergeConnection(ctx context.Context, rel connections.Relationship) error {
	f.merged = append(f.merged, rel)
	return nil
}

type fakeCache struct {
	stored map[string]*connections.ItemConnectionsResult
	sets   int
}

func cacheKey(itemID, optionsHash string) string { return itemID + ":" + optionsHash }

func (f *fakeCache) GetConnections(ctx context.Context, itemID, optionsHash string) (*connections.ItemConnectionsResult, bool, error) {
	result, ok := f.stored[cacheKey(itemID, optionsHash)]
	return result, ok, nil
}

func (f *fakeCache) SetConnections(ctx context.Context, itemID, optionsHash string, result *connections.ItemConnectionsResult, ttl time.Duration) error {
	if f.stored == nil {
		f.stored = map[string]*connections.ItemConnectionsResult{}
	}
	f.stored[cacheKey(itemID, optionsHash)] = result
	f.sets++
	return nil
}

type fakeSearcher struct {
	candidates []connections.Candidate
	calls      int
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]connections.Candidate, error) {
	f.calls++
	return f.candidates, nil
}

func testRecord(id string, createdAt time.Time) *models.ItemRecord {
	return &models.ItemRecord{
		ID:        id,
		Type:      "note",
		Title:     "Note " + id,
		CreatedAt: createdAt,
		Embedding: []float32{1, 0, 0},
	}
}

func newTestService(searcher *fakeSearcher) (*Service, *fakeLoader, *fakeRelStore, *fakeGraph, *fakeCache) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	loader := &fakeLoader{records: map[string]*models.ItemRecord{
		"a": testRecord("a", day),
		"b": testRecord("b", day),
	}}
	store := &fakeRelStore{}
	graph := &fakeGraph{}
	cache := &fakeCache{}
	svc := NewService(connections.NewDetector(searcher), loader, store, graph, cache, time.Minute)
	return svc, loader, store, graph, cache
}

func TestConnectionsForItem_PersistsAndCaches(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{candidates: []connections.Candidate{
		{Item: connections.Item{ID: "b", Type: "note", CreatedAt: day, Embedding: []float32{1, 0, 0}}, Score: 1.0},
	}}
	svc, _, store, graph, cache := newTestService(searcher)

	result, err := svc.ConnectionsForItem(context.Background(), "a", connections.DetectionOptions{})
	if err != nil {
		t.Fatalf("ConnectionsForItem: %v", err)
	}

	if len(result.Connections) != 1 {
		t.Fatalf("connections = %d, want 1", len(result.Connections))
	}
	if len(store.relationships) != 1 {
		t.Errorf("persisted relationships = %d, want 1", len(store.relationships))
	}
	if store.relationships[0].SourceID != "a" || store.relationships[0].TargetID != "b" {
		t.Errorf("relationship endpoints = %s -> %s", store.relationships[0].SourceID, store.relationships[0].TargetID)
	}
	if len(store.runs) != 1 {
		t.Fatalf("detection runs = %d, want 1", len(store.runs))
	}
	if store.runs[0].ItemID != "a" || store.runs[0].Mode != "single" {
		t.Errorf("run = %+v", store.runs[0])
	}
	if store.runs[0].MinScore != connections.DefaultMinScore {
		t.Errorf("run min_score = %v, want default", store.runs[0].MinScore)
	}
	if len(graph.merged) != 1 {
		t.Errorf("graph edges = %d, want 1", len(graph.merged))
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}
}

func TestConnectionsForItem_CacheHitSkipsDetection(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, _, store, _, cache := newTestService(searcher)

	opts := connections.DetectionOptions{MinScore: 0.7}
	cached := &connections.ItemConnectionsResult{TotalFound: 42}
	cache.stored = map[string]*connections.ItemConnectionsResult{
		cacheKey("a", hashOptions(opts)): cached,
	}

	result, err := svc.ConnectionsForItem(context.Background(), "a", opts)
	if err != nil {
		t.Fatalf("ConnectionsForItem: %v", err)
	}

	if result.TotalFound != 42 {
		t.Errorf("expected the cached result, got %+v", result)
	}
	if searcher.calls != 0 {
		t.Errorf("vector store called %d times on a cache hit", searcher.calls)
	}
	if len(store.runs) != 0 {
		t.Error("cache hits should not record a detection run")
	}
}

func TestConnectionsForItem_DifferentOptionsMissCache(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, _, _, _, cache := newTestService(searcher)

	cached := &connections.ItemConnectionsResult{TotalFound: 42}
	cache.stored = map[string]*connections.ItemConnectionsResult{
		cacheKey("a", hashOptions(connections.DetectionOptions{MinScore: 0.7})): cached,
	}

	result, err := svc.ConnectionsForItem(context.Background(), "a", connections.DetectionOptions{MinScore: 0.8})
	if err != nil {
		t.Fatalf("ConnectionsForItem: %v", err)
	}
	if result.TotalFound == 42 {
		t.Error("different options must not reuse the cached result")
	}
	if searcher.calls != 1 {
		t.Errorf("vector store calls = %d, want 1", searcher.calls)
	}
}

func TestConnectionsForItem_UnknownItem(t *testing.T) {
	svc, _, _, _, _ := newTestService(&fakeSearcher{})

	_, err := svc.ConnectionsForItem(context.Background(), "missing", connections.DetectionOptions{})
	if err == nil {
		t.Fatal("expected error for unknown item")
	}
}

func TestConnectionsForItems_PreservesOrderAndPersists(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{candidates: []connections.Candidate{
		{Item: connections.Item{ID: "c", Type: "note", CreatedAt: day, Embedding: []float32{1, 0, 0}}, Score: 1.0},
	}}
	svc, _, store, _, _ := newTestService(searcher)

	results, err := svc.ConnectionsForItems(context.Background(), []string{"a", "b"}, connections.DetectionOptions{})
	if err != nil {
		t.Fatalf("ConnectionsForItems: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Item.ID != "a" || results[1].Item.ID != "b" {
		t.Errorf("result order = %s, %s", results[0].Item.ID, results[1].Item.ID)
	}
	if len(store.runs) != 2 {
		t.Errorf("detection runs = %d, want 2", len(store.runs))
	}
	for _, run := range store.runs {
		if run.Mode != "batch" {
			t.Errorf("run mode = %s, want batch", run.Mode)
		}
	}
}

func TestConnectionsForItems_UnknownItemAborts(t *testing.T) {
	searcher := &fakeSearcher{}
	svc, _, store, _, _ := newTestService(searcher)

	_, err := svc.ConnectionsForItems(context.Background(), []string{"a", "missing"}, connections.DetectionOptions{})
	if err == nil {
		t.Fatal("expected error for unknown item in batch")
	}
	if searcher.calls != 0 {
		t.Error("detection should not start when loading fails")
	}
	if len(store.runs) != 0 {
		t.Error("no runs should be recorded for an aborted batch")
	}
}

func TestConnectionsForInlineItem_PersistsButNeverCaches(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{candidates: []connections.Candidate{
		{Item: connections.Item{ID: "b", Type: "note", CreatedAt: day, Embedding: []float32{1, 0, 0}}, Score: 1.0},
	}}
	svc, _, store, _, cache := newTestService(searcher)

	inline := connections.Item{ID: "ephemeral", Type: "note", CreatedAt: day, Embedding: []float32{1, 0, 0}}
	result, err := svc.ConnectionsForInlineItem(context.Background(), inline, connections.DetectionOptions{})
	if err != nil {
		t.Fatalf("ConnectionsForInlineItem: %v", err)
	}

	if len(result.Connections) != 1 {
		t.Fatalf("connections = %d, want 1", len(result.Connections))
	}
	if len(store.runs) != 1 || store.runs[0].Mode != "inline" {
		t.Errorf("runs = %+v, want one inline run", store.runs)
	}
	if cache.sets != 0 {
		t.Error("inline detections must not populate the cache")
	}
}

func TestSetDefaultOptions_SeedsZeroValuedRequests(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{candidates: []connections.Candidate{
		{Item: connections.Item{ID: "b", Type: "note", CreatedAt: day, Embedding: []float32{1, 0, 0}}, Score: 1.0},
	}}
	svc, _, store, _, _ := newTestService(searcher)
	svc.SetDefaultOptions(connections.DetectionOptions{MinScore: 0.7})

	// Identical same-day items score 0.65: below the configured default,
	// above the engine's.
	result, err := svc.ConnectionsForItem(context.Background(), "a", connections.DetectionOptions{})
	if err != nil {
		t.Fatalf("ConnectionsForItem: %v", err)
	}
	if len(result.Connections) != 0 {
		t.Errorf("connections = %d, configured default threshold should apply", len(result.Connections))
	}
	if len(store.runs) != 1 || store.runs[0].MinScore != 0.7 {
		t.Errorf("runs = %+v, want audit row with the configured threshold", store.runs)
	}

	// Explicit request options still win over the configured defaults.
	result, err = svc.ConnectionsForItem(context.Background(), "a", connections.DetectionOptions{MinScore: 0.6})
	if err != nil {
		t.Fatalf("ConnectionsForItem: %v", err)
	}
	if len(result.Connections) != 1 {
		t.Errorf("connections = %d, explicit options should override defaults", len(result.Connections))
	}
}

func TestStrongestConnection(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{candidates: []connections.Candidate{
		{Item: connections.Item{ID: "b", Type: "note", CreatedAt: day, Embedding: []float32{1, 0, 0}}, Score: 1.0},
	}}
	svc, _, _, _, _ := newTestService(searcher)

	best, err := svc.StrongestConnection(context.Background(), "a", connections.DetectionOptions{})
	if err != nil {
		t.Fatalf("StrongestConnection: %v", err)
	}
	if best == nil || best.TargetItem.ID != "b" {
		t.Errorf("best = %+v, want connection to b", best)
	}
}

func TestCheckConnected(t *testing.T) {
	svc, loader, _, _, _ := newTestService(&fakeSearcher{})

	// Identical embeddings on the same day clear the default threshold.
	connected, err := svc.CheckConnected(context.Background(), "a", "b", 0)
	if err != nil {
		t.Fatalf("CheckConnected: %v", err)
	}
	if !connected {
		t.Error("identical same-day items should be connected")
	}

	loader.records["b"].Embedding = nil
	connected, err = svc.CheckConnected(context.Background(), "a", "b", 0)
	if err != nil {
		t.Fatalf("CheckConnected: %v", err)
	}
	if connected {
		t.Error("missing embedding should fail softly as not connected")
	}
}
