package connections

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/pkg/logger"
)

// Detector orchestrates connection detection: candidate retrieval from the
// vector store, structural filtering, per-candidate scoring, thresholding,
// ranking and truncation. It keeps no state between calls, so a single
// instance can serve concurrent callers.
type Detector struct {
	store  Searcher
	scorer *Scorer

	// batchConcurrency bounds in-flight detections per batch. It defaults
	// to 1: batches run one item at a time so a large batch cannot flood
	// the vector store with parallel queries.
	batchConcurrency int
}

func NewDetector(store Searcher) *Detector {
	return &Detector{
		store:            store,
		scorer:           NewScorer(),
		batchConcurrency: 1,
	}
}

// SetBatchConcurrency widens the per-batch worker pool. Values below 1 are
// treated as 1. Raising this changes the load profile on the vector store.
func (d *Detector) SetBatchConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	d.batchConcurrency = n
}

// DetectConnections finds items connected to item. An item without an
// embedding yields an empty result, not an error: unenriched items are a
// normal state. Vector store failures abort the whole call; there are no
// partial results and no retries at this layer.
func (d *Detector) DetectConnections(ctx context.Context, item Item, opts DetectionOptions) (*ItemConnectionsResult, error) {
	start := time.Now()
	opts = opts.withDefaults()

	if len(item.Embedding) == 0 {
		logger.Debug("Item has no embedding, skipping detection", zap.String("item_id", item.ID))
		return &ItemConnectionsResult{
			Item:          item,
			Connections:   []ConnectionResult{},
			TotalFound:    0,
			ExecutionTime: time.Since(start),
		}, nil
	}

	candidates, err := d.store.Search(ctx, item.Embedding, opts.MaxConnections*candidateOverfetch, candidateMinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	weights := DefaultScoringWeights().Merge(opts.Weights)

	scored := make([]ConnectionResult, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Item.ID == item.ID {
			continue
		}
		if len(opts.ItemTypes) > 0 && !containsType(opts.ItemTypes, cand.Item.Type) {
			continue
		}
		if opts.TemporalWindowDays > 0 && daysBetween(item, cand.Item) > float64(opts.TemporalWindowDays) {
			continue
		}

		result := d.scorer.ScoreConnection(item, cand.Item, cand.Score, weights)
		if result.OverallScore < opts.MinScore {
			continue
		}
		scored = append(scored, result)
	}

	totalFound := len(scored)

	// Stable sort: ties keep retrieval order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].OverallScore > scored[j].OverallScore
	})

	if len(scored) > opts.MaxConnections {
		scored = scored[:opts.MaxConnections]
	}

	logger.Debug("Connection detection completed",
		zap.String("item_id", item.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("total_found", totalFound),
		zap.Int("returned", len(scored)),
	)

	return &ItemConnectionsResult{
		Item:          item,
		Connections:   scored,
		TotalFound:    totalFound,
		ExecutionTime: time.Since(start),
	}, nil
}

// DetectConnectionsBatch detects connections for each item, preserving
// input order in the results. With the default concurrency of 1 items run
// strictly sequentially, a single in-flight vector query at a time.
func (d *Detector) DetectConnectionsBatch(ctx context.Context, items []Item, opts DetectionOptions) ([]*ItemConnectionsResult, error) {
	if d.batchConcurrency <= 1 {
		results := make([]*ItemConnectionsResult, 0, len(items))
		for _, item := range items {
			result, err := d.DetectConnections(ctx, item, opts)
			if err != nil {
				return nil, fmt.Errorf("batch detection failed at item %s: %w", item.ID, err)
			}
			results = append(results, result)
		}
		return results, nil
	}

	results := make([]*ItemConnectionsResult, len(items))
	sem := make(chan struct{}, d.batchConcurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, item := range items {
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			result, err := d.DetectConnections(ctx, item, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("batch detection failed at item %s: %w", item.ID, err)
				}
				return
			}
			results[i] = result
		}(i, item)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// DetectStrongestConnection returns the single best connection for item,
// or nil when nothing clears the threshold.
func (d *Detector) DetectStrongestConnection(ctx context.Context, item Item, opts DetectionOptions) (*ConnectionResult, error) {
	opts.MaxConnections = 1

	result, err := d.DetectConnections(ctx, item, opts)
	if err != nil {
		return nil, err
	}
	if len(result.Connections) == 0 {
		return nil, nil
	}
	return &result.Connections[0], nil
}

// AreItemsConnected is the ad-hoc pairwise predicate. It bypasses the
// vector store and computes cosine similarity directly from the two
// embeddings. Missing embeddings or mismatched dimensions fail softly as
// "not connected". minScore at or below zero uses the default threshold.
func (d *Detector) AreItemsConnected(a, b Item, minScore float64) bool {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return false
	}

	similarity, err := CosineSimilarity(a.Embedding, b.Embedding)
	if err != nil {
		logger.Warn("Pairwise similarity failed",
			zap.String("item_a", a.ID),
			zap.String("item_b", b.ID),
			zap.Error(err),
		)
		return false
	}

	result := d.scorer.ScoreConnection(a, b, similarity, DefaultScoringWeights())
	return result.OverallScore >= minScore
}

func containsType(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
