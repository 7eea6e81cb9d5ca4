package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/metrics"
	"github.com/guthubrx/cartae-connections/internal/storage/models"
	"github.com/guthubrx/cartae-connections/pkg/logger"
	"github.com/guthubrx/cartae-connections/pkg/utils"
)

// ItemLoader resolves item IDs to full records.
type ItemLoader interface {
	GetItem(id string) (*models.ItemRecord, error)
}

// RelationshipStore persists accepted connections and the audit row of
// each detection run.
type RelationshipStore interface {
	InsertRelationship(rel *models.RelationshipRecord) error
	InsertDetectionRun(run *models.DetectionRun) error
}

// GraphWriter mirrors accepted connections as graph edges.
type GraphWriter interface {
	MergeConnection(ctx context.Context, rel connections.Relationship) error
}

// ResultCache avoids re-running detection for repeated identical requests.
type ResultCache interface {
	GetConnections(ctx context.Context, itemID, optionsHash string) (*connections.ItemConnectionsResult, bool, error)
	SetConnections(ctx context.Context, itemID, optionsHash string, result *connections.ItemConnectionsResult, ttl time.Duration) error
}

// Service wraps the detection engine with caching, persistence and
// metrics. The engine stays pure; every side effect lives here.
type Service struct {
	detector *connections.Detector
	items    ItemLoader
	store    RelationshipStore
	graph    GraphWriter
	cache    ResultCache
	cacheTTL time.Duration
	defaults connections.DetectionOptions
}

func NewService(detector *connections.Detector, items ItemLoader, store RelationshipStore, graph GraphWriter, cache ResultCache, cacheTTL time.Duration) *Service {
	return &Service{
		detector: detector,
		items:    items,
		store:    store,
		graph:    graph,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// SetDefaultOptions installs deployment-level fallbacks for request
// options left zero-valued. Fields left zero here still fall back to
// the engine's own defaults.
func (s *Service) SetDefaultOptions(opts connections.DetectionOptions) {
	s.defaults = opts
}

func (s *Service) applyDefaults(opts connections.DetectionOptions) connections.DetectionOptions {
	if opts.MinScore == 0 {
		opts.MinScore = s.defaults.MinScore
	}
	if opts.MaxConnections == 0 {
		opts.MaxConnections = s.defaults.MaxConnections
	}
	if opts.TemporalWindowDays == 0 {
		opts.TemporalWindowDays = s.defaults.TemporalWindowDays
	}
	return opts
}

// ConnectionsForItem runs detection for one stored item. Cached results
// are returned as-is; fresh results are persisted before being returned.
func (s *Service) ConnectionsForItem(ctx context.Context, itemID string, opts connections.DetectionOptions) (*connections.ItemConnectionsResult, error) {
	start := time.Now()
	opts = s.applyDefaults(opts)

	record, err := s.items.GetItem(itemID)
	if err != nil {
		metrics.DetectionTotal.WithLabelValues("single", "error").Inc()
		return nil, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}

	optionsHash := hashOptions(opts)

	if s.cache != nil {
		cached, hit, err := s.cache.GetConnections(ctx, itemID, optionsHash)
		if err != nil {
			logger.Warn("Connections cache lookup failed", zap.Error(err))
		} else if hit {
			metrics.CacheHits.WithLabelValues("connections").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("connections").Inc()
	}

	result, err := s.detector.DetectConnections(ctx, record.ToItem(), opts)
	if err != nil {
		metrics.DetectionTotal.WithLabelValues("single", "error").Inc()
		metrics.VectorStoreErrors.Inc()
		return nil, err
	}

	s.persistResult(ctx, "single", result, opts, time.Since(start))

	if s.cache != nil {
		if err := s.cache.SetConnections(ctx, itemID, optionsHash, result, s.cacheTTL); err != nil {
			logger.Warn("Failed to cache connections result", zap.Error(err))
		}
	}

	metrics.DetectionTotal.WithLabelValues("single", "success").Inc()
	metrics.DetectionDuration.WithLabelValues("single").Observe(time.Since(start).Seconds())

	return result, nil
}

// ConnectionsForItems runs batch detection. Results preserve input order;
// the first failing item aborts the batch. Batch results are persisted but
// not cached, the single-item path owns the cache.
func (s *Service) ConnectionsForItems(ctx context.Context, itemIDs []string, opts connections.DetectionOptions) ([]*connections.ItemConnectionsResult, error) {
	start := time.Now()
	opts = s.applyDefaults(opts)

	items := make([]connections.Item, 0, len(itemIDs))
	for _, id := range itemIDs {
		record, err := s.items.GetItem(id)
		if err != nil {
			metrics.DetectionTotal.WithLabelValues("batch", "error").Inc()
			return nil, fmt.Errorf("failed to load item %s: %w", id, err)
		}
		items = append(items, record.ToItem())
	}

	results, err := s.detector.DetectConnectionsBatch(ctx, items, opts)
	if err != nil {
		metrics.DetectionTotal.WithLabelValues("batch", "error").Inc()
		return nil, err
	}

	for _, result := range results {
		s.persistResult(ctx, "batch", result, opts, result.ExecutionTime)
	}

	metrics.DetectionTotal.WithLabelValues("batch", "success").Inc()
	metrics.DetectionDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())

	return results, nil
}

// ConnectionsForInlineItem runs detection for an item supplied in the
// request instead of loaded from storage. Results are persisted like the
// stored-item path but never cached: an inline item has no stable
// identity to key the cache on.
func (s *Service) ConnectionsForInlineItem(ctx context.Context, item connections.Item, opts connections.DetectionOptions) (*connections.ItemConnectionsResult, error) {
	start := time.Now()
	opts = s.applyDefaults(opts)

	result, err := s.detector.DetectConnections(ctx, item, opts)
	if err != nil {
		metrics.DetectionTotal.WithLabelValues("inline", "error").Inc()
		metrics.VectorStoreErrors.Inc()
		return nil, err
	}

	s.persistResult(ctx, "inline", result, opts, time.Since(start))

	metrics.DetectionTotal.WithLabelValues("inline", "success").Inc()
	metrics.DetectionDuration.WithLabelValues("inline").Observe(time.Since(start).Seconds())

	return result, nil
}

// StrongestConnection returns the single best connection for a stored
// item, or nil when nothing clears the threshold.
func (s *Service) StrongestConnection(ctx context.Context, itemID string, opts connections.DetectionOptions) (*connections.ConnectionResult, error) {
	record, err := s.items.GetItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}

	return s.detector.DetectStrongestConnection(ctx, record.ToItem(), s.applyDefaults(opts))
}

// CheckConnected answers the pairwise predicate for two stored items.
func (s *Service) CheckConnected(ctx context.Context, itemIDA, itemIDB string, minScore float64) (bool, error) {
	if minScore <= 0 {
		minScore = s.defaults.MinScore
	}

	recordA, err := s.items.GetItem(itemIDA)
	if err != nil {
		return false, fmt.Errorf("failed to load item %s: %w", itemIDA, err)
	}
	recordB, err := s.items.GetItem(itemIDB)
	if err != nil {
		return false, fmt.Errorf("failed to load item %s: %w", itemIDB, err)
	}

	return s.detector.AreItemsConnected(recordA.ToItem(), recordB.ToItem(), minScore), nil
}

// persistResult writes relationships, graph edges and the audit row.
// Persistence failures are logged, not returned: the detection result is
// already computed and the caller should get it.
func (s *Service) persistResult(ctx context.Context, mode string, result *connections.ItemConnectionsResult, opts connections.DetectionOptions, elapsed time.Duration) {
	runID := uuid.New().String()

	metrics.ConnectionsReturned.Observe(float64(len(result.Connections)))

	for _, conn := range result.Connections {
		metrics.ConnectionStrength.Observe(conn.OverallScore)

		if s.store != nil {
			rel := &models.RelationshipRecord{
				RunID:      runID,
				SourceID:   conn.Relationship.SourceID,
				TargetID:   conn.Relationship.TargetID,
				Strength:   conn.Relationship.Strength,
				Confidence: conn.Relationship.Confidence,
				Reason:     conn.Reason,
				Criteria:   conn.Criteria,
				Weights:    conn.Relationship.Weights,
				DetectedAt: conn.Relationship.DetectedAt,
			}
			if err := s.store.InsertRelationship(rel); err != nil {
				logger.Warn("Failed to persist relationship",
					zap.String("source", conn.Relationship.SourceID),
					zap.String("target", conn.Relationship.TargetID),
					zap.Error(err),
				)
			}
		}

		if s.graph != nil {
			if err := s.graph.MergeConnection(ctx, conn.Relationship); err != nil {
				logger.Warn("Failed to mirror relationship into graph",
					zap.String("source", conn.Relationship.SourceID),
					zap.String("target", conn.Relationship.TargetID),
					zap.Error(err),
				)
			}
		}
	}

	if s.store != nil {
		minScore := opts.MinScore
		if minScore <= 0 {
			minScore = connections.DefaultMinScore
		}
		run := &models.DetectionRun{
			ID:         runID,
			ItemID:     result.Item.ID,
			Mode:       mode,
			TotalFound: result.TotalFound,
			Returned:   len(result.Connections),
			MinScore:   minScore,
			LatencyMS:  int(elapsed.Milliseconds()),
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.store.InsertDetectionRun(run); err != nil {
			logger.Warn("Failed to record detection run", zap.Error(err))
		}
	}
}

// hashOptions produces the cache key component for an options struct.
// JSON field order is deterministic for a fixed struct, so identical
// options always hash identically.
func hashOptions(opts connections.DetectionOptions) string {
	data, _ := json.Marshal(opts)
	return utils.HashString(string(data))
}
