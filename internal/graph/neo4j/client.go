package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/pkg/circuitbreaker"
	"github.com/guthubrx/cartae-connections/pkg/logger"
	"github.com/guthubrx/cartae-connections/pkg/retry"
)

// Client mirrors detected connections into a property graph so neighbors
// can be traversed without re-running detection.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// Neighbor is one CONNECTED_TO edge seen from a given item.
type Neighbor struct {
	ItemID     string
	Title      string
	Type       string
	Strength   float64
	Confidence float64
	Reason     string
	DetectedAt time.Time
}

func NewClient(uri, username, password, database string) (*Client, error) {
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized",
		zap.String("uri", uri),
		zap.String("database", database),
	)

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func (c *Client) MergeItem(ctx context.Context, item connections.Item) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MERGE (i:Item {id: $id})
			SET i.type = $type,
			    i.title = $title,
			    i.created_at = $created_at
		`

		_, err := session.Run(ctx, query, map[string]interface{}{
			"id":         item.ID,
			"type":       item.Type,
			"title":      item.Title,
			"created_at": item.CreatedAt.Unix(),
		})
		if err != nil {
			return fmt.Errorf("failed to merge item: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Item merged into graph", zap.String("item_id", item.ID))
	return nil
}

// MergeConnection writes one CONNECTED_TO edge. Edges are undirected in
// meaning, so a single edge per pair is kept and refreshed on re-detection.
func (c *Client) MergeConnection(ctx context.Context, rel connections.Relationship) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (s:Item {id: $source_id})
			MATCH (t:Item {id: $target_id})
			MERGE (s)-[r:CONNECTED_TO]-(t)
			SET r.strength = $strength,
			    r.confidence = $confidence,
			    r.reason = $reason,
			    r.detected_at = $detected_at
		`

		_, err := session.Run(ctx, query, map[string]interface{}{
			"source_id":   rel.SourceID,
			"target_id":   rel.TargetID,
			"strength":    rel.Strength,
			"confidence":  rel.Confidence,
			"reason":      rel.Reason,
			"detected_at": rel.DetectedAt.Unix(),
		})
		if err != nil {
			return fmt.Errorf("failed to merge connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Connection merged into graph",
		zap.String("source", rel.SourceID),
		zap.String("target", rel.TargetID),
		zap.Float64("strength", rel.Strength),
	)
	return nil
}

func (c *Client) Neighbors(ctx context.Context, itemID string, minStrength float64, limit int) ([]Neighbor, error) {
	var neighbors []Neighbor

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (i:Item {id: $id})-[r:CONNECTED_TO]-(n:Item)
			WHERE r.strength >= $min_strength
			RETURN n.id, n.title, n.type,
			       r.strength, r.confidence, r.reason, r.detected_at
			ORDER BY r.strength DESC
			LIMIT $limit
		`

		result, err := session.Run(ctx, query, map[string]interface{}{
			"id":           itemID,
			"min_strength": minStrength,
			"limit":        limit,
		})
		if err != nil {
			return fmt.Errorf("failed to query neighbors: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()

			id, _ := record.Get("n.id")
			title, _ := record.Get("n.title")
			itemType, _ := record.Get("n.type")
			strength, _ := record.Get("r.strength")
			confidence, _ := record.Get("r.confidence")
			reason, _ := record.Get("r.reason")
			detectedAt, _ := record.Get("r.detected_at")

			n := Neighbor{}
			if v, ok := id.(string); ok {
				n.ItemID = v
			}
			if v, ok := title.(string); ok {
				n.Title = v
			}
			if v, ok := itemType.(string); ok {
				n.Type = v
			}
			if v, ok := strength.(float64); ok {
				n.Strength = v
			}
			if v, ok := confidence.(float64); ok {
				n.Confidence = v
			}
			if v, ok := reason.(string); ok {
				n.Reason = v
			}
			if v, ok := detectedAt.(int64); ok {
				n.DetectedAt = time.Unix(v, 0).UTC()
			}

			neighbors = append(neighbors, n)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating neighbors: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Neighbor query completed",
		zap.String("item_id", itemID),
		zap.Int("neighbors", len(neighbors)),
	)

	return neighbors, nil
}

func (c *Client) DeleteConnections(ctx context.Context, itemID string) error {
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := `
			MATCH (i:Item {id: $id})-[r:CONNECTED_TO]-()
			DELETE r
		`

		_, err := session.Run(ctx, query, map[string]interface{}{
			"id": itemID,
		})
		if err != nil {
			return fmt.Errorf("failed to delete connections: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Graph connections deleted", zap.String("item_id", itemID))
	return nil
}
