package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/pkg/circuitbreaker"
	"github.com/guthubrx/cartae-connections/pkg/logger"
	"github.com/guthubrx/cartae-connections/pkg/retry"
)

// Client is the approximate-nearest-neighbor collaborator behind the
// detector's Searcher contract. Retry and circuit breaking live here, at
// the external boundary; the engine itself never retries.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(
		context.Background(),
		client.Config{
			Address: endpoint,
			APIKey:  apiKey,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("milvus", circuitbreaker.Config{
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

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		cb:             cb,
		retryConfig:    retryConfig,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) CreateCollection(ctx context.Context) error {
	has, err := c.client.HasCollection(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", c.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: c.collectionName,
		Description:    "Content item embeddings with scoring metadata",
		Fields: []*entity.Field{
			{
				Name:       "item_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", c.vectorDim),
				},
			},
			{
				Name:     "item_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "title",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "tags",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "sentiment",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16",
				},
			},
			{
				Name:     "priority",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "16",
				},
			},
			{
				Name:     "participants",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
		},
	}

	err = c.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = c.client.CreateIndex(ctx, c.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = c.client.LoadCollection(ctx, c.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", c.collectionName))

	return nil
}

// participantFields is the JSON shape of the participants column.
type participantFields struct {
	From   string   `json:"from,omitempty"`
	To     []string `json:"to,omitempty"`
	CC     []string `json:"cc,omitempty"`
	Author string   `json:"author,omitempty"`
}

func (c *Client) Upsert(ctx context.Context, items []connections.Item) error {
	if len(items) == 0 {
		return nil
	}

	itemIDs := make([]string, len(items))
	embeddings := make([][]float32, len(items))
	itemTypes := make([]string, len(items))
	titles := make([]string, len(items))
	tags := make([]string, len(items))
	createdAts := make([]int64, len(items))
	sentiments := make([]string, len(items))
	priorities := make([]string, len(items))
	participants := make([]string, len(items))

	for i, item := range items {
		itemIDs[i] = item.ID
		embeddings[i] = item.Embedding
		itemTypes[i] = item.Type
		titles[i] = item.Title
		createdAts[i] = item.CreatedAt.Unix()

		tagsJSON, _ := json.Marshal(item.Tags)
		tags[i] = string(tagsJSON)

		if item.Sentiment != nil {
			sentiments[i] = string(item.Sentiment.Type)
		}
		if item.Priority != nil {
			priorities[i] = string(item.Priority.Level)
		}

		partJSON, _ := json.Marshal(participantFields{
			From:   item.From,
			To:     item.To,
			CC:     item.CC,
			Author: item.Author,
		})
		participants[i] = string(partJSON)
	}

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			_, err := c.client.Upsert(
				ctx,
				c.collectionName,
				"",
				entity.NewColumnVarChar("item_id", itemIDs),
				entity.NewColumnFloatVector("embedding", c.vectorDim, embeddings),
				entity.NewColumnVarChar("item_type", itemTypes),
				entity.NewColumnVarChar("title", titles),
				entity.NewColumnVarChar("tags", tags),
				entity.NewColumnInt64("created_at", createdAts),
				entity.NewColumnVarChar("sentiment", sentiments),
				entity.NewColumnVarChar("priority", priorities),
				entity.NewColumnVarChar("participants", participants),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert items: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	err = c.client.Flush(ctx, c.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Items upserted into vector store", zap.Int("count", len(items)))

	return nil
}

func (c *Client) Delete(ctx context.Context, itemID string) error {
	expr := fmt.Sprintf(`item_id == "%s"`, itemID)
	err := c.client.Delete(ctx, c.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	logger.Debug("Item deleted from vector store", zap.String("item_id", itemID))
	return nil
}

// Search satisfies connections.Searcher. Scores are cosine similarities;
// the minSimilarity floor is applied client-side after retrieval.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, minSimilarity float64) ([]connections.Candidate, error) {
	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	outputFields := []string{
		"item_id", "item_type", "title", "tags",
		"created_at", "sentiment", "priority", "participants",
	}

	var searchResult []client.SearchResult
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			var err error
			searchResult, err = c.client.Search(
				ctx,
				c.collectionName,
				[]string{},
				"",
				outputFields,
				[]entity.Vector{entity.FloatVector(vector)},
				"embedding",
				entity.COSINE,
				limit,
				sp,
			)
			if err != nil {
				return fmt.Errorf("failed to search: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]connections.Candidate, 0)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			score := float64(sr.Scores[i])
			if score < minSimilarity {
				continue
			}

			item, err := itemFromResult(sr, i)
			if err != nil {
				logger.Warn("Skipping malformed search hit", zap.Error(err))
				continue
			}

			candidates = append(candidates, connections.Candidate{
				Item:  item,
				Score: score,
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("limit", limit),
		zap.Float64("min_similarity", minSimilarity),
		zap.Int("candidates", len(candidates)),
	)

	return candidates, nil
}

func itemFromResult(sr client.SearchResult, i int) (connections.Item, error) {
	var item connections.Item

	getString := func(name string) (string, error) {
		col := sr.Fields.GetColumn(name)
		if col == nil {
			return "", fmt.Errorf("missing column %s", name)
		}
		v, err := col.Get(i)
		if err != nil {
			return "", fmt.Errorf("column %s: %w", name, err)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("column %s: unexpected type %T", name, v)
		}
		return s, nil
	}

	id, err := getString("item_id")
	if err != nil {
		return item, err
	}
	itemType, err := getString("item_type")
	if err != nil {
		return item, err
	}
	title, err := getString("title")
	if err != nil {
		return item, err
	}
	tagsJSON, err := getString("tags")
	if err != nil {
		return item, err
	}
	sentiment, err := getString("sentiment")
	if err != nil {
		return item, err
	}
	priority, err := getString("priority")
	if err != nil {
		return item, err
	}
	participantsJSON, err := getString("participants")
	if err != nil {
		return item, err
	}

	createdCol := sr.Fields.GetColumn("created_at")
	if createdCol == nil {
		return item, fmt.Errorf("missing column created_at")
	}
	createdRaw, err := createdCol.Get(i)
	if err != nil {
		return item, fmt.Errorf("column created_at: %w", err)
	}
	createdUnix, ok := createdRaw.(int64)
	if !ok {
		return item, fmt.Errorf("column created_at: unexpected type %T", createdRaw)
	}

	item.ID = id
	item.Type = itemType
	item.Title = title
	item.CreatedAt = time.Unix(createdUnix, 0).UTC()

	if tagsJSON != "" {
		json.Unmarshal([]byte(tagsJSON), &item.Tags)
	}
	if sentiment != "" {
		item.Sentiment = &connections.Sentiment{Type: connections.SentimentType(sentiment)}
	}
	if priority != "" {
		item.Priority = &connections.Priority{Level: connections.PriorityLevel(priority)}
	}
	if participantsJSON != "" {
		var pf participantFields
		if err := json.Unmarshal([]byte(participantsJSON), &pf); err == nil {
			item.From = pf.From
			item.To = pf.To
			item.CC = pf.CC
			item.Author = pf.Author
		}
	}

	return item, nil
}
