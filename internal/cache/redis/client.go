package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func connectionsKey(itemID, optionsHash string) string {
	return fmt.Sprintf("connections:%s:%s", itemID, optionsHash)
}

func (c *Client) SetConnections(ctx context.Context, itemID, optionsHash string, result *connections.ItemConnectionsResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal connections result: %w", err)
	}

	err = c.client.Set(ctx, connectionsKey(itemID, optionsHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set connections cache: %w", err)
	}

	logger.Debug("Connections cached",
		zap.String("item_id", itemID),
		zap.Duration("ttl", ttl),
	)
	return nil
}

func (c *Client) GetConnections(ctx context.Context, itemID, optionsHash string) (*connections.ItemConnectionsResult, bool, error) {
	data, err := c.client.Get(ctx, connectionsKey(itemID, optionsHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get connections cache: %w", err)
	}

	var result connections.ItemConnectionsResult
	err = json.Unmarshal(data, &result)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal connections result: %w", err)
	}

	logger.Debug("Connections cache hit", zap.String("item_id", itemID))
	return &result, true, nil
}

// InvalidateItem drops every cached result for the item, across all option
// variants. Called on (re-)ingestion.
func (c *Client) InvalidateItem(ctx context.Context, itemID string) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("connections:%s:*", itemID), 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Debug("Connections cache invalidated", zap.String("item_id", itemID))
	return nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}
