package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/graph/neo4j"
	"github.com/guthubrx/cartae-connections/internal/ingestion"
	"github.com/guthubrx/cartae-connections/internal/metrics"
	"github.com/guthubrx/cartae-connections/internal/storage/models"
	"github.com/guthubrx/cartae-connections/internal/storage/sqlite"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

type ItemsHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
	graph     *neo4j.Client
}

func NewItemsHandler(processor *ingestion.Processor, db *sqlite.Client, graph *neo4j.Client) *ItemsHandler {
	return &ItemsHandler{
		processor: processor,
		db:        db,
		graph:     graph,
	}
}

// HandleIngest accepts one item, runs the full ingestion pipeline and
// returns the enriched item view.
func (h *ItemsHandler) HandleIngest(c *fiber.Ctx) error {
	var req struct {
		ID        string   `json:"id"`
		Type      string   `json:"type"`
		Title     string   `json:"title"`
		Content   string   `json:"content"`
		Tags      []string `json:"tags"`
		CreatedAt string   `json:"created_at"`
		Sentiment string   `json:"sentiment"`
		Priority  string   `json:"priority"`
		From      string   `json:"from"`
		To        []string `json:"to"`
		CC        []string `json:"cc"`
		Author    string   `json:"author"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Type == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Item type is required",
		})
	}

	var createdAt time.Time
	if req.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "created_at must be RFC 3339",
			})
		}
		createdAt = parsed
	}

	item, err := h.processor.Process(c.Context(), ingestion.Request{
		ID:        req.ID,
		Type:      req.Type,
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		CreatedAt: createdAt,
		Sentiment: req.Sentiment,
		Priority:  req.Priority,
		From:      req.From,
		To:        req.To,
		CC:        req.CC,
		Author:    req.Author,
	})
	if err != nil {
		metrics.ItemsIngested.WithLabelValues("error").Inc()
		logger.Error("Failed to ingest item", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest item",
		})
	}

	metrics.ItemsIngested.WithLabelValues("success").Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"item": item,
	})
}

// HandleGet returns the stored item record.
func (h *ItemsHandler) HandleGet(c *fiber.Ctx) error {
	itemID := c.Params("id")
	if itemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Item ID is required",
		})
	}

	record, err := h.db.GetItem(itemID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Item not found",
		})
	}

	return c.JSON(fiber.Map{
		"item": record.ToItem(),
	})
}

// HandleDelete removes an item from every store it was ingested into.
func (h *ItemsHandler) HandleDelete(c *fiber.Ctx) error {
	itemID := c.Params("id")
	if itemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Item ID is required",
		})
	}

	if _, err := h.db.GetItem(itemID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Item not found",
		})
	}

	if err := h.processor.Delete(c.Context(), itemID); err != nil {
		logger.Error("Failed to delete item",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete item",
		})
	}

	return c.JSON(fiber.Map{
		"item_id": itemID,
		"deleted": true,
	})
}

// HandleStoredConnections returns previously persisted relationships for
// an item without re-running detection.
func (h *ItemsHandler) HandleStoredConnections(c *fiber.Ctx) error {
	itemID := c.Params("id")
	if itemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Item ID is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	records, err := h.db.GetRelationshipsForItem(itemID, limit)
	if err != nil {
		logger.Error("Failed to load relationships",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load relationships",
		})
	}
	if records == nil {
		records = []models.RelationshipRecord{}
	}

	return c.JSON(fiber.Map{
		"item_id":       itemID,
		"relationships": records,
	})
}

// HandleNeighbors traverses the graph mirror of detected connections.
func (h *ItemsHandler) HandleNeighbors(c *fiber.Ctx) error {
	itemID := c.Params("id")
	if itemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Item ID is required",
		})
	}

	minStrength := c.QueryFloat("min_strength", 0)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	neighbors, err := h.graph.Neighbors(c.Context(), itemID, minStrength, limit)
	if err != nil {
		logger.Error("Failed to load neighbors",
			zap.String("item_id", itemID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load neighbors",
		})
	}
	if neighbors == nil {
		neighbors = []neo4j.Neighbor{}
	}

	return c.JSON(fiber.Map{
		"item_id":   itemID,
		"neighbors": neighbors,
	})
}
