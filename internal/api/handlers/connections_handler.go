package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/detection"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

type ConnectionsHandler struct {
	service *detection.Service
}

func NewConnectionsHandler(service *detection.Service) *ConnectionsHandler {
	return &ConnectionsHandler{
		service: service,
	}
}

type detectRequest struct {
	ItemID  string                       `json:"item_id"`
	Item    *connections.Item            `json:"item,omitempty"`
	Options connections.DetectionOptions `json:"options"`
}

// HandleDetect returns the ranked connections for one item, referenced
// by id or supplied inline with its embedding.
func (h *ConnectionsHandler) HandleDetect(c *fiber.Ctx) error {
	var req detectRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ItemID == "" && req.Item == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "item_id or item is required",
		})
	}

	var result *connections.ItemConnectionsResult
	var err error
	if req.Item != nil {
		result, err = h.service.ConnectionsForInlineItem(c.Context(), *req.Item, req.Options)
	} else {
		result, err = h.service.ConnectionsForItem(c.Context(), req.ItemID, req.Options)
	}
	if err != nil {
		logger.Error("Failed to detect connections",
			zap.String("item_id", req.ItemID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to detect connections",
		})
	}

	return c.JSON(fiber.Map{
		"item_id":      result.Item.ID,
		"connections":  result.Connections,
		"total_found":  result.TotalFound,
		"execution_ms": result.ExecutionTime.Milliseconds(),
	})
}

// HandleStrongest returns the single best connection, or null.
func (h *ConnectionsHandler) HandleStrongest(c *fiber.Ctx) error {
	var req detectRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ItemID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "item_id is required",
		})
	}

	best, err := h.service.StrongestConnection(c.Context(), req.ItemID, req.Options)
	if err != nil {
		logger.Error("Failed to find strongest connection",
			zap.String("item_id", req.ItemID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to find strongest connection",
		})
	}

	return c.JSON(fiber.Map{
		"item_id":    req.ItemID,
		"connection": best,
	})
}

// HandleCheck answers the pairwise connectedness predicate.
func (h *ConnectionsHandler) HandleCheck(c *fiber.Ctx) error {
	var req struct {
		ItemIDA  string  `json:"item_id_a"`
		ItemIDB  string  `json:"item_id_b"`
		MinScore float64 `json:"min_score"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ItemIDA == "" || req.ItemIDB == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "item_id_a and item_id_b are required",
		})
	}

	connected, err := h.service.CheckConnected(c.Context(), req.ItemIDA, req.ItemIDB, req.MinScore)
	if err != nil {
		logger.Error("Failed to check connection",
			zap.String("item_a", req.ItemIDA),
			zap.String("item_b", req.ItemIDB),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check connection",
		})
	}

	return c.JSON(fiber.Map{
		"item_id_a": req.ItemIDA,
		"item_id_b": req.ItemIDB,
		"connected": connected,
	})
}

// HandleBatch runs detection for a list of items in one call.
func (h *ConnectionsHandler) HandleBatch(c *fiber.Ctx) error {
	var req struct {
		ItemIDs []string                     `json:"item_ids"`
		Options connections.DetectionOptions `json:"options"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if len(req.ItemIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "item_ids is required",
		})
	}

	results, err := h.service.ConnectionsForItems(c.Context(), req.ItemIDs, req.Options)
	if err != nil {
		logger.Error("Failed to run batch detection", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to run batch detection",
		})
	}

	return c.JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}
