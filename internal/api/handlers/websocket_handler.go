package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/guthubrx/cartae-connections/internal/connections"
	"github.com/guthubrx/cartae-connections/internal/detection"
	"github.com/guthubrx/cartae-connections/pkg/logger"
)

// WebSocketHandler streams per-item progress for batch detections, so a
// client submitting a large batch sees results as they land instead of
// waiting for the whole batch.
type WebSocketHandler struct {
	service *detection.Service
}

func NewWebSocketHandler(service *detection.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type    string                       `json:"type"`
			ItemIDs []string                     `json:"item_ids"`
			Options connections.DetectionOptions `json:"options"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "detect_batch" {
			h.sendError(c, "Unsupported message type")
			continue
		}

		if len(msg.ItemIDs) == 0 {
			h.sendError(c, "item_ids is required")
			continue
		}

		logger.Info("Processing WebSocket batch detection",
			zap.Int("items", len(msg.ItemIDs)),
		)

		h.streamBatch(c, msg.ItemIDs, msg.Options)
	}
}

// streamBatch runs the items one by one so each finished item can be
// pushed immediately. The serialization matches the engine's default
// batch behavior; a failure stops the stream, mirroring batch abort.
func (h *WebSocketHandler) streamBatch(c *websocket.Conn, itemIDs []string, opts connections.DetectionOptions) {
	ctx := context.Background()

	for i, itemID := range itemIDs {
		result, err := h.service.ConnectionsForItem(ctx, itemID, opts)
		if err != nil {
			logger.Error("Batch item detection failed",
				zap.String("item_id", itemID),
				zap.Error(err),
			)
			h.sendError(c, "Detection failed for item "+itemID)
			return
		}

		err = c.WriteJSON(map[string]interface{}{
			"type":         "result",
			"index":        i,
			"total":        len(itemIDs),
			"item_id":      result.Item.ID,
			"connections":  result.Connections,
			"total_found":  result.TotalFound,
			"execution_ms": result.ExecutionTime.Milliseconds(),
		})
		if err != nil {
			logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}

	err := c.WriteJSON(map[string]interface{}{
		"type":  "complete",
		"total": len(itemIDs),
	})
	if err != nil {
		logger.Debug("WebSocket write failed", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
