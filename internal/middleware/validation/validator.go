package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxContentSize      int
	MaxBatchSize        int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware performs request-shape validation before handlers run.
// Handlers still re-validate semantics; this layer rejects malformed or
// oversized payloads early.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxContentSize == 0 {
		cfg.MaxContentSize = 5 * 1024 * 1024
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 100
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		path := c.Path()

		if strings.HasSuffix(path, "/items") && c.Method() == "POST" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			itemType, ok := req["type"].(string)
			if !ok || strings.TrimSpace(itemType) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Item type is required",
				})
			}

			content, _ := req["content"].(string)
			if len(content) > cfg.MaxContentSize {
				cfg.Logger.Warn("Oversized item rejected",
					zap.String("ip", c.IP()),
					zap.Int("size", len(content)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Item content exceeds maximum size",
				})
			}
		}

		if strings.Contains(path, "/connections/batch") && c.Method() == "POST" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			ids, ok := req["item_ids"].([]interface{})
			if !ok || len(ids) == 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "item_ids is required and must be a non-empty array",
				})
			}
			if len(ids) > cfg.MaxBatchSize {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Batch exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}
