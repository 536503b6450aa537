package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querylift/backend/internal/cache"
	"github.com/querylift/backend/pkg/logger"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	purger  cache.Purger
	timeout time.Duration
}

// NewHealthHandler takes readiness checks keyed by dependency name. purger
// may be nil when the cache cannot purge.
func NewHealthHandler(checks map[string]Check, purger cache.Purger) *HealthHandler {
	return &HealthHandler{checks: checks, purger: purger, timeout: 2 * time.Second}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	status := fiber.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != fiber.StatusOK {
		state = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": state,
		"checks": results,
	})
}

// PurgeCache drops cached pipeline results so new prompts or thresholds
// take effect at once.
func (h *HealthHandler) PurgeCache(c *fiber.Ctx) error {
	if h.purger == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
			"error": "Cache does not support purging",
		})
	}

	prefix := c.Query("prefix", "uplift:")
	removed, err := h.purger.Purge(c.UserContext(), prefix)
	if err != nil {
		logger.Error("Failed to purge cache", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to purge cache",
		})
	}

	return c.JSON(fiber.Map{
		"prefix":  prefix,
		"removed": removed,
	})
}
