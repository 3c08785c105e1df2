package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/sirupsen/logrus"
)

type StatsPool interface {
	Key() string
	Len(ctx context.Context) (int64, error)
	CountDue(ctx context.Context, maxMillis int64) (int64, error)
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type OpsHandler struct {
	pools  []StatsPool
	checks map[string]Check
}

func NewOpsHandler(checks map[string]Check, pools ...StatsPool) *OpsHandler {
	return &OpsHandler{pools: pools, checks: checks}
}

func (h *OpsHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	result := fiber.Map{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			logrus.WithField("check", name).Warn(err.Error())
			result[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	return c.Status(status).JSON(result)
}

func (h *OpsHandler) PoolStats(c *fiber.Ctx) error {
	now := time.Now().UnixMilli()
	stats := make([]transfer.PoolStats, 0, len(h.pools))
	for _, p := range h.pools {
		pending, err := p.Len(c.Context())
		if err != nil {
			logrus.Error(err.Error())
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pool unreachable"})
		}
		due, err := p.CountDue(c.Context(), now)
		if err != nil {
			logrus.Error(err.Error())
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pool unreachable"})
		}
		stats = append(stats, transfer.PoolStats{Name: p.Key(), Pending: pending, Due: due})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}
