package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// RegisterHealthRoutes mounts /livez, /readyz and /metrics. sqlDB and rdb are
// optional; a dependency that is not configured is reported as "disabled".
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, metrics *observability.Metrics) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		pgStatus, pgOK := "disabled", true
		if sqlDB != nil {
			pgStatus, pgOK = checkStatus(sqlDB.PingContext(ctx))
		}
		redisStatus, redisOK := "disabled", true
		if rdb != nil {
			redisStatus, redisOK = checkStatus(rdb.Ping(ctx).Err())
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !pgOK || !redisOK {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"postgres": pgStatus,
				"redis":    redisStatus,
			},
		})
	}
}

func checkStatus(err error) (string, bool) {
	if err != nil {
		return "down", false
	}
	return "ok", true
}
