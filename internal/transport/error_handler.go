package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorHandler renders every error as {"error": message}. Client errors are
// logged at warn level, everything else at error level.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if requestID := c.Get(fiber.HeaderXRequestID); requestID != "" {
			fields = append(fields, zap.String("correlationId", requestID))
		}

		if code < fiber.StatusInternalServerError {
			logger.Warn("request rejected", fields...)
		} else {
			logger.Error("request error", fields...)
		}

		message := err.Error()
		if code >= fiber.StatusInternalServerError && fiberErr == nil {
			message = "internal server error"
		}
		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
