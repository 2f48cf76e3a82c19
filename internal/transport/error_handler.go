package transport

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/claimdesk/notify-engine/internal/observability"
)

// ErrorHandler converts unhandled route errors into a JSON body. Client
// errors are logged at Warn, everything else at Error, both with the
// request's correlation ID when one is present.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if fiberErr, ok := err.(*fiber.Error); ok {
			status = fiberErr.Code
		}

		requestLogger := observability.WithContextLogger(logger, c.UserContext())
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			requestLogger.Error("request failed", fields...)
		} else {
			requestLogger.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
