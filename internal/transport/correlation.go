package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/claimdesk/notify-engine/internal/observability"
)

const correlationIDHeader = "X-Correlation-ID"

// CorrelationIDMiddleware propagates the caller's correlation ID into the
// request context, generating one when the header is absent. The ID is
// echoed back on the response so callers can trace the request.
func CorrelationIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := c.Get(correlationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), correlationID))
		c.Set(correlationIDHeader, correlationID)

		return c.Next()
	}
}
