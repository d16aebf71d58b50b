package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// AccountContextMiddleware extracts the opaque account key forwarded by the
// Gateway. The engine never interprets the owner kind/id pair; it only stores
// and compares it.
func AccountContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ownerKind := c.Get("X-Owner-Kind")
		ownerID := c.Get("X-Owner-ID")

		if ownerKind == "" || ownerID == "" {
			log.Printf("❌ [ACCOUNT_CTX] Missing X-Owner-Kind/X-Owner-ID on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing account context — request must come through gateway with owner headers",
			})
		}

		c.Locals("owner_kind", ownerKind)
		c.Locals("owner_id", ownerID)

		return c.Next()
	}
}
