package handlers

import (
	"strconv"

	"loyalty-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupDashboardRoutes registers the admin analytics endpoints. They return
// JSON only; rendering an admin UI belongs to the embedding application.
func SetupDashboardRoutes(app *fiber.App, analytics *services.AnalyticsService) {
	group := app.Group("/dashboard")

	group.Get("/", func(c *fiber.Ctx) error {
		overview, err := analytics.Overview(c.UserContext())
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(overview)
	})

	group.Get("/analytics", func(c *fiber.Ctx) error {
		report, err := analytics.Analytics(c.UserContext())
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(report)
	})

	group.Get("/referrals", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "50"))

		logs, err := analytics.Referrals(c.UserContext(), page, size)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"referrals": logs, "page": page, "size": size})
	})

	group.Get("/transactions", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "50"))

		txns, err := analytics.Transactions(c.UserContext(), page, size)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"transactions": txns, "page": page, "size": size})
	})
}
