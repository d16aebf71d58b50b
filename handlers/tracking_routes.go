package handlers

import (
	"log"

	"loyalty-engine/models"
	"loyalty-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupTrackingRoutes registers the public referral tracking endpoint. The
// client-side collector POSTs the referral code plus an optional opaque
// device snapshot; absent or failed collection only leaves optional fields
// empty.
func SetupTrackingRoutes(app *fiber.App, referralService *services.ReferralService) {
	app.Post("/track_referral", func(c *fiber.Ctx) error {
		var req struct {
			RefCode    string         `json:"ref_code"`
			DeviceData models.JSONMap `json:"device_data"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body",
			})
		}

		if req.RefCode == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Referral code is required",
			})
		}

		_, err := referralService.RecordClick(
			c.UserContext(),
			req.RefCode,
			c.Get("User-Agent"),
			c.IP(),
			c.Get("Referer"),
			req.DeviceData,
		)
		if err != nil {
			log.Printf("Failed to track referral click: %v", err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"success": false,
				"message": "Failed to track referral",
			})
		}

		return c.JSON(fiber.Map{
			"success": true,
			"message": "Referral tracked successfully",
		})
	})
}
