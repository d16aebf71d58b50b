package handlers

import (
	"errors"
	"log"
	"strconv"

	"loyalty-engine/middleware"
	"loyalty-engine/models"
	"loyalty-engine/services"

	"github.com/gofiber/fiber/v2"
)

// SetupLoyaltyRoutes registers the account-facing ledger and referral
// endpoints. All routes require the gateway's owner headers.
func SetupLoyaltyRoutes(app *fiber.App, ledger *services.LedgerService, referrals *services.ReferralService, tiers *services.TierEngine, directory services.AccountDirectory) {
	securedGroup := app.Group("/", middleware.AccountContextMiddleware())

	securedGroup.Post("/accounts/register", func(c *fiber.Ctx) error {
		profile, err := directory.Ensure(ledger.DB.WithContext(c.UserContext()), ownerRef(c))
		if err != nil {
			log.Printf("Failed to register account profile: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to register account",
			})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"referral_code": profile.ReferralCode,
			"tier":          profile.Tier,
			"tier_slug":     services.TierSlug(profile.Tier),
		})
	})

	securedGroup.Post("/points/earn", func(c *fiber.Ctx) error {
		var req struct {
			Amount int64          `json:"amount"`
			Event  models.JSONMap `json:"event"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		txn, err := ledger.EarnPoints(c.UserContext(), ownerRef(c), req.Amount, req.Event)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(txn)
	})

	securedGroup.Post("/points/redeem", func(c *fiber.Ctx) error {
		var req struct {
			Points int64          `json:"points"`
			Offer  models.JSONMap `json:"offer"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		txn, err := ledger.RedeemPoints(c.UserContext(), ownerRef(c), req.Points, req.Offer)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(txn)
	})

	securedGroup.Post("/points/adjust", func(c *fiber.Ctx) error {
		var req struct {
			Delta       int64  `json:"delta"`
			Description string `json:"description"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		txn, err := ledger.AdjustPoints(c.UserContext(), ownerRef(c), req.Delta, req.Description)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(txn)
	})

	securedGroup.Get("/points/balance", func(c *fiber.Ctx) error {
		balance, err := ledger.Balance(c.UserContext(), ownerRef(c))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"balance": balance})
	})

	securedGroup.Get("/points/tier", func(c *fiber.Ctx) error {
		balance, err := ledger.Balance(c.UserContext(), ownerRef(c))
		if err != nil {
			return errorResponse(c, err)
		}
		tier := tiers.Tier(balance)
		return c.JSON(fiber.Map{
			"tier":      tier,
			"tier_slug": services.TierSlug(tier),
			"balance":   balance,
		})
	})

	securedGroup.Get("/points/history", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		txns, err := ledger.History(c.UserContext(), ownerRef(c), page, size)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"transactions": txns, "page": page, "size": size})
	})

	securedGroup.Post("/referral/signup", func(c *fiber.Ctx) error {
		var req struct {
			RefCode string `json:"ref_code"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		attributed, err := referrals.AttributeSignup(c.UserContext(), ownerRef(c), req.RefCode)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"attributed": attributed})
	})
}

func ownerRef(c *fiber.Ctx) models.OwnerRef {
	kind, _ := c.Locals("owner_kind").(string)
	id, _ := c.Locals("owner_id").(string)
	return models.OwnerRef{OwnerKind: kind, OwnerID: id}
}

// errorResponse translates the engine's error kinds into HTTP statuses. The
// engine itself never logs and never retries; that is this boundary's job.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInsufficientBalance):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Printf("Internal error on %s: %v", c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
