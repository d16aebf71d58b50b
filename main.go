package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loyalty-engine/handlers"
	"loyalty-engine/middleware"
	"loyalty-engine/models"
	"loyalty-engine/services"
	"loyalty-engine/utils"
	"loyalty-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, X-Owner-Kind, X-Owner-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	policy := services.PolicyFromEnv()
	directory := services.NewGormAccountDirectory(policy)
	tierEngine := services.NewTierEngine(policy)
	ledgerService := services.NewLedgerService(db, policy, directory, tierEngine, nil)
	referralService := services.NewReferralService(db, policy, ledgerService, directory, nil)
	analyticsService := services.NewAnalyticsService(db, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Expired earn transactions can drop a balance below its tier threshold;
	// the sweep keeps cached tiers honest between ledger writes.
	sweepInterval := durationEnv("TIER_SWEEP_INTERVAL", time.Hour)
	ledgerService.StartTierSweep(sweepInterval)

	storageEnabled, err := utils.InitObjectStore()
	if err != nil {
		log.Fatal("failed to initialize object store:", err)
	}
	if storageEnabled {
		exportClient := workers.NewExportClient(analyticsService)
		exportInterval := durationEnv("EXPORT_INTERVAL", 24*time.Hour)
		go workers.PollExports(ctx, exportClient, exportInterval)
		log.Printf("✅ Analytics export running (every %s)", exportInterval)
	} else {
		log.Println("⚠️  Object store not configured — analytics exports disabled")
	}

	handlers.SetupTrackingRoutes(app, referralService)
	handlers.SetupLoyaltyRoutes(app, ledgerService, referralService, tierEngine, directory)
	handlers.SetupDashboardRoutes(app, analyticsService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Printf("✅ Tier sweep running (every %s)", sweepInterval)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("⚠️  Invalid %s=%q, using %s", name, raw, fallback)
		return fallback
	}
	return d
}
