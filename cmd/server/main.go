// @title           Weka Services Marketplace API
// @version         1.0
// @description     Providers list services, customers post service requests, providers claim and complete them, and reviews build trust.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	_ "github.com/aldoetobex/weka-backend/docs"
	"github.com/aldoetobex/weka-backend/internal/auth"
	"github.com/aldoetobex/weka-backend/internal/config"
	"github.com/aldoetobex/weka-backend/internal/customers"
	"github.com/aldoetobex/weka-backend/internal/logging"
	"github.com/aldoetobex/weka-backend/internal/matching"
	"github.com/aldoetobex/weka-backend/internal/monitoring"
	"github.com/aldoetobex/weka-backend/internal/payments"
	"github.com/aldoetobex/weka-backend/internal/ratelimit"
	"github.com/aldoetobex/weka-backend/internal/requests"
	"github.com/aldoetobex/weka-backend/internal/reviews"
	"github.com/aldoetobex/weka-backend/internal/services"
	"github.com/aldoetobex/weka-backend/pkg/database"
	"github.com/aldoetobex/weka-backend/pkg/models"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.Init(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	auth.SetSecret(cfg.JWTSecret)

	db, err := database.Init(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("database")
	}

	// Notification channels: each one is wired only when configured
	opts := matching.Options{Limit: cfg.NotifyCandidateLimit, Logger: log}
	if sms := matching.NewSMSClient(cfg.SMS); sms != nil {
		opts.SMS = sms
	} else {
		log.Info("sms gateway not configured; customer and provider texts go to the log")
	}
	if cfg.TelegramToken != "" {
		tg, err := matching.NewTelegramSender(cfg.TelegramToken)
		if err != nil {
			log.WithError(err).Warn("telegram disabled")
		} else {
			opts.Telegram = tg
		}
	}
	notifier := matching.NewNotifier(db, opts)

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.RequestRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.RequestRateLimitPerMinute, time.Minute)
		if err != nil {
			log.WithError(err).Fatal("rate limiter")
		}
		defer limiter.Close()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(logging.Middleware())
	app.Use(monitoring.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	app.Get("/metrics", monitoring.Handler())
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	api := app.Group("/api")
	provider := string(models.RoleProvider)

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Service requests: anonymous customers may post and read open requests
	reqH := requests.NewHandler(requests.NewService(db, notifier, log))
	api.Get("/service-requests", auth.OptionalAuth(), reqH.List)
	api.Post("/service-requests", ratelimit.Middleware(limiter, "service-requests"), auth.OptionalAuth(), reqH.Create)
	api.Put("/service-requests", auth.OptionalAuth(), reqH.Update)
	api.Delete("/service-requests", auth.RequireAuth(), reqH.Delete)
	api.Post("/service-requests/:id/claim", auth.RequireAuth(), auth.RequireRole(provider), reqH.Claim)
	api.Get("/service-requests/:id/history", auth.OptionalAuth(), reqH.History)
	api.Get("/stats/live", reqH.Live)

	// Provider catalogue
	svcH := services.NewHandler(db)
	api.Get("/services", auth.RequireAuth(), svcH.List)
	api.Post("/services", auth.RequireAuth(), auth.RequireRole(provider), svcH.Create)
	api.Put("/services", auth.RequireAuth(), svcH.Update)
	api.Delete("/services", auth.RequireAuth(), svcH.Delete)

	// Provider customer book
	cusH := customers.NewHandler(db)
	cus := api.Group("/customers", auth.RequireAuth(), auth.RequireRole(provider))
	cus.Get("/", cusH.List)
	cus.Post("/", cusH.Create)
	cus.Put("/", cusH.Update)
	cus.Delete("/", cusH.Delete)

	// Reviews
	revH := reviews.NewHandler(reviews.NewService(db))
	rv := api.Group("/reviews-system")
	rv.Get("/", revH.List)
	rv.Post("/", auth.RequireAuth(), revH.Submit)
	rv.Get("/:id", revH.Get)
	rv.Put("/:id", auth.RequireAuth(), revH.Update)
	rv.Delete("/:id", auth.RequireAuth(), revH.Delete)
	rv.Post("/:id/helpful", auth.RequireAuth(), revH.Helpful)
	rv.Post("/:id/response", auth.RequireAuth(), revH.Respond)

	// Ledger and gateway callback (server-to-server, shared secret)
	payH := payments.NewHandler(payments.NewService(db, notifier, log), cfg.CallbackSecret)
	api.Post("/transactions", auth.RequireAuth(), auth.RequireRole(provider), payH.Record)
	api.Get("/transactions", auth.RequireAuth(), auth.RequireRole(provider), payH.List)
	api.Post("/payments/mobile-money/callback", payH.Callback)

	go func() {
		log.Infof("server running on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.WithError(err).Fatal("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := notifier.Wait(ctx); err != nil {
		log.WithError(err).Warn("pending notifications abandoned")
	}
}
