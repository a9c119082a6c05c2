package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/example/bookstore/internal/config"
	"github.com/example/bookstore/internal/database"
	"github.com/example/bookstore/internal/handlers"
	"github.com/example/bookstore/internal/logging"
	"github.com/example/bookstore/internal/middleware"
	"github.com/example/bookstore/internal/routes"
	"github.com/example/bookstore/internal/services"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBLogLevel, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}

	dispatcher := services.NewDispatcher(logger, notificationSenders(cfg)...)

	var (
		gateway  services.PaymentGateway
		verifier middleware.SignatureVerifier
	)
	if cfg.SSLCommerzStoreID != "" {
		sslcommerz := services.NewSSLCommerzService(services.SSLCommerzConfig{
			StoreID:       cfg.SSLCommerzStoreID,
			StorePassword: cfg.SSLCommerzStorePassword,
			Sandbox:       cfg.SSLCommerzSandbox,
			Timeout:       cfg.SSLCommerzTimeout,
			Currency:      cfg.Currency,
			SuccessURL:    cfg.BackendURL + "/api/payment/success",
			FailURL:       cfg.BackendURL + "/api/payment/fail",
			CancelURL:     cfg.BackendURL + "/api/payment/cancel",
			IPNURL:        cfg.BackendURL + "/api/payment/ipn",
		})
		gateway, verifier = sslcommerz, sslcommerz
	} else {
		logger.Warn().Msg("SSLCOMMERZ_STORE_ID not set, online payment disabled")
	}

	var locker services.Locker
	if cfg.RedisAddr != "" {
		rdb, err := connectRedis(cfg)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using in-process callback lock")
		} else {
			defer rdb.Close()
			locker = services.NewRedisLocker(rdb, "bookstore:payment", time.Minute)
		}
	}

	orders := services.NewOrderService(db, services.OrderServiceConfig{
		Rates: services.ShippingRates{
			Standard: cfg.ShippingStandardRate,
			Express:  cfg.ShippingExpressRate,
		},
		Currency: cfg.Currency,
	}, dispatcher, logger)
	payments := services.NewPaymentService(db, gateway, locker, dispatcher, logger)

	app := fiber.New(fiber.Config{
		AppName:      "Bookstore Backend",
		ErrorHandler: handlers.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(logging.RequestLogger(logger))

	routes.Register(app, cfg, routes.Dependencies{
		DB:       db,
		Orders:   orders,
		Payments: payments,
		Verifier: verifier,
		Log:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := services.NewPaymentSweeper(payments, cfg.PaymentSessionTTL, cfg.PaymentSweepInterval, logger)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	go func() {
		logger.Info().Str("port", cfg.AppPort).Msg("starting server")
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			logger.Error().Err(err).Msg("fiber.Listen error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	<-sweeperDone
	dispatcher.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info().Msg("shutdown complete")
}

// notificationSenders returns the configured channels. Unconfigured ones are left
// out so no typed nil reaches the dispatcher.
func notificationSenders(cfg *config.Config) []services.Sender {
	var senders []services.Sender
	if mail := services.NewEmailService(services.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}); mail != nil {
		senders = append(senders, mail)
	}
	if tg := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat); tg != nil {
		senders = append(senders, tg)
	}
	return senders
}

func connectRedis(cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
