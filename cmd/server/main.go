package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow-be/internal/cache"
	"orderflow-be/internal/cart"
	"orderflow-be/internal/catalog"
	"orderflow-be/internal/config"
	"orderflow-be/internal/db"
	"orderflow-be/internal/inventory"
	"orderflow-be/internal/logger"
	"orderflow-be/internal/middleware"
	"orderflow-be/internal/notify"
	"orderflow-be/internal/order"
	"orderflow-be/internal/payment"
	"orderflow-be/internal/payment/webhook"
	"orderflow-be/internal/pricing"
	"orderflow-be/internal/returns"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	database, err := db.Open(cfg)
	if err != nil {
		log.Fatal("database unavailable", zap.Error(err))
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	store := cache.NewRedisCache(redisClient, "orderflow")

	notifier := notify.NewLogNotifier()

	// Repositories.
	catalogRepo := catalog.NewRepository(database)
	cartRepo := cart.NewRepository(database)
	couponRepo := pricing.NewCouponRepository(database)
	stockRepo := inventory.NewRepository(database)
	orderRepo := order.NewRepository(database)
	paymentRepo := payment.NewRepository(database)
	returnRepo := returns.NewRepository(database)

	// Domain services.
	pricer := pricing.NewEngine(couponRepo, pricing.WeightThresholdStrategy{
		FlatRate:      cfg.ShippingFlatRate,
		ExpressRate:   cfg.ShippingExpressRate,
		UnitThreshold: cfg.ExpressWeightThreshold,
	}, cfg.TaxRate)

	stockSvc := inventory.NewService(stockRepo, cfg.ReservationTTL)

	gateway := payment.NewIntentGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayWebhookSecret)
	coordinator := payment.NewCoordinator(
		gateway, paymentRepo, nil, store, notifier, nil,
		cfg.GatewayMaxAttempts, cfg.GatewayRetryBase, cfg.PaymentAuthWindow,
	)

	orderSvc := order.NewService(
		orderRepo, cartRepo, catalogRepo, pricer, couponRepo,
		stockSvc, coordinator, coordinator, paymentRepo, notifier, cfg.Currency,
	)
	coordinator.SetOrderHooks(orderSvc, orderSvc.BuyerOf)

	returnSvc := returns.NewService(
		returnRepo, orderRepo, orderSvc, coordinator,
		stockSvc, notifier, cfg.ReturnWindow,
	)

	// Background loops: expire stock reservations and stale authorizations.
	sweeper := inventory.NewSweeper(stockRepo, cfg.SweepInterval)
	go sweeper.Run()
	defer sweeper.Stop()

	watchdog := payment.NewWatchdog(coordinator, cfg.SweepInterval)
	go watchdog.Run()
	defer watchdog.Stop()

	middleware.InitAuth(cfg.JWTSecret)
	limiter := middleware.NewRateLimiter(store)

	r := chi.NewRouter()
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(middleware.AuthMiddleware)
	r.Use(limiter.Middleware)

	order.NewHandler(orderSvc).RegisterRoutes(r)
	returns.NewHandler(returnSvc).RegisterRoutes(r)
	r.Post("/webhook/payment", webhook.NewHandler(coordinator, gateway).Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.AppPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}
