package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/config"
	"marketplace/internal/api"
	"marketplace/internal/broker"
	"marketplace/internal/payment"
	"marketplace/internal/redisclient"
	"marketplace/internal/service"
	"marketplace/internal/store"
	"marketplace/internal/util"
	"marketplace/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer("marketplace", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gateway := payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Business.Currency)
	verifier := payment.NewWebhookVerifier(cfg.Stripe.WebhookSecret)

	orderService := service.NewOrderService(db, gateway, eventPublisher, service.OrderConfig{
		FeePercent:      cfg.Stripe.FeePercent,
		Currency:        cfg.Business.Currency,
		MaxCartSize:     cfg.Business.MaxCartSize,
		CheckoutTimeout: time.Duration(cfg.Business.CheckoutTimeoutSecs) * time.Second,
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
	})
	webhookService := service.NewWebhookService(db, verifier, redisClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := service.NewSweeper(db,
		time.Duration(cfg.Business.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.Business.PendingExpiryMinutes)*time.Minute,
	)
	go sweeper.Run(workerCtx)

	leaderboardConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	leaderboardWorker := worker.NewLeaderboardWorker(leaderboardConsumer, redisClient)
	go func() {
		if err := leaderboardWorker.Start(workerCtx); err != nil {
			log.Printf("Leaderboard worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, webhookService, redisClient, cfg.Auth.JWTSecret,
		func() error { return db.Ping(context.Background()) },
		func() error { return redisClient.Ping(context.Background()) },
	)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	leaderboardWorker.Stop()

	log.Println("Server exited")
}
