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

	"pricing-service/config"
	"pricing-service/internal/api"
	"pricing-service/internal/broker"
	"pricing-service/internal/redisclient"
	"pricing-service/internal/service"
	"pricing-service/internal/store"
	"pricing-service/internal/util"
	"pricing-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pricing service")

	tp, err := util.InitTracer("pricing-service", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReconcile)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	catalogClient := service.NewCatalogClient(db, redisClient,
		time.Duration(cfg.Pricing.CatalogCacheSeconds)*time.Second)
	reconcileService := service.NewReconcileService(db, catalogClient, redisClient, eventPublisher, cfg.Pricing)

	syncCtx, syncCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := catalogClient.SyncCatalogToRedis(syncCtx); err != nil {
		log.Printf("Failed to sync catalog prices to Redis: %v", err)
	}
	syncCancel()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	auditConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReconcile, cfg.Kafka.ConsumerGroup)
	auditWorker := worker.NewDriftAuditWorker(auditConsumer, db)
	go func() {
		if err := auditWorker.Start(workerCtx); err != nil {
			log.Printf("Drift audit worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(reconcileService, db, redisClient)
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
	auditWorker.Stop()

	log.Println("Server exited")
}
