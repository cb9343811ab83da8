package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"customstream/internal/catalog"
	"customstream/internal/config"
	"customstream/internal/database"
	"customstream/internal/logger"
	"customstream/internal/mirror"
	"customstream/internal/observability"
	"customstream/internal/publisher"
	"customstream/internal/replicate"
	"customstream/internal/router"
	"customstream/internal/upstream"
)

func main() {
	settings := config.Load()
	if settings.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	logger.Init("customstream", settings.Env, logger.ParseLevelFromEnv())

	shutdownOTel, err := observability.InitOTel(context.Background(), "customstream-api")
	if err != nil {
		log.Printf("Warning: Failed to initialize OpenTelemetry: %v", err)
	} else {
		defer func() {
			if err := shutdownOTel(context.Background()); err != nil {
				log.Printf("Error shutting down OpenTelemetry: %v", err)
			}
		}()
		log.Println("OpenTelemetry initialized")
	}

	if settings.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.New(settings.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	store := catalog.New(db)

	replicaClient, err := replicate.New(context.Background(), settings)
	if err != nil {
		log.Printf("Warning: replication not configured: %v", err)
	}

	pub := publisher.New(store, settings.StorageRoot, replicaClient)

	upstreamClient := upstream.NewClient(
		time.Duration(settings.UpstreamRequestTimeoutSeconds)*time.Second,
		settings.UpstreamUserAgent,
		settings.UpstreamRateLimitQPS,
	)

	engine := mirror.NewEngine(store, upstreamClient, pub, settings.StorageRoot)

	ctx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	worker := mirror.NewWorker(ctx, store, engine)
	if err := worker.Start(ctx); err != nil {
		log.Fatal("Failed to start mirror worker:", err)
	}
	defer worker.Stop()

	intake := mirror.NewIntake(store, worker.Trigger)

	r := router.Setup(router.Deps{
		DB:             db,
		Store:          store,
		Intake:         intake,
		UpstreamClient: upstreamClient,
		Publisher:      pub,
		StorageRoot:    settings.StorageRoot,
		AdminAPIKey:    settings.AdminAPIKey,
	})

	server := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", settings.Port)
		log.Printf("Storage root: %s", settings.StorageRoot)
		log.Printf("Environment: %s", settings.Env)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
