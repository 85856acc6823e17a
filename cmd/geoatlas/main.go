package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/geoatlas-backend/internal/compose"
	"github.com/yungbote/geoatlas-backend/internal/db"
	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/handlers"
	"github.com/yungbote/geoatlas-backend/internal/jobs"
	"github.com/yungbote/geoatlas-backend/internal/platform/envutil"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/publish"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/server"
	"github.com/yungbote/geoatlas-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Catalog client
	gs, err := geoserver.NewFromEnv(log)
	if err != nil {
		log.Fatal("GeoServer client init failed", "error", err)
	}

	// Repos
	log.Info("Setting up repos from main...")
	assetRepo := repos.NewSpatialAssetRepo(thePG, log)
	partRepo := repos.NewAssetPartRepo(thePG, log)
	folderRepo := repos.NewFolderRepo(thePG, log)
	mapRepo := repos.NewMapRepo(thePG, log)
	mapLayerRepo := repos.NewMapLayerRepo(thePG, log)
	taskRepo := repos.NewTaskRunRepo(thePG, log)

	// Pipeline components
	policy := jobs.PolicyFromEnv()
	queue := jobs.NewQueue(taskRepo, log)
	publisher := publish.NewPublisher(gs, log)
	reconciler := publish.NewReconciler(gs, log)
	cleanup := publish.NewCleanup(gs, log)
	composer := compose.NewComposer(gs, mapRepo, mapLayerRepo, assetRepo, log)

	// Task handlers
	registry := jobs.NewRegistry()
	for _, h := range []jobs.Handler{
		jobs.NewBundleCheckHandler(partRepo),
		jobs.NewPublishHandler(partRepo, publisher, gs.Workspace()),
		jobs.NewReconcileHandler(gs, reconciler, mapLayerRepo),
		jobs.NewComposeHandler(composer),
		jobs.NewCleanupHandler(cleanup),
	} {
		if err := registry.Register(h); err != nil {
			log.Fatal("Handler registration failed", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := jobs.NewWorker(thePG, log, taskRepo, assetRepo, queue, registry, policy)
	worker.Start(ctx)

	// Services
	log.Info("Setting up services from main...")
	assetService := services.NewAssetService(thePG, log, assetRepo, partRepo, folderRepo, taskRepo, mapLayerRepo, queue, gs.Workspace(), policy)
	mapService := services.NewMapService(thePG, log, mapRepo, mapLayerRepo, assetRepo, queue, composer)

	// HTTP
	router := server.NewRouter(server.RouterConfig{
		AssetHandler: handlers.NewAssetHandler(assetService),
		MapHandler:   handlers.NewMapHandler(mapService),
	})

	addr := ":" + envutil.Str("PORT", "8080")
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
}
