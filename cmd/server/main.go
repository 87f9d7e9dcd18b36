package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/iaprender-user-sync/internal/api"
	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/database"
	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/report"
	"github.com/iaprender-user-sync/internal/repository"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/iaprender-user-sync/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting user sync server...")

	// Initialize database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Server.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Directory client
	dir, err := directory.NewCognito(context.Background(), &cfg.Directory, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create directory client")
	}

	// Run report archive
	archiver, err := report.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create report archiver")
	}

	// Initialize repositories
	repos := repository.New(db)

	// Initialize services
	services := service.NewServices(repos, dir, archiver, cfg, log)

	// Start background run processor
	services.Run.StartProcessor(context.Background())
	log.Info().Msg("Background sync run processor started")

	// Initialize router
	router := api.NewRouter(services, cfg, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop run processor after in-flight requests drain
	services.Run.StopProcessor()

	log.Info().Msg("Server exited gracefully")
}
