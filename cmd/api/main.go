package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "merchantops/api/swagger" // swagger docs
	"merchantops/internal/app"
	"merchantops/internal/config"
	"merchantops/internal/database"
	"merchantops/internal/logger"
	"merchantops/internal/tracing"

	"github.com/gin-gonic/gin"
)

const (
	serviceName    = "merchantops-api"
	serviceVersion = "1.0.0"
)

// @title           Merchant Operations API
// @version         1.0
// @description     Approval-gated merchant operations: refunds, campaigns, policies, deliveries and wallet payouts.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(os.Stderr, "info")
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(os.Stdout, cfg.LogLevel)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	if cfg.TracingEnabled {
		if err := tracing.Init(serviceName, serviceVersion, cfg.TracingFile); err != nil {
			log.Fatal().Err(err).Msg("Tracing init failed")
		}
	}

	db, err := database.NewConnection(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	log.Info().Msg("Connected to PostgreSQL successfully.")

	if err := database.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, db, log)
	if err := a.Roles.SeedDefaultRolesAndPermissions(ctx); err != nil {
		log.Fatal().Err(err).Msg("Seeding roles failed")
	}

	go a.Hub.Run()
	go a.WatchStuckExecutions(ctx, time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	a.Hub.Stop()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown failed")
	}
}
