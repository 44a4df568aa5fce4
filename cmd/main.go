package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/api/routes"
	"github.com/lumipay/risk-engine/internal/infrastructure/config"
	"github.com/lumipay/risk-engine/internal/infrastructure/database"
	"github.com/lumipay/risk-engine/internal/infrastructure/di"
	"github.com/lumipay/risk-engine/pkg/logger"
	"github.com/lumipay/risk-engine/pkg/tracing"
)

// @title Risk Engine API
// @version 1.0
// @description Fraud and risk detection service for the payment platform.
// @BasePath /api/v1
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	zapLog := log.Zap()
	defer zapLog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, tracing.Config{
			ServiceName: "risk-engine",
			Endpoint:    cfg.Tracing.Endpoint,
			Environment: cfg.Environment,
			Enabled:     true,
		})
		if err != nil {
			zapLog.Fatal("failed to init tracing", zap.Error(err))
		}
		defer shutdown(context.Background())
	}

	container, err := di.NewContainer(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("failed to build container", zap.Error(err))
	}
	defer container.Close()

	if err := database.RunMigrations(container.DB, "migrations"); err != nil {
		zapLog.Fatal("failed to run migrations", zap.Error(err))
	}

	if err := container.Maintenance.Start(); err != nil {
		zapLog.Fatal("failed to start maintenance scheduler", zap.Error(err))
	}
	defer container.Maintenance.Stop()

	router := routes.Setup(cfg, container.RiskHandler, container.HealthHandler, gin.WrapH(promhttp.Handler()), zapLog)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		zapLog.Info("risk engine listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Environment),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}
}
