// Package main serves backtests over HTTP, with gRPC health checks on a
// second port.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"channel-backtest/services/api"
	"channel-backtest/services/cache"
	"channel-backtest/services/config"
	"channel-backtest/services/engine"
	"channel-backtest/services/monitoring"
)

const serviceVersion = "1.1.0"

// newCache picks Redis when an address is configured and an in-process
// map otherwise.
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, func(), error) {
	if cfg.Cache.RedisAddr == "" {
		logger.Info("Using in-memory result cache")
		return cache.NewMemory(), func() {}, nil
	}
	client, err := cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using Redis result cache", zap.String("addr", cfg.Cache.RedisAddr), zap.Duration("ttl", cfg.Cache.TTL))
	return cache.NewRedisCache(client, "backtest:", cfg.Cache.TTL), func() { client.Close() }, nil
}

func main() {
	configPath := pflag.String("config", os.Getenv("BACKTEST_CONFIG"), "YAML configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := monitoring.NewLogger(cfg.Monitoring.LogLevel, cfg.Monitoring.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting backtesting service",
		zap.String("version", serviceVersion),
		zap.String("engine_version", engine.EngineVersion),
		zap.String("environment", cfg.Environment),
		zap.String("strategy", cfg.Strategy.Donchian.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect result cache", zap.Error(err))
	}
	defer closeCache()

	metrics := monitoring.NewMetrics()
	service := api.NewServer(api.Options{
		Strategy:     cfg.Strategy,
		PositionSize: cfg.Run.PositionSize,
		DataDir:      cfg.Server.DataDir,
		RunTimeout:   cfg.Server.RunTimeout,
		MaxJobs:      cfg.Server.MaxJobs,
		Version:      serviceVersion,
		Logger:       logger,
		Metrics:      metrics,
		Cache:        results,
	})

	// gRPC carries health and reflection only
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: service.Router(),
	}

	errc := make(chan error, 2)
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			errc <- fmt.Errorf("listen on gRPC port: %w", err)
			return
		}
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil {
			errc <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down servers...")
	case err := <-errc:
		logger.Error("Server failed", zap.Error(err))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("Servers stopped")
}
