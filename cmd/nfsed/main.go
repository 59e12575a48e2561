package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/nfse-extractor/internal/app"
	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $NFSE_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("nfsed exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := common.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := common.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("open log output: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc, cleanup, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build extraction pipeline: %w", err)
	}
	defer cleanup()

	errc := make(chan error, 2)

	var (
		grpcServer   *grpc.Server
		healthServer *health.Server
	)
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
		grpcServer, healthServer = server.NewGRPCServer(proc, logger)
		logger.Info("nfsed grpc listening", "addr", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				errc <- err
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = server.NewHTTPServer(server.NewHTTPService(proc, cfg.Server, logger), cfg.Server)
		logger.Info("nfsed http listening", "addr", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errc:
		logger.Error("server error", "error", serveErr)
	}

	if healthServer != nil {
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	shutdownCtx, cancel := common.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	stats := proc.CacheStats()
	logger.Info("nfsed stopped", "cache_entries", stats.Entries, "cache_hits", stats.Hits, "cache_misses", stats.Misses)
	return serveErr
}
