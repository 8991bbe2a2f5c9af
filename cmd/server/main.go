package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/internal/api"
	"support-chain/internal/app"
	"support-chain/internal/config"
	"support-chain/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load configuration from")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctxzap.ToContext(ctx, logger), cfg)
	if err != nil {
		logger.Fatal("failed to build chain service", zap.Error(err))
	}

	h, err := api.NewHandler(a.Chain, a.Runs)
	if err != nil {
		logger.Fatal("failed to create API handler", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           api.SetupRouter(h, logger, cfg.ChainTimeout+5*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
