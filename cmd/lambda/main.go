package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/handler"
	"support-chain/internal/app"
	"support-chain/internal/config"
	"support-chain/internal/logging"
)

func main() {
	ctx := context.Background()

	// Lambda configuration comes from the function environment only.
	cfg, err := config.Parse()
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

	a, err := app.Build(ctxzap.ToContext(ctx, logger), cfg)
	if err != nil {
		logger.Fatal("failed to build chain service", zap.Error(err))
	}

	h, err := handler.NewHandler(a.Chain, handler.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	lambda.Start(h.Handle)
}
