package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/internal/app"
	"support-chain/internal/config"
	"support-chain/internal/domain"
	"support-chain/internal/logging"
	"support-chain/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("supportchain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", ".env", "dotenv file to load configuration from")
	model := fs.String("model", "", "model for every stage (skips the probe)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	ctx = ctxzap.ToContext(ctx, logger)

	a, err := app.Build(ctx, cfg, app.WithModel(*model))
	if err != nil {
		fmt.Fprintln(stderr, formatFailure(err))
		return 1
	}

	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		query, err = readQuery(stdin, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "read query: %v\n", err)
			return 1
		}
	}

	res, err := a.Chain.Run(ctx, query)
	if err != nil {
		logger.Debug("chain run failed", zap.Error(err))
		fmt.Fprintln(stderr, formatFailure(err))
		return 1
	}

	printResult(stdout, res)
	return 0
}

// readQuery prompts for a single line of input.
func readQuery(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter your query: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printResult(w io.Writer, res domain.ChainResult) {
	for i, out := range res.Outputs {
		stage := domain.Stage(i + 1)
		fmt.Fprintf(w, "\n--- Stage %d: %s ---\n%s\n", int(stage), stage, out)
	}
	if res.Model != "" {
		fmt.Fprintf(w, "\n(model: %s, run: %s)\n", res.Model, res.RunID)
	}
}

// formatFailure renders err as "stage N (<name>) failed: <code>: <cause>".
func formatFailure(err error) string {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return fmt.Sprintf("%s: %v", usecase.ErrorInternal, err)
	}
	cause := ucErr.Reason
	if ucErr.Err != nil {
		cause = ucErr.Err.Error()
	}
	if ucErr.Stage > 0 {
		return fmt.Sprintf("stage %d (%s) failed: %s: %s", int(ucErr.Stage), ucErr.Stage, ucErr.Code, cause)
	}
	return fmt.Sprintf("%s: %s", ucErr.Code, cause)
}
