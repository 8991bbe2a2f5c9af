// Package credentials resolves the completion API key once at startup from
// the configured sources.
package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"support-chain/internal/domain"
	"support-chain/internal/integrations/paramstore"
)

// Source yields an API key, or "" with a nil error when it has none.
type Source interface {
	Name() string
	Lookup(ctx context.Context) (string, error)
}

// Env reads the key from an environment variable.
type Env struct {
	Var string
}

func (e Env) Name() string { return "env:" + e.Var }

func (e Env) Lookup(context.Context) (string, error) {
	if strings.TrimSpace(e.Var) == "" {
		return "", nil
	}
	return strings.TrimSpace(os.Getenv(e.Var)), nil
}

// DotEnvFile reads the value of the first KEY=VALUE line in a dotenv file.
// A missing file yields no key.
type DotEnvFile struct {
	Path string
}

func (d DotEnvFile) Name() string { return "file:" + d.Path }

func (d DotEnvFile) Lookup(context.Context) (string, error) {
	if strings.TrimSpace(d.Path) == "" {
		return "", nil
	}
	f, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: open %s: %w", d.Path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return firstValue(line)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("credentials: read %s: %w", d.Path, err)
	}
	return "", nil
}

func firstValue(line string) (string, error) {
	if !strings.Contains(line, "=") {
		return "", nil
	}
	kv, err := godotenv.Unmarshal(line)
	if err != nil {
		return "", fmt.Errorf("credentials: parse dotenv line: %w", err)
	}
	for _, v := range kv {
		return strings.TrimSpace(v), nil
	}
	return "", nil
}

// TokenGetter is satisfied by *paramstore.Client.
type TokenGetter interface {
	GetToken(ctx context.Context, name string) (string, error)
}

// ParameterStore reads the key from an SSM parameter.
type ParameterStore struct {
	Getter    TokenGetter
	Parameter string
}

func (p ParameterStore) Name() string { return "ssm:" + p.Parameter }

func (p ParameterStore) Lookup(ctx context.Context) (string, error) {
	if p.Getter == nil || strings.TrimSpace(p.Parameter) == "" {
		return "", nil
	}
	token, err := p.Getter.GetToken(ctx, p.Parameter)
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", nil
	}
	return token, err
}

// Resolve returns the first non-empty key among sources, in order. It fails
// with domain.ErrCredentialMissing when no source has one.
func Resolve(ctx context.Context, sources ...Source) (string, error) {
	for _, src := range sources {
		key, err := src.Lookup(ctx)
		if err != nil {
			return "", fmt.Errorf("credentials: %s: %w", src.Name(), err)
		}
		if key != "" {
			ctxzap.Info(ctx, "api key resolved", zap.String("source", src.Name()))
			return key, nil
		}
	}
	return "", fmt.Errorf("credentials: %w", domain.ErrCredentialMissing)
}
