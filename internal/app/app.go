package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/internal/config"
	"support-chain/internal/credentials"
	"support-chain/internal/integrations/openai"
	"support-chain/internal/integrations/paramstore"
	"support-chain/internal/repository"
	"support-chain/internal/usecase"
)

// App holds the wired dependencies shared by every entry point.
type App struct {
	Chain  *usecase.ChainService
	Client *openai.Client
	// Runs is nil when no run table is configured.
	Runs repository.RunStore
}

type buildOptions struct {
	model string
}

type Option func(*buildOptions)

// WithModel pins every stage to model, bypassing the probe.
func WithModel(model string) Option {
	return func(o *buildOptions) {
		o.model = model
	}
}

var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// Build resolves the API key and wires the completion client, the optional
// probe and the optional run store into a chain service. A missing key is
// reported as a CREDENTIAL_MISSING *usecase.Error before any call is made.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		awsCfg    aws.Config
		awsLoaded bool
	)
	loadAWS := func() (aws.Config, error) {
		if awsLoaded {
			return awsCfg, nil
		}
		c, err := loadAWSConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg, awsLoaded = c, true
		return awsCfg, nil
	}

	sources := []credentials.Source{
		credentials.Env{Var: cfg.APIKeyVar},
		credentials.DotEnvFile{Path: cfg.CredentialsFile},
	}
	if cfg.APIKeyParameter != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		ps, err := paramstore.New(awsssm.NewFromConfig(c))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		sources = append(sources, credentials.ParameterStore{Getter: ps, Parameter: cfg.APIKeyParameter})
	}

	apiKey, err := credentials.Resolve(ctx, sources...)
	if err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorCredentialMissing, Reason: "credential_missing", Err: err}
	}

	client, err := openai.NewClient(apiKey,
		openai.WithEndpoint(cfg.Completion.Endpoint),
		openai.WithDefaultModel(cfg.Completion.DefaultModel),
		openai.WithTimeout(cfg.Completion.RequestTimeout),
	)
	if err != nil {
		return nil, &usecase.Error{Code: usecase.ErrorCredentialMissing, Reason: "credential_missing", Err: err}
	}

	chainOpts := []usecase.ChainOption{
		usecase.WithTimeout(cfg.ChainTimeout),
		usecase.WithMaxQueryLength(cfg.MaxQueryLength),
	}
	if cfg.CategoryPolicy == config.CategoryPolicyStrict {
		chainOpts = append(chainOpts, usecase.WithCategoryPolicy(usecase.CategoryPolicyStrict))
	}

	switch {
	case o.model != "":
		chainOpts = append(chainOpts, usecase.WithModel(o.model))
	case cfg.Probe.Enabled:
		probe, err := usecase.NewModelProbe(client, cfg.Probe.Models, cfg.Probe.Delay)
		if err != nil {
			return nil, fmt.Errorf("app: create model probe: %w", err)
		}
		chainOpts = append(chainOpts, usecase.WithModelProbe(probe))
	}

	a := &App{Client: client}
	if cfg.RunsTable != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store, err := repository.New(awsdynamodb.NewFromConfig(c), cfg.RunsTable)
		if err != nil {
			return nil, fmt.Errorf("app: create run store: %w", err)
		}
		a.Runs = store
		chainOpts = append(chainOpts, usecase.WithRecorder(store))
	}

	chain, err := usecase.NewChainService(client, chainOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: create chain service: %w", err)
	}
	a.Chain = chain

	ctxzap.Info(ctx, "chain service ready",
		zap.String("endpoint", client.Endpoint()),
		zap.String("default_model", client.DefaultModel()),
		zap.Bool("probe", cfg.Probe.Enabled && o.model == ""),
		zap.Bool("persist_runs", a.Runs != nil),
	)
	return a, nil
}
