package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/nfse-extractor/internal/cache"
	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/core"
	"github.com/joseph-ayodele/nfse-extractor/internal/document"
	"github.com/joseph-ayodele/nfse-extractor/internal/llm"
	"github.com/joseph-ayodele/nfse-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/nfse-extractor/internal/llm/vertex"
)

// Build wires the extraction pipeline described by cfg. The returned cleanup
// releases provider resources and must be called once the processor is idle.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*core.Processor, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	provider, closeProvider, err := NewProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, nil, err
	}
	p, err := BuildWithProvider(cfg, provider, logger)
	if err != nil {
		closeProvider()
		return nil, nil, err
	}
	return p, closeProvider, nil
}

// BuildWithProvider wires everything around an already constructed provider.
func BuildWithProvider(cfg *common.Config, provider llm.Provider, logger *slog.Logger) (*core.Processor, error) {
	schema, err := llm.NewExtractionSchema()
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}

	policy := llm.RetryPolicy{MaxAttempts: cfg.LLM.MaxAttempts, Backoff: cfg.LLM.RetryBackoff}
	if rc, ok := provider.(llm.RetryClassifier); ok && cfg.LLM.RetryClassify {
		policy.Retryable = rc.IsRetryable
	}
	gateway := llm.NewGateway(provider, logger,
		llm.WithMaxConcurrency(cfg.LLM.MaxConcurrency),
		llm.WithRetryPolicy(policy),
		llm.WithAttemptTimeout(cfg.LLM.Timeout),
		llm.WithPricing(ResolvePricing(cfg.LLM)),
	)

	encoder, err := document.NewEncoder(cfg.Encoder, document.ExecRunner{Logger: logger}, logger)
	if err != nil {
		return nil, err
	}
	results := cache.New(cfg.Cache.Size, cfg.Cache.TTL)

	proc, err := core.NewProcessor(logger, results, encoder, gateway, schema,
		core.WithEncodeParallelism(cfg.Encoder.MaxParallel))
	if err != nil {
		return nil, err
	}

	logger.Info("app.ready",
		"provider", provider.Name(),
		"model", ResolveModel(cfg.LLM),
		"strategy", encoder.Strategy(),
		"max_concurrency", gateway.Limit(),
		"max_attempts", policy.MaxAttempts,
		"cache_size", cfg.Cache.Size,
		"schema_version", schema.Version,
		"schema_fingerprint", schema.Fingerprint[:12],
	)
	return proc, nil
}

// NewProvider constructs the configured model provider.
func NewProvider(ctx context.Context, cfg common.LLMConfig, logger *slog.Logger) (llm.Provider, func(), error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		}, logger), func() {}, nil
	case "vertex":
		c, err := vertex.NewClient(ctx, vertex.Config{
			Project:         cfg.VertexProject,
			Location:        cfg.VertexLocation,
			Model:           ResolveModel(cfg),
			Temperature:     cfg.Temperature,
			CredentialsFile: cfg.VertexCredentialsFile,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				logger.Warn("vertex.close_failed", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// ResolveModel returns the model the configured provider will call. The
// built-in default names an OpenAI model, so vertex swaps in its own default.
func ResolveModel(cfg common.LLMConfig) string {
	if cfg.Provider == "vertex" && cfg.Model == common.DefaultConfig().LLM.Model {
		return vertex.DefaultModel
	}
	return cfg.Model
}

// ResolvePricing returns the per-token prices used for cost accounting.
// Prices left at the built-in defaults follow the same swap as ResolveModel.
func ResolvePricing(cfg common.LLMConfig) llm.Pricing {
	p := llm.Pricing{InputPerMillion: cfg.InputPricePerMillion, OutputPerMillion: cfg.OutputPricePerMillion}
	if cfg.Provider != "vertex" {
		return p
	}
	def := common.DefaultConfig().LLM
	if p.InputPerMillion == def.InputPricePerMillion && p.OutputPerMillion == def.OutputPricePerMillion {
		p = llm.Pricing{
			InputPerMillion:  vertex.DefaultInputPricePerMillion,
			OutputPerMillion: vertex.DefaultOutputPricePerMillion,
		}
	}
	return p
}
