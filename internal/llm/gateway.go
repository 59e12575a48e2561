package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
)

const (
	defaultMaxConcurrency = 4
	defaultAttemptTimeout = 120 * time.Second
)

// Gateway is the single entry point for model calls. It bounds the number of
// calls in flight, applies the retry policy and accounts for token cost.
type Gateway struct {
	provider Provider
	logger   *slog.Logger

	limit    int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64

	policy  RetryPolicy
	timeout time.Duration
	pricing Pricing
}

type GatewayOption func(*Gateway)

// WithMaxConcurrency sets the admission ceiling. Values below 1 are ignored.
func WithMaxConcurrency(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.limit = int64(n)
		}
	}
}

func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.policy = p }
}

// WithAttemptTimeout bounds each individual provider call; 0 disables it.
func WithAttemptTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

func WithPricing(p Pricing) GatewayOption {
	return func(g *Gateway) { g.pricing = p }
}

func NewGateway(provider Provider, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		provider: provider,
		logger:   logger,
		limit:    defaultMaxConcurrency,
		policy:   DefaultRetryPolicy(),
		timeout:  defaultAttemptTimeout,
		pricing:  DefaultPricing,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.sem = semaphore.NewWeighted(g.limit)
	return g
}

// InFlight reports how many calls currently hold an admission slot.
func (g *Gateway) InFlight() int64 { return g.inFlight.Load() }

// Limit reports the admission ceiling.
func (g *Gateway) Limit() int64 { return g.limit }

// Invoke runs inv against the provider. It blocks while the ceiling is
// reached and returns a *common.ModelError once every attempt has failed.
func (g *Gateway) Invoke(ctx context.Context, inv Invocation) (Completion, error) {
	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.logger.WarnContext(ctx, "llm.gateway.admit_cancelled",
			"waited_ms", time.Since(waitStart).Milliseconds(), "error", err)
		return Completion{}, fmt.Errorf("acquire model slot: %w", err)
	}
	defer g.sem.Release(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	g.logger.DebugContext(ctx, "llm.gateway.admit",
		"provider", g.provider.Name(),
		"in_flight", n,
		"limit", g.limit,
		"waited_ms", time.Since(waitStart).Milliseconds(),
	)

	maxAttempts := g.policy.attempts()
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		if attempt > 0 {
			if err := g.policy.wait(ctx); err != nil {
				lastErr = err
				break
			}
		}
		attempt++

		start := time.Now()
		comp, err := g.call(ctx, inv)
		if err == nil {
			comp.Attempts = attempt
			comp.Usage.CostUSD = g.pricing.Cost(comp.Usage.InputTokens, comp.Usage.OutputTokens)
			g.logger.InfoContext(ctx, "llm.gateway.usage",
				"provider", g.provider.Name(),
				"model", comp.Model,
				"attempt", attempt,
				"input_tokens", comp.Usage.InputTokens,
				"output_tokens", comp.Usage.OutputTokens,
				"cost_usd", fmt.Sprintf("%.6f", comp.Usage.CostUSD),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return comp, nil
		}

		lastErr = err
		g.logger.WarnContext(ctx, "llm.gateway.attempt_failed",
			"provider", g.provider.Name(),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if ctx.Err() != nil || !g.policy.shouldRetry(err) {
			break
		}
	}

	g.logger.ErrorContext(ctx, "llm.gateway.exhausted",
		"provider", g.provider.Name(), "attempts", attempt, "error", lastErr)
	return Completion{}, &common.ModelError{Attempts: attempt, Cause: lastErr}
}

func (g *Gateway) call(ctx context.Context, inv Invocation) (Completion, error) {
	actx, cancel := common.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.provider.Complete(actx, inv)
}
