package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/nfse-extractor/internal/cache"
	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/document"
	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
	"github.com/joseph-ayodele/nfse-extractor/internal/llm"
)

// ModelInvoker is the part of llm.Gateway the processor depends on.
type ModelInvoker interface {
	Invoke(ctx context.Context, inv llm.Invocation) (llm.Completion, error)
}

// Result is the outcome of one extraction.
type Result struct {
	Record entity.NFSe
	Hash   string
	Cached bool
	Usage  llm.Usage // zero when the record did not come from this call's model request
}

// Processor coordinates cache lookup, encoding, the model call and output
// validation for one document.
type Processor struct {
	logger    *slog.Logger
	results   *cache.Results
	encoder   document.Encoder
	gateway   ModelInvoker
	schema    *llm.ExtractionSchema
	validator *llm.Validator
	encodeSem *semaphore.Weighted
}

type Option func(*Processor)

// WithEncodeParallelism bounds concurrent document encodings. Defaults to NumCPU.
func WithEncodeParallelism(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.encodeSem = semaphore.NewWeighted(int64(n))
		}
	}
}

func NewProcessor(
	logger *slog.Logger,
	results *cache.Results,
	encoder document.Encoder,
	gateway ModelInvoker,
	schema *llm.ExtractionSchema,
	opts ...Option,
) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if results == nil || encoder == nil || gateway == nil || schema == nil {
		return nil, errors.New("processor: cache, encoder, gateway and schema are required")
	}
	validator, err := llm.NewValidator(schema)
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	p := &Processor{
		logger:    logger,
		results:   results,
		encoder:   encoder,
		gateway:   gateway,
		schema:    schema,
		validator: validator,
		encodeSem: semaphore.NewWeighted(int64(runtime.NumCPU())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Extract returns the record for doc. Byte-identical documents are served
// from the cache; concurrent first requests for the same content share a
// single model call.
func (p *Processor) Extract(ctx context.Context, doc []byte) (Result, error) {
	ctx, _ = common.EnsureRequestID(ctx)
	start := time.Now()

	if err := document.CheckSignature(doc); err != nil {
		p.logger.WarnContext(ctx, "extract.rejected", "bytes", len(doc), "error", err)
		return Result{}, err
	}
	hash := document.ContentHash(doc)
	ctx = common.WithDocumentHash(ctx, hash)
	p.logger.InfoContext(ctx, "extract.received", "bytes", len(doc))

	var usage llm.Usage
	rec, hit, err := p.results.Do(ctx, hash, func(fctx context.Context) (entity.NFSe, error) {
		rec, u, err := p.run(fctx, doc)
		usage = u
		return rec, err
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "extract.failed",
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return Result{Hash: hash}, err
	}

	if hit {
		p.logger.InfoContext(ctx, "extract.cache_hit", "elapsed_ms", time.Since(start).Milliseconds())
	} else {
		p.logger.InfoContext(ctx, "extract.ok",
			"cost_usd", fmt.Sprintf("%.6f", usage.CostUSD),
			"elapsed_ms", time.Since(start).Milliseconds())
	}
	return Result{Record: rec, Hash: hash, Cached: hit, Usage: usage}, nil
}

func (p *Processor) run(ctx context.Context, doc []byte) (entity.NFSe, llm.Usage, error) {
	p.logger.DebugContext(ctx, "extract.cache_miss", "strategy", p.encoder.Strategy())

	att, err := p.encode(ctx, doc)
	if err != nil {
		return entity.NFSe{}, llm.Usage{}, err
	}

	inv := llm.BuildInvocation(p.encoder.Strategy(), att, p.schema)
	p.logger.InfoContext(ctx, "extract.requesting",
		"strategy", inv.Strategy,
		"attachment_bytes", len(att.Data),
		"schema_version", p.schema.Version,
		"schema_fingerprint", p.schema.Fingerprint[:12],
	)
	comp, err := p.gateway.Invoke(ctx, inv)
	if err != nil {
		return entity.NFSe{}, llm.Usage{}, err
	}

	rec, err := p.validator.Decode(comp.Text)
	if err != nil {
		var ve *common.ValidationError
		if errors.As(err, &ve) {
			p.logger.DebugContext(ctx, "extract.invalid_output", "raw", ve.Raw)
		}
		p.logger.WarnContext(ctx, "extract.validation_failed", "attempts", comp.Attempts, "error", err)
		return entity.NFSe{}, comp.Usage, err
	}
	return rec, comp.Usage, nil
}

func (p *Processor) encode(ctx context.Context, doc []byte) (llm.Attachment, error) {
	if err := p.encodeSem.Acquire(ctx, 1); err != nil {
		return llm.Attachment{}, fmt.Errorf("acquire encode slot: %w", err)
	}
	defer p.encodeSem.Release(1)

	start := time.Now()
	att, err := p.encoder.Encode(ctx, doc)
	if err != nil {
		p.logger.WarnContext(ctx, "extract.encode_failed", "error", err)
		return llm.Attachment{}, err
	}
	p.logger.DebugContext(ctx, "extract.encoded",
		"kind", att.Kind, "bytes", len(att.Data), "elapsed_ms", time.Since(start).Milliseconds())
	return att, nil
}

// CacheStats exposes the result cache counters.
func (p *Processor) CacheStats() cache.Stats { return p.results.Stats() }

// Strategy reports the configured document encoding.
func (p *Processor) Strategy() llm.Strategy { return p.encoder.Strategy() }
