package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/nfse-extractor/internal/llm"
)

const DefaultModel = "gemini-2.0-flash"

// List prices of DefaultModel in USD per million tokens.
const (
	DefaultInputPricePerMillion  = 0.10
	DefaultOutputPricePerMillion = 0.40
)

// Config for the Vertex AI client.
type Config struct {
	Project         string
	Location        string
	Model           string
	Temperature     float64 // 0 leaves the model default
	CredentialsFile string  // empty uses application default credentials
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Provider on Gemini models served by Vertex AI.
type Client struct {
	cfg    Config
	sdk    *genai.Client
	newGen func(inv llm.Invocation) contentGenerator
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("vertex: project is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	sdk, err := genai.NewClient(ctx, cfg.Project, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("vertex: new client: %w", err)
	}

	c := &Client{cfg: cfg, sdk: sdk, logger: logger}
	c.newGen = c.model
	return c, nil
}

func (c *Client) Close() error {
	if c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

func (c *Client) Name() string { return "vertex" }

// model configures a GenerativeModel for one invocation. GenerativeModel is
// mutable, so each call gets its own.
func (c *Client) model(inv llm.Invocation) contentGenerator {
	m := c.sdk.GenerativeModel(c.cfg.Model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(inv.System)}}
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = ToGenaiSchema(inv.Schema.Body)
	if c.cfg.Temperature > 0 {
		m.SetTemperature(float32(c.cfg.Temperature))
	}
	return m
}

// Complete implements llm.Provider. It performs exactly one call.
func (c *Client) Complete(ctx context.Context, inv llm.Invocation) (llm.Completion, error) {
	start := time.Now()
	c.logger.DebugContext(ctx, "llm.vertex.request",
		"model", c.cfg.Model,
		"strategy", inv.Strategy,
		"attachment", inv.Attachment.Kind,
		"attachment_bytes", len(inv.Attachment.Data),
	)

	resp, err := c.newGen(inv).GenerateContent(ctx,
		genai.Text(inv.User),
		genai.Blob{MIMEType: inv.Attachment.MediaType, Data: inv.Attachment.Data},
	)
	if err != nil {
		c.logger.WarnContext(ctx, "llm.vertex.call_error",
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Completion{}, fmt.Errorf("vertex generate content: %w", err)
	}
	comp, err := completionFrom(resp)
	if err != nil {
		return llm.Completion{}, err
	}
	if comp.Model == "" {
		comp.Model = c.cfg.Model
	}
	c.logger.DebugContext(ctx, "llm.vertex.response",
		"content", comp.Text, "elapsed_ms", time.Since(start).Milliseconds())
	return comp, nil
}

func completionFrom(resp *genai.GenerateContentResponse) (llm.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return llm.Completion{}, errors.New("no candidates in vertex response")
	}
	cand := resp.Candidates[0]
	if cand == nil {
		return llm.Completion{}, errors.New("no candidates in vertex response")
	}
	if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
		return llm.Completion{}, fmt.Errorf("vertex stopped early: %s", cand.FinishReason)
	}
	if cand.Content == nil {
		return llm.Completion{}, errors.New("empty content in vertex response")
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return llm.Completion{}, errors.New("empty content in vertex response")
	}
	var usage llm.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return llm.Completion{Text: text, Usage: usage}, nil
}

// IsRetryable treats throttling, unavailability and deadline errors as transient.
func (c *Client) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return true
		default:
			return false
		}
	}
	return false
}
