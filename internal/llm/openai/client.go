package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/joseph-ayodele/nfse-extractor/internal/llm"
)

var (
	errNoChoices = errors.New("no choices in openai response")
	errEmpty     = errors.New("empty content in openai response")
)

func (c *Client) Name() string { return "openai" }

// Complete implements llm.Provider using chat completions with a strict
// json_schema response format. It performs exactly one HTTP call.
func (c *Client) Complete(ctx context.Context, inv llm.Invocation) (llm.Completion, error) {
	start := time.Now()

	c.logger.DebugContext(ctx, "llm.openai.request",
		"model", c.cfg.Model,
		"strategy", inv.Strategy,
		"attachment", inv.Attachment.Kind,
		"attachment_bytes", len(inv.Attachment.Data),
		"schema", inv.Schema.Name,
	)

	params := c.buildParams(inv)
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.WarnContext(ctx, "llm.openai.http_error",
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Completion{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Completion{}, errNoChoices
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return llm.Completion{}, fmt.Errorf("openai refused: %s", msg.Refusal)
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return llm.Completion{}, errEmpty
	}

	c.logger.DebugContext(ctx, "llm.openai.response",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"content", content,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	model := resp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return llm.Completion{
		Text:  content,
		Model: model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) buildParams(inv llm.Invocation) openai.ChatCompletionNewParams {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(inv.User),
		attachmentPart(inv.Attachment),
	}

	jsonSchema := shared.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   inv.Schema.Name,
		Schema: inv.Schema.Body,
		Strict: openai.Bool(inv.Schema.Strict),
	}
	if inv.Schema.Description != "" {
		jsonSchema.Description = openai.String(inv.Schema.Description)
	}

	params := openai.ChatCompletionNewParams{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(inv.System),
			openai.UserMessage(parts),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: jsonSchema},
		},
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}
	return params
}

func attachmentPart(att llm.Attachment) openai.ChatCompletionContentPartUnionParam {
	if att.Kind == llm.AttachmentImage {
		return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    att.DataURL(),
			Detail: att.Detail,
		})
	}
	return openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
		FileData: openai.String(att.DataURL()),
		Filename: openai.String(att.Filename),
	})
}

// IsRetryable reports whether err is worth another attempt: transport
// failures, timeouts, and 408/409/429/5xx responses.
func (c *Client) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
			return true
		case code >= 500:
			return true
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// malformed or empty replies are transient from our side
	return errors.Is(err, errNoChoices) || errors.Is(err, errEmpty) ||
		strings.Contains(err.Error(), "connection reset")
}
