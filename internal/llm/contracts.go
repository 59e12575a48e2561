package llm

import (
	"context"
	"encoding/base64"
)

// Strategy selects how a document is presented to the model.
type Strategy string

const (
	StrategyNative Strategy = "native"
	StrategyRaster Strategy = "raster"
)

// AttachmentKind tells providers which content part to build.
type AttachmentKind string

const (
	AttachmentFile  AttachmentKind = "file"
	AttachmentImage AttachmentKind = "image"
)

// Attachment is the encoded document payload sent alongside the prompt.
type Attachment struct {
	Kind      AttachmentKind
	MediaType string
	Filename  string // file attachments only
	Detail    string // image fidelity hint, image attachments only
	Data      []byte
}

// Base64 returns the payload as standard base64.
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL returns the payload as a data: URL carrying its media type.
func (a Attachment) DataURL() string {
	return "data:" + a.MediaType + ";base64," + a.Base64()
}

// SchemaRef names the JSON schema the model output must conform to.
type SchemaRef struct {
	Name        string
	Description string
	Body        map[string]any
	Strict      bool
}

// Invocation is everything a provider needs for one model call. It is built
// per request and never shared.
type Invocation struct {
	Strategy   Strategy
	System     string
	User       string
	Attachment Attachment
	Schema     SchemaRef
}

// Usage carries token counts and the derived cost of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Completion is the raw result of a model call.
type Completion struct {
	Text     string
	Usage    Usage
	Model    string
	Attempts int
}

// Provider performs a single model call. Implementations must not retry on
// their own; the Gateway owns the retry policy.
type Provider interface {
	Name() string
	Complete(ctx context.Context, inv Invocation) (Completion, error)
}

// RetryClassifier is implemented by providers that can tell transient
// failures from permanent ones.
type RetryClassifier interface {
	IsRetryable(err error) bool
}
