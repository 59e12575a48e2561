package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid input", fmt.Errorf("decode body: %w", ErrInvalidInput), http.StatusBadRequest},
		{"document", NewDocumentError("missing %PDF- signature", nil), http.StatusBadRequest},
		{"validation", &ValidationError{Raw: "{", Cause: errors.New("eof")}, http.StatusUnprocessableEntity},
		{"model", fmt.Errorf("extract: %w", &ModelError{Attempts: 2, Cause: errors.New("boom")}), http.StatusFailedDependency},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestGRPCStatus(t *testing.T) {
	assert.NoError(t, GRPCStatus(nil))

	tests := []struct {
		err  error
		want codes.Code
	}{
		{NewDocumentError("empty", nil), codes.InvalidArgument},
		{&ValidationError{Cause: errors.New("x")}, codes.FailedPrecondition},
		{&ModelError{Attempts: 2, Cause: errors.New("x")}, codes.Unavailable},
		{errors.New("x"), codes.Internal},
	}
	for _, tt := range tests {
		st, ok := status.FromError(GRPCStatus(tt.err))
		require.True(t, ok)
		assert.Equal(t, tt.want, st.Code(), tt.err.Error())
	}
}

func TestErrorTypesUnwrap(t *testing.T) {
	cause := errors.New("root cause")

	var me *ModelError
	err := fmt.Errorf("gateway: %w", &ModelError{Attempts: 2, Cause: cause})
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 2, me.Attempts)
	assert.ErrorIs(t, err, cause)

	var ve *ValidationError
	err = &ValidationError{Raw: `{"x":1}`, Cause: cause}
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, `{"x":1}`, ve.Raw)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrModel)
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, RequestIDFromContext(ctx))

	same, id2 := EnsureRequestID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, same)
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nfse.yaml")
	yml := `
server:
  http_addr: ":9000"
llm:
  model: from-yaml
  max_concurrency: 8
  timeout: 45s
encoder:
  strategy: raster
cache:
  size: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	for _, k := range []string{"NFSE_CONFIG", "HTTP_ADDR", "OPENAI_MODEL", "LLM_TIMEOUT", "LLM_MAX_ATTEMPTS",
		"ENCODER_STRATEGY", "ENCODER_JPEG_QUALITY", "CACHE_SIZE", "LLM_PROVIDER"} {
		t.Setenv(k, "")
	}
	t.Setenv("LLM_MAX_CONCURRENCY", "2")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "from-yaml", cfg.LLM.Model)
	assert.Equal(t, 2, cfg.LLM.MaxConcurrency, "environment wins over file")
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "raster", cfg.Encoder.Strategy)
	assert.Equal(t, 10, cfg.Cache.Size)
	// untouched defaults survive the overlay
	assert.Equal(t, 2, cfg.LLM.MaxAttempts)
	assert.Equal(t, 85, cfg.Encoder.JPEGQuality)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput, "missing api key")

	bad = DefaultConfig()
	bad.LLM.APIKey = "sk-test"
	bad.Encoder.Strategy = "ocr"
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.LLM.APIKey = "sk-test"
	bad.LLM.MaxConcurrency = 0
	assert.Error(t, bad.Validate())

	vertex := DefaultConfig()
	vertex.LLM.Provider = "vertex"
	assert.Error(t, vertex.Validate())
	vertex.LLM.VertexProject = "proj"
	assert.NoError(t, vertex.Validate())
}

func TestContextHandlerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LogConfig{Level: "debug", Format: "json"})

	ctx := WithRequestID(context.Background(), "req-123")
	logger.InfoContext(ctx, "extract.start")
	logger.Info("no.context")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"msg":"no.context"`)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("request_id")))
}
