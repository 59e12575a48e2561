package batch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/grpc"

	"github.com/joseph-ayodele/nfse-extractor/internal/core"
	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
	"github.com/joseph-ayodele/nfse-extractor/internal/server"
)

// Client sends one document to an extraction backend.
type Client interface {
	Extract(ctx context.Context, doc []byte) (entity.NFSe, error)
}

// APIError is a non-200 answer from the HTTP endpoint.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Detail)
}

// HTTPClient posts documents to a running nfsed HTTP endpoint.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *HTTPClient) Extract(ctx context.Context, doc []byte) (entity.NFSe, error) {
	body, err := json.Marshal(map[string]string{"pdf_base64": base64.StdEncoding.EncodeToString(doc)})
	if err != nil {
		return entity.NFSe{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return entity.NFSe{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return entity.NFSe{}, fmt.Errorf("post extract: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return entity.NFSe{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(raw))
		}
		return entity.NFSe{}, &APIError{Status: resp.StatusCode, Detail: e.Detail}
	}

	var rec entity.NFSe
	if err := json.Unmarshal(raw, &rec); err != nil {
		return entity.NFSe{}, fmt.Errorf("decode record: %w", err)
	}
	rec.Normalize()
	return rec, nil
}

// GRPCClient calls the nfse.v1.Extraction service.
type GRPCClient struct {
	Conn grpc.ClientConnInterface
}

func (c GRPCClient) Extract(ctx context.Context, doc []byte) (entity.NFSe, error) {
	return server.ExtractRemote(ctx, c.Conn, doc)
}

// LocalClient runs the extraction in-process.
type LocalClient struct {
	Extractor server.Extractor
}

func (c LocalClient) Extract(ctx context.Context, doc []byte) (entity.NFSe, error) {
	res, err := c.Extractor.Extract(ctx, doc)
	if err != nil {
		return entity.NFSe{}, err
	}
	return res.Record, nil
}

var _ server.Extractor = (*core.Processor)(nil)
