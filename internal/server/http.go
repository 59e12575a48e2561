package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/core"
)

// Extractor is the part of core.Processor the endpoints call.
type Extractor interface {
	Extract(ctx context.Context, doc []byte) (core.Result, error)
}

type extractRequest struct {
	PDFBase64 string `json:"pdf_base64"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp float64 `json:"timestamp"`
}

// HTTPService serves POST /extract and GET /health.
type HTTPService struct {
	extractor Extractor
	cfg       common.ServerConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewHTTPService(extractor Extractor, cfg common.ServerConfig, logger *slog.Logger) *HTTPService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPService{extractor: extractor, cfg: cfg, logger: logger, now: time.Now}
}

// Handler returns the routed handler wrapped in the request middleware.
func (s *HTTPService) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", s.handleExtract)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.middleware(mux)
}

func (s *HTTPService) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	body := r.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	var req extractRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PDFBase64 == "" {
		s.writeError(w, r, http.StatusBadRequest, "pdf_base64 is required")
		return
	}
	doc, err := base64.StdEncoding.DecodeString(req.PDFBase64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "pdf_base64 is not valid base64")
		return
	}

	res, err := s.extractor.Extract(ctx, doc)
	if err != nil {
		s.writeError(w, r, common.HTTPStatus(err), errorDetail(err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, res.Record)
}

func (s *HTTPService) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.writeJSON(w, r, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: float64(now.UnixNano()) / 1e9,
	})
}

// errorDetail keeps internal failures opaque to the client.
func errorDetail(err error) string {
	if common.HTTPStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func (s *HTTPService) writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	s.writeJSON(w, r, status, errorResponse{Detail: detail})
}

func (s *HTTPService) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WarnContext(r.Context(), "http.write_failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// middleware attaches a request id, logs start and end of every request and
// turns panics into 500 responses.
func (s *HTTPService) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = common.WithRequestID(ctx, id)
		}
		ctx, id := common.EnsureRequestID(ctx)
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(ctx)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.logger.InfoContext(ctx, "http.request.start", "method", r.Method, "path", r.URL.Path)

		defer func() {
			if p := recover(); p != nil {
				s.logger.ErrorContext(ctx, "http.request.panic", "panic", fmt.Sprint(p))
				s.writeError(rec, r, http.StatusInternalServerError, "internal error")
			}
			elapsed := time.Since(start)
			s.logger.InfoContext(ctx, "http.request.end",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"elapsed_ms", elapsed.Milliseconds(),
			)
			if s.cfg.SlowRequest > 0 && elapsed > s.cfg.SlowRequest {
				s.logger.WarnContext(ctx, "http.request.slow",
					"path", r.URL.Path, "elapsed_ms", elapsed.Milliseconds())
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

// NewHTTPServer binds the service to an http.Server with the configured timeouts.
func NewHTTPServer(svc *HTTPService, cfg common.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
