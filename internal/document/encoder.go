package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/llm"
)

// Encoder turns document bytes into the attachment sent to the model.
// Implementations are pure functions of the bytes and safe for concurrent use.
type Encoder interface {
	Strategy() llm.Strategy
	Encode(ctx context.Context, doc []byte) (llm.Attachment, error)
}

const (
	nativeFilename = "nfse.pdf"
	rasterDetail   = "high"
)

// NewEncoder builds the encoder selected by cfg.Strategy.
func NewEncoder(cfg common.EncoderConfig, runner Runner, logger *slog.Logger) (Encoder, error) {
	switch llm.Strategy(cfg.Strategy) {
	case llm.StrategyNative, "":
		return NativeEncoder{}, nil
	case llm.StrategyRaster:
		return NewRasterEncoder(cfg, runner, logger), nil
	default:
		return nil, fmt.Errorf("unknown encoder strategy %q", cfg.Strategy)
	}
}

// NativeEncoder passes the PDF through untouched.
type NativeEncoder struct{}

func (NativeEncoder) Strategy() llm.Strategy { return llm.StrategyNative }

func (NativeEncoder) Encode(_ context.Context, doc []byte) (llm.Attachment, error) {
	return llm.Attachment{
		Kind:      llm.AttachmentFile,
		MediaType: "application/pdf",
		Filename:  nativeFilename,
		Data:      doc,
	}, nil
}

// RasterEncoder renders the first page with pdftoppm and sends it as an
// enhanced grayscale JPEG.
type RasterEncoder struct {
	runner   Runner
	pdftoppm string
	zoom     float64
	contrast float64
	quality  int
	logger   *slog.Logger
}

func NewRasterEncoder(cfg common.EncoderConfig, runner Runner, logger *slog.Logger) *RasterEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	e := &RasterEncoder{
		runner:   runner,
		pdftoppm: cfg.Pdftoppm,
		zoom:     cfg.Zoom,
		contrast: cfg.Contrast,
		quality:  cfg.JPEGQuality,
		logger:   logger,
	}
	if e.pdftoppm == "" {
		e.pdftoppm = "pdftoppm"
	}
	if e.zoom <= 0 {
		e.zoom = 2.0
	}
	if e.quality <= 0 || e.quality > 100 {
		e.quality = 85
	}
	return e
}

func (e *RasterEncoder) Strategy() llm.Strategy { return llm.StrategyRaster }

// DPI is the render resolution; PDF user space is 72 units per inch.
func (e *RasterEncoder) DPI() int {
	return int(math.Round(72 * e.zoom))
}

func (e *RasterEncoder) Encode(ctx context.Context, doc []byte) (llm.Attachment, error) {
	start := time.Now()

	pages, err := PageCount(doc)
	if err != nil {
		return llm.Attachment{}, common.NewDocumentError("cannot open pdf", err)
	}
	if pages == 0 {
		return llm.Attachment{}, common.NewDocumentError("document has no pages", nil)
	}

	dir, err := os.MkdirTemp("", "nfse-raster-*")
	if err != nil {
		return llm.Attachment{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.WarnContext(ctx, "document.raster.cleanup_failed", "dir", dir, "error", err)
		}
	}()

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, doc, 0o600); err != nil {
		return llm.Attachment{}, fmt.Errorf("write temp pdf: %w", err)
	}
	outBase := filepath.Join(dir, "page")

	_, stderr, err := e.runner.Run(ctx, e.pdftoppm,
		"-f", "1", "-l", "1",
		"-r", strconv.Itoa(e.DPI()),
		"-png", "-singlefile",
		in, outBase,
	)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || ctx.Err() != nil {
			return llm.Attachment{}, fmt.Errorf("run %s: %w", e.pdftoppm, err)
		}
		return llm.Attachment{}, common.NewDocumentError("cannot render first page: "+truncate(string(stderr), 512), err)
	}

	png, err := os.ReadFile(outBase + ".png")
	if err != nil {
		return llm.Attachment{}, fmt.Errorf("read rendered page: %w", err)
	}
	jpeg, err := Enhance(png, e.contrast, e.quality)
	if err != nil {
		return llm.Attachment{}, common.NewDocumentError("cannot process rendered page", err)
	}

	e.logger.DebugContext(ctx, "document.raster.ok",
		"pages", pages,
		"dpi", e.DPI(),
		"png_bytes", len(png),
		"jpeg_bytes", len(jpeg),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Attachment{
		Kind:      llm.AttachmentImage,
		MediaType: "image/jpeg",
		Detail:    rasterDetail,
		Data:      jpeg,
	}, nil
}
