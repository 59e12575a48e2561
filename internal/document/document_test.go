package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/llm"
)

// minimalPDF builds a well-formed PDF with the given number of empty pages.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: 200, B: uint8(y * 4), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeRunner writes a PNG where pdftoppm would and records its arguments.
type fakeRunner struct {
	mu   sync.Mutex
	args [][]string
	png  []byte
	err  error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.args = append(r.args, append([]string{name}, args...))
	r.mu.Unlock()
	if r.err != nil {
		return nil, []byte("Syntax Error: broken"), r.err
	}
	out := args[len(args)-1] + ".png"
	return nil, nil, os.WriteFile(out, r.png, 0o600)
}

func TestCheckSignature(t *testing.T) {
	assert.NoError(t, CheckSignature([]byte("%PDF-1.4 test")))
	assert.NoError(t, CheckSignature([]byte("%PDF-")))

	for _, doc := range [][]byte{nil, []byte("%PDF"), []byte("%pdf-1.4"), []byte(" %PDF-1.4"), []byte("PK\x03\x04")} {
		err := CheckSignature(doc)
		assert.ErrorIs(t, err, common.ErrDocument, "%q", doc)
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("%PDF-1.4 test"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, ContentHash([]byte("%PDF-1.4 test")))
	assert.NotEqual(t, a, ContentHash([]byte("%PDF-1.4 tesT")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentHash(nil))
}

func TestNativeEncoderPassesThrough(t *testing.T) {
	doc := []byte("%PDF-1.4 test")
	att, err := NativeEncoder{}.Encode(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, llm.AttachmentFile, att.Kind)
	assert.Equal(t, "application/pdf", att.MediaType)
	assert.Equal(t, "nfse.pdf", att.Filename)
	assert.Equal(t, doc, att.Data)
	assert.Equal(t, "data:application/pdf;base64,JVBERi0xLjQgdGVzdA==", att.DataURL())
}

func TestPageCount(t *testing.T) {
	n, err := PageCount(minimalPDF(2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = PageCount([]byte("%PDF-1.4 test"))
	assert.Error(t, err)
}

func TestRasterEncoderRendersFirstPage(t *testing.T) {
	runner := &fakeRunner{png: samplePNG(t, 40, 30)}
	enc := NewRasterEncoder(common.EncoderConfig{Zoom: 2.0, Contrast: 50, JPEGQuality: 85}, runner, nil)

	att, err := enc.Encode(context.Background(), minimalPDF(3))
	require.NoError(t, err)

	assert.Equal(t, llm.AttachmentImage, att.Kind)
	assert.Equal(t, "image/jpeg", att.MediaType)
	assert.Equal(t, "high", att.Detail)

	img, err := jpeg.Decode(bytes.NewReader(att.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	require.Len(t, runner.args, 1)
	args := runner.args[0]
	assert.Equal(t, "pdftoppm", args[0])
	assert.Equal(t, []string{"-f", "1", "-l", "1", "-r", "144", "-png", "-singlefile"}, args[1:9])
}

func TestRasterEncoderDocumentErrors(t *testing.T) {
	runner := &fakeRunner{png: samplePNG(t, 4, 4)}
	enc := NewRasterEncoder(common.EncoderConfig{}, runner, nil)

	_, err := enc.Encode(context.Background(), []byte("%PDF-1.4 test"))
	assert.ErrorIs(t, err, common.ErrDocument)

	_, err = enc.Encode(context.Background(), minimalPDF(0))
	assert.ErrorIs(t, err, common.ErrDocument)

	assert.Empty(t, runner.args, "renderer never runs for unreadable documents")
}

func TestRasterEncoderRenderFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	enc := NewRasterEncoder(common.EncoderConfig{}, runner, nil)

	_, err := enc.Encode(context.Background(), minimalPDF(1))
	assert.ErrorIs(t, err, common.ErrDocument)
}

func TestEnhanceProducesGrayscale(t *testing.T) {
	out, err := Enhance(samplePNG(t, 16, 16), 50, 90)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	r, g, b, _ := img.At(8, 8).RGBA()
	assert.InDelta(t, r>>8, g>>8, 4)
	assert.InDelta(t, g>>8, b>>8, 4)

	_, err = Enhance([]byte("not an image"), 50, 90)
	assert.Error(t, err)
}

func TestNewEncoder(t *testing.T) {
	enc, err := NewEncoder(common.EncoderConfig{Strategy: "native"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.StrategyNative, enc.Strategy())

	enc, err = NewEncoder(common.EncoderConfig{Strategy: "raster", Zoom: 1.5}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.StrategyRaster, enc.Strategy())
	assert.Equal(t, 108, enc.(*RasterEncoder).DPI())

	_, err = NewEncoder(common.EncoderConfig{Strategy: "ocr"}, nil, nil)
	assert.Error(t, err)
}

func TestExecRunnerLogsOutcome(t *testing.T) {
	var logs bytes.Buffer
	r := ExecRunner{Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	out, _, err := r.Run(context.Background(), "sh", "-c", "printf ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
	assert.Contains(t, logs.String(), "msg=document.exec.ok")

	logs.Reset()
	_, stderr, err := r.Run(context.Background(), "sh", "-c", "echo bad >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, "bad\n", string(stderr))
	assert.Contains(t, logs.String(), "msg=document.exec.failed")
	assert.Contains(t, logs.String(), "stderr=")
}
