package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/core"
	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
	"github.com/joseph-ayodele/nfse-extractor/internal/server"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() { color.NoColor = true }

// fakeClient answers from doc content: documents containing "fail" error out.
type fakeClient struct {
	calls     atomic.Int32
	cur, peak atomic.Int32
	delay     time.Duration
}

func (c *fakeClient) Extract(ctx context.Context, doc []byte) (entity.NFSe, error) {
	c.calls.Add(1)
	n := c.cur.Add(1)
	defer c.cur.Add(-1)
	for {
		old := c.peak.Load()
		if n <= old || c.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return entity.NFSe{}, ctx.Err()
		}
	}
	if bytes.Contains(doc, []byte("fail")) {
		return entity.NFSe{}, &APIError{Status: 424, Detail: "model unavailable"}
	}
	numero, total := "1234", 100.0
	rec := entity.NFSe{InvoiceNumber: &numero, TotalAmount: &total}
	rec.Normalize()
	return rec, nil
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func TestScanPDFs(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"b.pdf":       "%PDF-1.4",
		"a.PDF":       "%PDF-1.4",
		"notes.txt":   "x",
		".hidden.pdf": "%PDF-1.4",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	got, err := ScanPDFs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.PDF"), filepath.Join(dir, "b.pdf")}, got)

	_, err = ScanPDFs(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunWritesPerFileResults(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"nota1.pdf": "%PDF-1.4 one",
		"nota2.pdf": "%PDF-1.4 fail",
		"fake.pdf":  "hello",
	})
	client := &fakeClient{}

	sum, err := Run(context.Background(), client, dir, Options{Logger: discard})
	require.NoError(t, err)

	require.Len(t, sum.Files, 3)
	assert.Equal(t, 1, sum.Succeeded())
	assert.Equal(t, 2, sum.Failed())
	assert.Equal(t, int32(2), client.calls.Load(), "non-PDF never reaches the client")

	byName := map[string]FileResult{}
	for _, f := range sum.Files {
		byName[f.Name] = f
	}
	assert.ErrorIs(t, byName["fake"].Err, common.ErrDocument)
	var apiErr *APIError
	require.ErrorAs(t, byName["nota2"].Err, &apiErr)
	assert.Equal(t, 424, apiErr.Status)

	ok := byName["nota1"]
	require.True(t, ok.OK())
	assert.Equal(t, filepath.Join(dir, "nota1", "result_nota1.json"), ok.ResultPath)
	copied, err := os.ReadFile(filepath.Join(dir, "nota1", "nota1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 one", string(copied))

	raw, err := os.ReadFile(ok.ResultPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n    \"numero_nota\": \"1234\"")
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, 100.0, m["valor_total"])

	// failed documents still get their folder but no result file
	_, err = os.Stat(filepath.Join(dir, "nota2", "result_nota2.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunRespectsConcurrency(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files[n+".pdf"] = "%PDF-1.4 " + n
	}
	writeFiles(t, dir, files)
	client := &fakeClient{delay: 20 * time.Millisecond}

	sum, err := Run(context.Background(), client, dir, Options{Concurrency: 2, Logger: discard})
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Succeeded())
	assert.LessOrEqual(t, client.peak.Load(), int32(2))
}

func TestRunPerFileTimeout(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"slow.pdf": "%PDF-1.4"})
	client := &fakeClient{delay: time.Second}

	sum, err := Run(context.Background(), client, dir, Options{Timeout: 10 * time.Millisecond, Logger: discard})
	require.NoError(t, err)
	require.Len(t, sum.Files, 1)
	assert.ErrorIs(t, sum.Files[0].Err, context.DeadlineExceeded)
}

func TestRunEmptyDir(t *testing.T) {
	_, err := Run(context.Background(), &fakeClient{}, t.TempDir(), Options{Logger: discard})
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestPrintSummary(t *testing.T) {
	sum := Summary{
		Files: []FileResult{
			{Name: "a", Elapsed: time.Second},
			{Name: "b", Err: errors.New("api status 424: model unavailable")},
		},
		Elapsed: 4 * time.Second,
	}
	var out bytes.Buffer
	PrintSummary(&out, sum)

	s := out.String()
	assert.Contains(t, s, "Total files:       2")
	assert.Contains(t, s, "Succeeded:         1")
	assert.Contains(t, s, "Failed:            1")
	assert.Contains(t, s, "Average per file:  2.00s")
	assert.Contains(t, s, "- b: api status 424: model unavailable")
}

func TestBuildXLSX(t *testing.T) {
	numero, cnpj, total := "77", "12.345.678/0001-90", 250.5
	rec := entity.NFSe{InvoiceNumber: &numero, TotalAmount: &total, Provider: &entity.Party{CNPJ: &cnpj}}
	sum := Summary{Files: []FileResult{
		{Name: "ok", Source: "/in/ok.pdf", Record: &rec, Elapsed: 1500 * time.Millisecond},
		{Name: "bad", Source: "/in/bad.pdf", Err: errors.New("boom")},
	}}

	buf, err := BuildXLSX(sum)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Arquivo", rows[0][0])
	assert.Equal(t, []string{"ok.pdf", "SUCESSO", "77", "", "12.345.678/0001-90"}, rows[1][:5])
	assert.Equal(t, "250.5", rows[1][8])
	assert.Equal(t, "1.5", rows[1][10])
	assert.Equal(t, "FALHA", rows[2][1])
	assert.Equal(t, "boom", rows[2][11])

	assert.NotContains(t, f.GetSheetList(), "Sheet1")
}

func TestLoadTest(t *testing.T) {
	client := &fakeClient{delay: 5 * time.Millisecond}
	res, err := LoadTest(context.Background(), client, []byte("%PDF-1.4"), LoadOptions{Requests: 6, Logger: discard})
	require.NoError(t, err)

	assert.Equal(t, 6, res.Requests)
	assert.Equal(t, 6, res.Successes)
	assert.Equal(t, 0, res.Failures)
	assert.Equal(t, int32(6), client.calls.Load())
	assert.LessOrEqual(t, res.Min, res.Mean)
	assert.LessOrEqual(t, res.Mean, res.Max)
	assert.GreaterOrEqual(t, res.Min, 5*time.Millisecond)
}

func TestLoadTestCountsFailures(t *testing.T) {
	res, err := LoadTest(context.Background(), &fakeClient{}, []byte("%PDF-1.4 fail"), LoadOptions{Requests: 3, Logger: discard})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Successes)
	assert.Equal(t, 3, res.Failures)
	assert.Len(t, res.Errors, 3)

	var out bytes.Buffer
	PrintLoadResult(&out, res)
	assert.Contains(t, out.String(), "Failures:   3")
}

func TestLoadTestPacing(t *testing.T) {
	start := time.Now()
	_, err := LoadTest(context.Background(), &fakeClient{}, []byte("%PDF-1.4"), LoadOptions{Requests: 4, RPS: 50, Logger: discard})
	require.NoError(t, err)
	// burst of one, then three 20ms gaps
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

type resultExtractor struct{}

func (resultExtractor) Extract(_ context.Context, doc []byte) (core.Result, error) {
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		return core.Result{}, common.NewDocumentError("missing %PDF- signature", nil)
	}
	numero := "9"
	rec := entity.NFSe{InvoiceNumber: &numero}
	rec.Normalize()
	return core.Result{Record: rec}, nil
}

func TestHTTPClientAgainstServer(t *testing.T) {
	svc := server.NewHTTPService(resultExtractor{}, common.ServerConfig{}, discard)
	ts := httptest.NewServer(svc.Handler())
	defer ts.Close()

	client := NewHTTPClient(ts.URL+"/", ts.Client())
	rec, err := client.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "9", *rec.InvoiceNumber)
	assert.NotNil(t, rec.Items)

	_, err = client.Extract(context.Background(), []byte("nope"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.True(t, strings.Contains(apiErr.Detail, "%PDF-"))
}

func TestLocalClient(t *testing.T) {
	rec, err := LocalClient{Extractor: resultExtractor{}}.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "9", *rec.InvoiceNumber)
}
