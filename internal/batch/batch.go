package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/nfse-extractor/internal/document"
	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
)

const (
	DefaultConcurrency = 10
	DefaultTimeout     = 120 * time.Second
)

var ErrNoDocuments = errors.New("no .pdf files found")

type Options struct {
	Concurrency int
	Timeout     time.Duration // per document
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// FileResult is the outcome for one PDF of a batch.
type FileResult struct {
	Name       string // file name without extension
	Source     string
	ResultPath string
	Record     *entity.NFSe
	Err        error
	Elapsed    time.Duration
}

func (r FileResult) OK() bool { return r.Err == nil }

type Summary struct {
	Dir     string
	Files   []FileResult
	Elapsed time.Duration
}

func (s Summary) Succeeded() int {
	n := 0
	for _, f := range s.Files {
		if f.OK() {
			n++
		}
	}
	return n
}

func (s Summary) Failed() int { return len(s.Files) - s.Succeeded() }

// AveragePerFile divides the wall-clock batch time by the number of files.
func (s Summary) AveragePerFile() time.Duration {
	if len(s.Files) == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(len(s.Files))
}

// ScanPDFs lists the top-level *.pdf files of dir, sorted by name.
func ScanPDFs(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("input directory is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Run extracts every PDF in dir through client. Each document gets its own
// folder <dir>/<name>/ holding a copy of the PDF and result_<name>.json.
// Per-file failures are recorded in the summary, not returned.
func Run(ctx context.Context, client Client, dir string, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	files, err := ScanPDFs(dir)
	if err != nil {
		return Summary{Dir: dir}, err
	}
	if len(files) == 0 {
		return Summary{Dir: dir}, ErrNoDocuments
	}

	opts.Logger.Info("batch.start", "dir", dir, "files", len(files), "concurrency", opts.Concurrency)
	start := time.Now()
	results := make([]FileResult, len(files))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, path := range files {
		g.Go(func() error {
			results[i] = processFile(ctx, client, dir, path, opts)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Dir: dir, Files: results, Elapsed: time.Since(start)}
	opts.Logger.Info("batch.done",
		"files", len(results),
		"succeeded", sum.Succeeded(),
		"failed", sum.Failed(),
		"elapsed_ms", sum.Elapsed.Milliseconds(),
	)
	return sum, nil
}

func processFile(ctx context.Context, client Client, dir, path string, opts Options) FileResult {
	start := time.Now()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res := FileResult{Name: name, Source: path}
	fail := func(err error) FileResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		opts.Logger.Error("batch.file_failed", "file", filepath.Base(path), "error", err)
		return res
	}

	doc, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}
	if err := document.CheckSignature(doc); err != nil {
		return fail(err)
	}

	target := filepath.Join(dir, name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fail(fmt.Errorf("create output dir: %w", err))
	}
	if err := copyFile(path, filepath.Join(target, filepath.Base(path)), doc); err != nil {
		return fail(err)
	}

	opts.Logger.Info("batch.file_start", "file", filepath.Base(path))
	fctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	rec, err := client.Extract(fctx, doc)
	if err != nil {
		return fail(err)
	}

	out := filepath.Join(target, "result_"+name+".json")
	if err := writeJSON(out, rec); err != nil {
		return fail(err)
	}
	res.Record = &rec
	res.ResultPath = out
	res.Elapsed = time.Since(start)
	opts.Logger.Info("batch.file_ok", "file", filepath.Base(path), "elapsed_ms", res.Elapsed.Milliseconds())
	return res
}

// copyFile writes data to dst and carries over the source modification time.
func copyFile(src, dst string, data []byte) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("copy pdf: %w", err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func writeJSON(path string, rec entity.NFSe) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		f.Close()
		return fmt.Errorf("write result: %w", err)
	}
	return f.Close()
}
