package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultLoadRequests = 15
	DefaultLoadTimeout  = 300 * time.Second
)

type LoadOptions struct {
	Requests int
	Timeout  time.Duration // per request
	RPS      float64       // 0 fires every request at once
	Logger   *slog.Logger
}

// LoadResult aggregates the latency of a load run. Min, Max and Mean cover
// every request, failed ones included.
type LoadResult struct {
	Requests  int
	Successes int
	Failures  int
	Mean      time.Duration
	Max       time.Duration
	Min       time.Duration
	Elapsed   time.Duration
	Errors    []error
}

// LoadTest sends the same document opts.Requests times concurrently.
func LoadTest(ctx context.Context, client Client, doc []byte, opts LoadOptions) (LoadResult, error) {
	if opts.Requests <= 0 {
		opts.Requests = DefaultLoadRequests
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultLoadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	opts.Logger.Info("load.start", "requests", opts.Requests, "rps", opts.RPS)
	start := time.Now()
	durations := make([]time.Duration, opts.Requests)
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for i := 0; i < opts.Requests; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				_ = g.Wait()
				return LoadResult{}, fmt.Errorf("pacing: %w", err)
			}
		}
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, opts.Timeout)
			defer cancel()

			t0 := time.Now()
			_, err := client.Extract(rctx, doc)
			durations[i] = time.Since(t0)
			if err != nil {
				opts.Logger.Error("load.request_failed", "worker", i, "elapsed_ms", durations[i].Milliseconds(), "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			opts.Logger.Info("load.request_ok", "worker", i, "elapsed_ms", durations[i].Milliseconds())
			return nil
		})
	}
	_ = g.Wait()

	res := LoadResult{
		Requests: opts.Requests,
		Failures: len(errs),
		Elapsed:  time.Since(start),
		Errors:   errs,
		Min:      durations[0],
	}
	res.Successes = res.Requests - res.Failures
	var total time.Duration
	for _, d := range durations {
		total += d
		res.Max = max(res.Max, d)
		res.Min = min(res.Min, d)
	}
	res.Mean = total / time.Duration(len(durations))
	return res, ctx.Err()
}

// PrintLoadResult writes the end-of-run report.
func PrintLoadResult(w io.Writer, r LoadResult) {
	rule := strings.Repeat("=", 50)
	fmt.Fprintln(w, rule)
	color.New(color.Bold).Fprintln(w, "LOAD TEST RESULT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Requests:   %d\n", r.Requests)
	color.New(color.FgGreen).Fprintf(w, "Successes:  %d\n", r.Successes)
	failures := color.New(color.FgRed)
	if r.Failures == 0 {
		failures = color.New(color.Reset)
	}
	failures.Fprintf(w, "Failures:   %d\n", r.Failures)
	fmt.Fprintf(w, "Mean time:  %.2fs\n", r.Mean.Seconds())
	fmt.Fprintf(w, "Max time:   %.2fs\n", r.Max.Seconds())
	fmt.Fprintf(w, "Min time:   %.2fs\n", r.Min.Seconds())
	fmt.Fprintln(w, rule)
}
