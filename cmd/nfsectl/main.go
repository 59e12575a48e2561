package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/nfse-extractor/internal/app"
	"github.com/joseph-ayodele/nfse-extractor/internal/batch"
	"github.com/joseph-ayodele/nfse-extractor/internal/common"
)

func main() {
	cliApp := &cli.App{
		Name:  "nfsectl",
		Usage: "extract NFS-e data from PDFs, in-process or against a running nfsed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file",
				EnvVars: []string{"NFSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "server",
				Value: "http://localhost:8000",
				Usage: "base URL of the nfsed HTTP endpoint",
			},
			&cli.StringFlag{
				Name:  "grpc",
				Usage: "address of the nfsed gRPC endpoint; takes precedence over --server",
			},
			&cli.BoolFlag{
				Name:  "local",
				Usage: "run the extraction in-process instead of calling a server",
			},
		},
		Before: func(c *cli.Context) error {
			return common.LoadDotEnv()
		},
		Commands: []*cli.Command{
			{
				Name:  "extract",
				Usage: "extract one PDF and print the record as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "PDF to extract"},
				},
				Action: runExtract,
			},
			{
				Name:  "batch",
				Usage: "extract every PDF in a directory, writing result_<name>.json next to each copy",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Required: true, Usage: "input directory"},
					&cli.IntFlag{Name: "concurrency", Value: batch.DefaultConcurrency, Usage: "documents in flight"},
					&cli.DurationFlag{Name: "timeout", Value: batch.DefaultTimeout, Usage: "per-document timeout"},
					&cli.StringFlag{Name: "report", Usage: "XLSX report path (default <dir>/report.xlsx)"},
				},
				Action: runBatch,
			},
			{
				Name:  "load",
				Usage: "send the same PDF concurrently and report latency",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "sample PDF"},
					&cli.IntFlag{Name: "requests", Aliases: []string{"n"}, Value: batch.DefaultLoadRequests, Usage: "number of requests"},
					&cli.DurationFlag{Name: "timeout", Value: batch.DefaultLoadTimeout, Usage: "per-request timeout"},
					&cli.Float64Flag{Name: "rps", Usage: "pace request starts; 0 sends all at once"},
				},
				Action: runLoad,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nfsectl:", err)
		os.Exit(1)
	}
}

// setup loads config and the logger, then picks the client selected by the
// global flags. The returned cleanup is never nil.
func setup(c *cli.Context) (batch.Client, *slog.Logger, func(), error) {
	cfg, err := common.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, func() {}, err
	}
	logger, closeLog, err := common.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, func() {}, err
	}
	cleanup := func() { _ = closeLog() }

	switch {
	case c.String("grpc") != "":
		conn, err := grpc.NewClient(c.String("grpc"), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("dial grpc: %w", err)
		}
		return batch.GRPCClient{Conn: conn}, logger, func() { _ = conn.Close(); cleanup() }, nil
	case c.Bool("local"):
		proc, closeApp, err := app.Build(c.Context, cfg, logger)
		if err != nil {
			return nil, nil, cleanup, err
		}
		return batch.LocalClient{Extractor: proc}, logger, func() { closeApp(); cleanup() }, nil
	default:
		return batch.NewHTTPClient(c.String("server"), nil), logger, cleanup, nil
	}
}

func runExtract(c *cli.Context) error {
	doc, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}
	client, _, cleanup, err := setup(c)
	defer cleanup()
	if err != nil {
		return err
	}

	rec, err := client.Extract(c.Context, doc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rec)
}

func runBatch(c *cli.Context) error {
	client, logger, cleanup, err := setup(c)
	defer cleanup()
	if err != nil {
		return err
	}

	dir := c.String("dir")
	sum, err := batch.Run(c.Context, client, dir, batch.Options{
		Concurrency: c.Int("concurrency"),
		Timeout:     c.Duration("timeout"),
		Logger:      logger,
	})
	if err != nil {
		if errors.Is(err, batch.ErrNoDocuments) {
			logger.Warn("batch.empty", "dir", dir)
			return nil
		}
		return err
	}
	batch.PrintSummary(c.App.Writer, sum)

	report := c.String("report")
	if report == "" {
		report = filepath.Join(dir, "report.xlsx")
	}
	if err := batch.WriteXLSX(report, sum); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Info("batch.report_written", "path", report)
	if sum.Failed() > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d documents failed", sum.Failed(), len(sum.Files)), 1)
	}
	return nil
}

func runLoad(c *cli.Context) error {
	doc, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}
	client, logger, cleanup, err := setup(c)
	defer cleanup()
	if err != nil {
		return err
	}

	res, err := batch.LoadTest(c.Context, client, doc, batch.LoadOptions{
		Requests: c.Int("requests"),
		Timeout:  c.Duration("timeout"),
		RPS:      c.Float64("rps"),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	batch.PrintLoadResult(c.App.Writer, res)
	return nil
}
