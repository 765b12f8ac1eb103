package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/bookwise/config"
	"github.com/aluiziolira/bookwise/models"
	"github.com/aluiziolira/bookwise/pipeline"
)

// ExportCmd searches each query and writes every offer found to a file.
type ExportCmd struct {
	Query  []string `arg:"" help:"Queries to export. Each one is searched separately."`
	Output string   `short:"o" help:"Output file. Defaults to export.file."`
	Format string   `help:"Output format: csv, json or dual. Defaults to export.format."`
}

func (c *ExportCmd) Run(a *app) error {
	cfg := *a.cfg
	if c.Output != "" {
		cfg.ExportFile = c.Output
	}
	if c.Format != "" {
		cfg.ExportFormat = strings.ToLower(c.Format)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	books, err := searchAll(a.ctx, a, c.Query, cfg.SearchLimit, cfg.ExportWorkers)
	if err != nil {
		return err
	}
	summary, err := exportBooks(a.ctx, a, &cfg, books)
	if err != nil {
		return err
	}
	printExportSummary(a.out, summary)
	return nil
}

// searchAll runs the queries concurrently and returns the books in query
// order. Blank queries are skipped.
func searchAll(ctx context.Context, a *app, queries []string, limit, workers int) ([]models.Book, error) {
	results := make([][]models.Book, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		g.Go(func() error {
			set, err := a.backend.SearchBooks(gctx, q, limit)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			a.logger.Debug("export search done",
				slog.String("query", q),
				slog.Int("results", len(set.Results)),
			)
			results[i] = set.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var books []models.Book
	for _, r := range results {
		books = append(books, r...)
	}
	return books, nil
}

type exportSummary struct {
	pipeline.Stats
	Duration time.Duration
	Output   string
}

// exportBooks writes the offers of books to the configured export file.
func exportBooks(ctx context.Context, a *app, cfg *config.Config, books []models.Book) (exportSummary, error) {
	start := time.Now()
	writer, err := pipeline.NewWriter(cfg.ExportFormat, cfg.ExportFile)
	if err != nil {
		return exportSummary{}, fmt.Errorf("creating writer: %w", err)
	}

	stats, err := pipeline.Export(ctx, writer, cfg, books,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
	)
	if closeErr := writer.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close writer: %w", closeErr)
	}
	if err != nil {
		return exportSummary{}, err
	}
	return exportSummary{Stats: stats, Duration: time.Since(start), Output: cfg.ExportFile}, nil
}

func printExportSummary(w io.Writer, s exportSummary) {
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Export complete")
	fmt.Fprintf(w, "  Rows written:  %d\n", s.Written)
	if s.Duplicates > 0 {
		fmt.Fprintf(w, "  Duplicates:    %d\n", s.Duplicates)
	}
	if s.Invalid > 0 {
		fmt.Fprintf(w, "  Invalid rows:  %d\n", s.Invalid)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", s.Output)
	fmt.Fprintln(w, separator)
}
