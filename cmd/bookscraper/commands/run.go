package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/maltedev/book-rank-scraper/internal/database"
	"github.com/maltedev/book-rank-scraper/internal/events"
	"github.com/maltedev/book-rank-scraper/internal/fetcher"
	"github.com/maltedev/book-rank-scraper/internal/observability"
	"github.com/maltedev/book-rank-scraper/internal/parser"
	"github.com/maltedev/book-rank-scraper/internal/ratelimit"
	"github.com/maltedev/book-rank-scraper/internal/scraper"
	"github.com/maltedev/book-rank-scraper/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	runDryRun *bool
	runOut    *string
)

func init() {
	runDryRun = runCmd.Flags().Bool("dry-run", false, "Log records instead of inserting them.")
	runOut = runCmd.Flags().String("out", "", "Append records as JSON lines to this file instead of inserting them.")
	runCmd.MarkFlagsMutuallyExclusive("dry-run", "out")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:       "run [site...] [--dry-run] [--out <path/to/products.jsonl>]",
	Short:     "Scrapes the given ranking sites, or all of them, into the product table.",
	ValidArgs: parser.DefaultRegistry().Names(),
	RunE:      runScrape,
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	sites, err := parser.DefaultRegistry().Select(args)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var server *observability.Server
	if cfg.Metrics.Port != "" {
		server = observability.NewServer(cfg.Metrics.Port, reg, logger)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	var sink scraper.Sink
	switch {
	case *runDryRun:
		logger.Info("dry run, nothing will be written")
		sink = scraper.NewLogSink(logger)
	case *runOut != "":
		fileSink, err := storage.NewFileSink(*runOut)
		if err != nil {
			return err
		}
		defer func() {
			if err := fileSink.Close(); err != nil {
				logger.Error("failed to close output file", "path", *runOut, "error", err)
			}
		}()
		logger.Info("writing records to file", "path", *runOut)
		sink = fileSink
	default:
		db, err := database.New(ctx, databaseConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		sink = db
	}

	opts := []scraper.Option{scraper.WithMetrics(metrics)}
	if server != nil {
		opts = append(opts, scraper.WithReporter(server.Record))
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, events may be lost", "addr", cfg.Redis.Addr, "error", err)
		}
		opts = append(opts, scraper.WithPublisher(events.NewPublisher(client, cfg.Redis.Stream, logger)))
	}

	f := fetcher.New(&fetcher.Options{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.Scraper.Timeout,
	}, logger)
	limiter := ratelimit.NewSimpleRateLimiter(cfg.Scraper.PageDelayMin, cfg.Scraper.PageDelayMax)

	runner := scraper.NewRunner(f, sink, limiter, logger, opts...)
	summaries, runErr := runner.RunAll(ctx, sites)

	inserted := 0
	for _, s := range summaries {
		inserted += s.Inserted
	}
	if c, ok := sink.(interface{ Count() int }); ok {
		logger.Info("records written by sink", "count", c.Count())
	}

	if runErr != nil {
		return fmt.Errorf("scrape failed after %d inserts: %w", inserted, runErr)
	}

	logger.Info("scrape finished", "sites", len(summaries), "inserted", inserted)
	return nil
}
