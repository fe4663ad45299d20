package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/book-rank-scraper/internal/config"
	"github.com/maltedev/book-rank-scraper/internal/database"
	"github.com/maltedev/book-rank-scraper/pkg/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "bookscraper",
	Short:         "bookscraper scrapes book ranking pages into the product table.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the selected command and returns the process exit
// code. Commands return their errors so deferred cleanup runs first.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	return cfg, log, nil
}

func databaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	}
}
