package scraper

import (
	"context"
	"log/slog"

	"github.com/maltedev/book-rank-scraper/internal/models"
)

// LogSink logs records instead of writing them. Used for dry runs.
type LogSink struct {
	logger *slog.Logger
	count  int
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "dry_run")}
}

func (s *LogSink) InsertProduct(ctx context.Context, p *models.ProductRecord) error {
	s.count++
	s.logger.Info("would insert product",
		"title", p.Title,
		"price", p.Price,
		"rate", p.Rate,
		"cover", p.Cover,
		"detail", p.Detail,
	)
	return nil
}

func (s *LogSink) Count() int {
	return s.count
}
