package scraper

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/book-rank-scraper/internal/fetcher"
	"github.com/maltedev/book-rank-scraper/internal/models"
	"github.com/maltedev/book-rank-scraper/internal/normalize"
	"github.com/maltedev/book-rank-scraper/internal/observability"
	"github.com/maltedev/book-rank-scraper/internal/parser"
	"github.com/maltedev/book-rank-scraper/internal/ratelimit"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Page, error)
}

type Sink interface {
	InsertProduct(ctx context.Context, p *models.ProductRecord) error
}

type Publisher interface {
	PublishInserted(ctx context.Context, runID uuid.UUID, site, pageURL string, p *models.ProductRecord) (string, error)
}

// Summary counts what one site run did. It is returned even when the run
// stopped early.
type Summary struct {
	RunID      uuid.UUID
	Site       string
	Pages      int
	Items      int
	Inserted   int
	Misses     int
	StartedAt  time.Time
	FinishedAt time.Time
}

func (s *Summary) Report(err error) observability.RunReport {
	r := observability.RunReport{
		RunID:      s.RunID.String(),
		Site:       s.Site,
		Pages:      s.Pages,
		Items:      s.Items,
		Inserted:   s.Inserted,
		Misses:     s.Misses,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

type Runner struct {
	fetcher   Fetcher
	sink      Sink
	limiter   ratelimit.RateLimiter
	publisher Publisher
	metrics   *observability.Metrics
	reporter  func(observability.RunReport)
	logger    *slog.Logger
}

type Option func(*Runner)

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithReporter receives each site's report as soon as that site finishes,
// successfully or not.
func WithReporter(fn func(observability.RunReport)) Option {
	return func(r *Runner) { r.reporter = fn }
}

func NewRunner(f Fetcher, sink Sink, limiter ratelimit.RateLimiter, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		fetcher: f,
		sink:    sink,
		limiter: limiter,
		logger:  logger.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll runs the sites in order and stops at the first failing one. The
// summaries of every site that started are returned.
func (r *Runner) RunAll(ctx context.Context, sites []parser.Site) ([]*Summary, error) {
	summaries := make([]*Summary, 0, len(sites))
	for _, site := range sites {
		summary, err := r.Run(ctx, site)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

// Run walks the site's page list. Each extracted item is normalized and
// inserted before the next one is looked at. The first fetch, parse or
// insert error ends the run.
func (r *Runner) Run(ctx context.Context, site parser.Site) (summary *Summary, err error) {
	summary = &Summary{
		RunID:     uuid.New(),
		Site:      site.Name(),
		StartedAt: time.Now(),
	}
	defer func() {
		summary.FinishedAt = time.Now()
		if r.reporter != nil {
			r.reporter(summary.Report(err))
		}
	}()

	logger := r.logger.With("site", site.Name(), "run_id", summary.RunID)
	logger.Info("starting site run", "pages", len(site.Pages()))

	for _, pageURL := range site.Pages() {
		if err := r.limiter.Wait(ctx); err != nil {
			return summary, fmt.Errorf("failed to wait before %s: %w", pageURL, err)
		}

		if err := r.scrapePage(ctx, logger, site, pageURL, summary); err != nil {
			logger.Error("site run aborted", "url", pageURL, "error", err)
			return summary, err
		}
	}

	logger.Info("site run completed",
		"pages", summary.Pages,
		"items", summary.Items,
		"inserted", summary.Inserted,
		"misses", summary.Misses,
	)
	return summary, nil
}

func (r *Runner) scrapePage(ctx context.Context, logger *slog.Logger, site parser.Site, pageURL string, summary *Summary) error {
	start := time.Now()
	page, err := r.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		r.metrics.FetchFailed(site.Name())
		return err
	}
	r.metrics.PageFetched(site.Name(), time.Since(start).Seconds())

	doc, err := page.DocumentAs(cmp.Or(site.Encoding(), page.Encoding))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}

	items := site.Extract(doc)
	summary.Pages++
	summary.Items += len(items)
	r.metrics.ItemsFound(site.Name(), len(items))
	logger.Info("processing page", "url", pageURL, "items", len(items))

	for i, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		summary.Misses += r.logMisses(logger, site.Name(), pageURL, i, item)

		record := normalize.Record(item)
		if err := r.sink.InsertProduct(ctx, record); err != nil {
			return err
		}
		summary.Inserted++
		r.metrics.Inserted(site.Name())
		logger.Info("inserted product", "title", record.Title, "price", record.Price)

		if r.publisher != nil {
			if _, err := r.publisher.PublishInserted(ctx, summary.RunID, site.Name(), pageURL, record); err != nil {
				logger.Warn("failed to publish event", "title", record.Title, "error", err)
			}
		}
	}

	return nil
}

func (r *Runner) logMisses(logger *slog.Logger, site, pageURL string, index int, item models.RawItem) int {
	for _, field := range item.Missing {
		r.metrics.Missed(site, field)
		if field == models.FieldCover {
			logger.Warn("cover not found", "url", pageURL, "index", index, "html", item.Block)
			continue
		}
		logger.Debug("field not found", "field", field, "url", pageURL, "index", index)
	}
	return len(item.Missing)
}
