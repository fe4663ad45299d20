package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookscraper"

// Metrics holds the counters the scraper updates while it runs. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	PagesFetched     *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	ItemsExtracted   *prometheus.CounterVec
	ProductsInserted *prometheus.CounterVec
	SelectorMisses   *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Ranking pages fetched successfully",
			},
			[]string{"site"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Ranking pages that could not be fetched",
			},
			[]string{"site"},
		),
		ItemsExtracted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_extracted_total",
				Help:      "Book blocks found on fetched pages",
			},
			[]string{"site"},
		),
		ProductsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "products_inserted_total",
				Help:      "Rows written to the product table",
			},
			[]string{"site"},
		),
		SelectorMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selector_misses_total",
				Help:      "Fields whose selectors matched nothing",
			},
			[]string{"site", "field"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "page_fetch_duration_seconds",
				Help:      "Time spent downloading a ranking page",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"site"},
		),
	}

	reg.MustRegister(
		m.PagesFetched,
		m.FetchErrors,
		m.ItemsExtracted,
		m.ProductsInserted,
		m.SelectorMisses,
		m.FetchDuration,
	)

	return m
}

func (m *Metrics) PageFetched(site string, seconds float64) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(site).Inc()
	m.FetchDuration.WithLabelValues(site).Observe(seconds)
}

func (m *Metrics) FetchFailed(site string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(site).Inc()
}

func (m *Metrics) ItemsFound(site string, n int) {
	if m == nil {
		return
	}
	m.ItemsExtracted.WithLabelValues(site).Add(float64(n))
}

func (m *Metrics) Inserted(site string) {
	if m == nil {
		return
	}
	m.ProductsInserted.WithLabelValues(site).Inc()
}

func (m *Metrics) Missed(site, field string) {
	if m == nil {
		return
	}
	m.SelectorMisses.WithLabelValues(site, field).Inc()
}
