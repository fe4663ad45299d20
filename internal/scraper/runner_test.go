package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/book-rank-scraper/internal/fetcher"
	"github.com/maltedev/book-rank-scraper/internal/models"
	"github.com/maltedev/book-rank-scraper/internal/observability"
	"github.com/maltedev/book-rank-scraper/internal/parser"
	"github.com/maltedev/book-rank-scraper/internal/ratelimit"
	"github.com/maltedev/book-rank-scraper/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSink records inserts
type MockSink struct {
	mock.Mock
}

func (m *MockSink) InsertProduct(ctx context.Context, p *models.ProductRecord) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// MockPublisher is a mock for the event publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishInserted(ctx context.Context, runID uuid.UUID, site, pageURL string, p *models.ProductRecord) (string, error) {
	args := m.Called(ctx, runID, site, pageURL, p)
	return args.String(0), args.Error(1)
}

func topPage(start, n int) string {
	var b strings.Builder
	b.WriteString(`<html><head><meta charset="utf-8"></head><body><div class="indent">`)
	for i := start; i < start+n; i++ {
		fmt.Fprintf(&b, `<table><tr class="item">
			<td><a class="nbg" href="#"><img src="//img9.doubanio.com/s%[1]d.jpg"></a></td>
			<td>
				<div class="pl2"><a href="#" title="第%[1]d本书">第%[1]d本书</a></div>
				<p class="pl">作者%[1]d / 出版社 / 2010-1 / %[1]d.50元</p>
				<span class="rating_nums">9.1</span>
				<span class="inq">短评%[1]d</span>
			</td>
		</tr></table>`, i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func newTopServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var start int
		fmt.Sscanf(r.URL.Query().Get("start"), "%d", &start)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, topPage(start, 25))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func noDelay() ratelimit.RateLimiter {
	return ratelimit.NewSimpleRateLimiter(0, 0)
}

func TestRunner_DoubanSinglePage(t *testing.T) {
	var hits atomic.Int32
	srv := newTopServer(t, &hits)

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{25}}
	sink := new(MockSink)
	sink.On("InsertProduct", mock.Anything, mock.AnythingOfType("*models.ProductRecord")).Return(nil)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default(), WithMetrics(metrics))
	summary, err := runner.Run(context.Background(), site)
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 25, summary.Items)
	assert.Equal(t, 25, summary.Inserted)
	assert.Zero(t, summary.Misses)
	assert.NotEqual(t, uuid.Nil, summary.RunID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	sink.AssertNumberOfCalls(t, "InsertProduct", 25)

	first := sink.Calls[0].Arguments.Get(1).(*models.ProductRecord)
	assert.Equal(t, "第25本书", first.Title)
	assert.Equal(t, "https://img9.doubanio.com/s25.jpg", first.Cover)
	assert.Equal(t, "25.50", first.Price)
	assert.Equal(t, 9.1, first.Rate)
	assert.Equal(t, "短评25", first.Description)

	last := sink.Calls[24].Arguments.Get(1).(*models.ProductRecord)
	assert.Equal(t, "第49本书", last.Title)

	assert.Equal(t, 25.0, testutil.ToFloat64(metrics.ProductsInserted.WithLabelValues("douban")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PagesFetched.WithLabelValues("douban")))
}

func TestRunner_PublishesAfterInsert(t *testing.T) {
	var hits atomic.Int32
	srv := newTopServer(t, &hits)

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{0}}
	sink := new(MockSink)
	sink.On("InsertProduct", mock.Anything, mock.Anything).Return(nil)

	pub := new(MockPublisher)
	pageURL := srv.URL + "/top250?start=0"
	pub.On("PublishInserted", mock.Anything, mock.Anything, "douban", pageURL, mock.Anything).
		Return("", errors.New("redis down")).Once()
	pub.On("PublishInserted", mock.Anything, mock.Anything, "douban", pageURL, mock.Anything).
		Return("1-0", nil)

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default(), WithPublisher(pub))
	summary, err := runner.Run(context.Background(), site)

	require.NoError(t, err, "publish failures must not end the run")
	assert.Equal(t, 25, summary.Inserted)
	pub.AssertNumberOfCalls(t, "PublishInserted", 25)
}

func TestRunner_FetchErrorAborts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, topPage(0, 25))
	}))
	defer srv.Close()

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{0, 25, 50}}
	sink := new(MockSink)
	sink.On("InsertProduct", mock.Anything, mock.Anything).Return(nil)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default(), WithMetrics(metrics))
	summary, err := runner.Run(context.Background(), site)

	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrUnexpectedStatus)
	assert.Equal(t, int32(2), calls.Load(), "no page after the failing one is fetched")
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 25, summary.Inserted)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchErrors.WithLabelValues("douban")))
}

func TestRunner_InsertErrorAborts(t *testing.T) {
	var hits atomic.Int32
	srv := newTopServer(t, &hits)

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{0, 25}}
	dbErr := errors.New("failed to insert product: connection refused")

	sink := new(MockSink)
	sink.On("InsertProduct", mock.Anything, mock.Anything).Return(nil).Times(3)
	sink.On("InsertProduct", mock.Anything, mock.Anything).Return(dbErr)

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default())
	summary, err := runner.Run(context.Background(), site)

	require.ErrorIs(t, err, dbErr)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 3, summary.Inserted)
	sink.AssertNumberOfCalls(t, "InsertProduct", 4)
}

func TestRunner_MissesAreCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<div class="indent"><table><tr class="item">
			<td><div class="pl2"><a>无封面</a></div></td>
		</tr></table></div>`)
	}))
	defer srv.Close()

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{0}}
	sink := new(MockSink)
	sink.On("InsertProduct", mock.Anything, mock.MatchedBy(func(p *models.ProductRecord) bool {
		return p.Cover == "" && p.Price == "0.00" && p.Rate == 0 && p.Title == "无封面"
	})).Return(nil).Once()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default(), WithMetrics(metrics))
	summary, err := runner.Run(context.Background(), site)

	require.NoError(t, err)
	sink.AssertExpectations(t)
	assert.Equal(t, 4, summary.Misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SelectorMisses.WithLabelValues("douban", models.FieldCover)))
}

func TestRunner_CancelledContext(t *testing.T) {
	var hits atomic.Int32
	srv := newTopServer(t, &hits)

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{0}}
	sink := new(MockSink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default())
	_, err := runner.Run(ctx, site)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
	sink.AssertNotCalled(t, "InsertProduct", mock.Anything, mock.Anything)
}

func TestRunner_RunAllStopsAtFailingSite(t *testing.T) {
	var hits atomic.Int32
	srv := newTopServer(t, &hits)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	sites := []parser.Site{
		&parser.Douban{BaseURL: failing.URL, Offsets: []int{0}},
		&parser.Douban{BaseURL: srv.URL, Offsets: []int{0}},
	}

	sink := new(MockSink)
	runner := NewRunner(fetcher.New(nil, slog.Default()), sink, noDelay(), slog.Default())
	summaries, err := runner.RunAll(context.Background(), sites)

	require.Error(t, err)
	assert.Len(t, summaries, 1)
	assert.Zero(t, hits.Load())
}

func TestRunner_WaitsBetweenPages(t *testing.T) {
	var hits atomic.Int32
	srv := newTopServer(t, &hits)

	site := &parser.Douban{BaseURL: srv.URL, Offsets: []int{0, 25}}
	sink := NewLogSink(slog.Default())

	runner := NewRunner(fetcher.New(nil, slog.Default()), sink,
		ratelimit.NewSimpleRateLimiter(50*time.Millisecond, 50*time.Millisecond), slog.Default())

	start := time.Now()
	summary, err := runner.Run(context.Background(), site)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 50, sink.Count())
	assert.Equal(t, 50, summary.Inserted)
}

func TestSummaryReport(t *testing.T) {
	s := &Summary{RunID: uuid.New(), Site: "winxuan", Pages: 3, Inserted: 60}

	r := s.Report(nil)
	assert.Equal(t, "winxuan", r.Site)
	assert.Equal(t, 60, r.Inserted)
	assert.Empty(t, r.Error)

	r = s.Report(errors.New("boom"))
	assert.Equal(t, "boom", r.Error)
}

// slowFetcher serves a fixed body after a delay and records when each fetch
// started.
type slowFetcher struct {
	delay   time.Duration
	body    string
	failFor string
	onFetch func(url string)

	mu     sync.Mutex
	starts []time.Time
}

func (f *slowFetcher) Fetch(ctx context.Context, url string) (*fetcher.Page, error) {
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(url)
	}
	if f.failFor != "" && strings.HasPrefix(url, f.failFor) {
		return nil, fmt.Errorf("%w 503 for %s", fetcher.ErrUnexpectedStatus, url)
	}

	time.Sleep(f.delay)
	return &fetcher.Page{URL: url, StatusCode: http.StatusOK, Encoding: "utf-8", Body: []byte(f.body)}, nil
}

// timedSink remembers when each insert happened.
type timedSink struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *timedSink) InsertProduct(ctx context.Context, p *models.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(s.times, time.Now())
	return nil
}

func TestRunner_FullDelayAfterSlowPage(t *testing.T) {
	delay := 100 * time.Millisecond
	f := &slowFetcher{delay: 150 * time.Millisecond, body: topPage(0, 1)}
	sink := &timedSink{}

	site := &parser.Douban{BaseURL: "http://books.test", Offsets: []int{0, 25}}
	runner := NewRunner(f, sink, ratelimit.NewSimpleRateLimiter(delay, delay), slog.Default())

	summary, err := runner.Run(context.Background(), site)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Inserted)
	require.Len(t, f.starts, 2)
	require.Len(t, sink.times, 2)

	gap := f.starts[1].Sub(sink.times[0])
	assert.GreaterOrEqual(t, gap, delay, "second page must start a full delay after the first page finished")
}

func TestRunner_ReportsEachSiteWhenItFinishes(t *testing.T) {
	var (
		mu               sync.Mutex
		reports          []observability.RunReport
		seenBeforeSecond = -1
	)

	f := &slowFetcher{body: topPage(0, 2), failFor: "http://broken.test"}
	f.onFetch = func(url string) {
		if strings.HasPrefix(url, "http://second.test") {
			mu.Lock()
			seenBeforeSecond = len(reports)
			mu.Unlock()
		}
	}

	sites := []parser.Site{
		&parser.Douban{BaseURL: "http://first.test", Offsets: []int{0}},
		&parser.Douban{BaseURL: "http://second.test", Offsets: []int{0}},
		&parser.Douban{BaseURL: "http://broken.test", Offsets: []int{0}},
	}

	runner := NewRunner(f, NewLogSink(slog.Default()), noDelay(), slog.Default(),
		WithReporter(func(r observability.RunReport) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, r)
		}))

	summaries, err := runner.RunAll(context.Background(), sites)
	require.ErrorIs(t, err, fetcher.ErrUnexpectedStatus)
	require.Len(t, summaries, 3)

	assert.Equal(t, 1, seenBeforeSecond, "first site must be reported before the second one starts")
	require.Len(t, reports, 3)
	assert.Equal(t, 2, reports[0].Inserted)
	assert.Empty(t, reports[0].Error)
	assert.Equal(t, summaries[0].RunID.String(), reports[0].RunID)
	assert.False(t, reports[0].FinishedAt.IsZero())
	assert.Contains(t, reports[2].Error, "503")
}

func TestRunner_LogsMissingCoverWithBlock(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", "json")

	f := &slowFetcher{body: `<div class="indent"><table><tr class="item">
		<td><div class="pl2"><a>无封面</a></div></td>
	</tr></table></div>`}
	site := &parser.Douban{BaseURL: "http://books.test", Offsets: []int{0}}

	runner := NewRunner(f, NewLogSink(log), noDelay(), log)
	_, err := runner.Run(context.Background(), site)
	require.NoError(t, err)

	var coverLine, fieldLine map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		switch entry["msg"] {
		case "cover not found":
			coverLine = entry
		case "field not found":
			if fieldLine == nil {
				fieldLine = entry
			}
		}
	}

	require.NotNil(t, coverLine)
	assert.Equal(t, "WARN", coverLine["level"])
	assert.Contains(t, coverLine["html"], "无封面")
	assert.Equal(t, "douban", coverLine["site"])

	require.NotNil(t, fieldLine)
	assert.Equal(t, "DEBUG", fieldLine["level"])
}
