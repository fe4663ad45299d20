package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

type Options struct {
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
		Timeout:   10 * time.Second,
	}
}

// Page is a fetched response body together with the encoding it was sent in.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Encoding    string
	Body        []byte
}

type Fetcher struct {
	client *resty.Client
	logger *slog.Logger
}

func New(opts *Options, logger *slog.Logger) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetHeaders(opts.Headers)

	return &Fetcher{
		client: client,
		logger: logger.With("component", "fetcher"),
	}
}

// Fetch issues one GET. Any status outside 2xx is an error; there is no retry.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	start := time.Now()

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w %d for %s", ErrUnexpectedStatus, resp.StatusCode(), url)
	}

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")
	_, name, certain := charset.DetermineEncoding(body, contentType)

	f.logger.Debug("fetched page",
		"url", url,
		"status", resp.StatusCode(),
		"bytes", len(body),
		"encoding", name,
		"encoding_certain", certain,
		"duration", time.Since(start))

	return &Page{
		URL:         url,
		StatusCode:  resp.StatusCode(),
		ContentType: contentType,
		Encoding:    name,
		Body:        body,
	}, nil
}

// Document parses the page decoding it with the detected encoding.
func (p *Page) Document() (*goquery.Document, error) {
	return p.DocumentAs(p.Encoding)
}

// DocumentAs parses the page decoding it with the named encoding.
func (p *Page) DocumentAs(encoding string) (*goquery.Document, error) {
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", encoding, err)
	}

	r := transform.NewReader(bytes.NewReader(p.Body), enc.NewDecoder())
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML from %s: %w", p.URL, err)
	}

	return doc, nil
}
