// Package normalize turns raw extracted strings into product records.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/book-rank-scraper/internal/models"
)

const (
	TitleMaxLen  = 50
	DetailMaxLen = 500
	CoverMaxLen  = 500

	DefaultPrice = "0.00"
)

var (
	pricePattern = regexp.MustCompile(`\d+\.\d+|\d+`)
	ratePattern  = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// CompleteURL prefixes scheme-relative URLs with https.
func CompleteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// Truncate cuts s to at most n characters. Characters are runes, so multi-byte
// titles are never split mid-character.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ExtractPrice returns the first decimal or integer found in text, or
// DefaultPrice when there is none.
func ExtractPrice(text string) string {
	if m := pricePattern.FindString(text); m != "" {
		return m
	}
	return DefaultPrice
}

// ParseRate returns the first number found in text, or 0.
func ParseRate(text string) float64 {
	m := ratePattern.FindString(text)
	if m == "" {
		return 0
	}

	rate, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return rate
}

// Record applies every normalization rule to one raw item.
func Record(item models.RawItem) *models.ProductRecord {
	cover := CompleteURL(strings.TrimSpace(item.Cover))

	return &models.ProductRecord{
		Cover:       Truncate(cover, CoverMaxLen),
		Description: strings.TrimSpace(item.Description),
		Detail:      Truncate(strings.TrimSpace(item.Detail), DetailMaxLen),
		Price:       ExtractPrice(item.PriceText),
		Rate:        ParseRate(item.RateText),
		Title:       Truncate(strings.TrimSpace(item.Title), TitleMaxLen),
	}
}
