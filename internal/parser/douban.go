package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/book-rank-scraper/internal/models"
)

const (
	doubanBaseURL  = "https://book.douban.com"
	doubanPageSize = 25
	doubanTotal    = 250

	doubanItemSelector        = "div.indent table tr.item"
	doubanTitleSelector       = "div.pl2 > a"
	doubanDetailSelector      = "p.pl"
	doubanDescriptionSelector = "span.inq"
	doubanRatingSelector      = "span.rating_nums"
)

var (
	doubanDecimalPattern  = regexp.MustCompile(`\d+\.\d+`)
	doubanCurrencyMarkers = []string{"元", "¥", "￥", "$", "CNY", "USD", "NT", "HK", "円", "£", "€"}

	doubanCoverSelectors = []string{"a.nbg img", "img"}
	doubanCoverAttrs     = []string{"src", "data-original"}
)

// Douban scrapes the book top 250, 25 entries per page.
type Douban struct {
	BaseURL string
	Offsets []int
}

func NewDouban() *Douban {
	offsets := make([]int, 0, doubanTotal/doubanPageSize)
	for start := 0; start < doubanTotal; start += doubanPageSize {
		offsets = append(offsets, start)
	}

	return &Douban{
		BaseURL: doubanBaseURL,
		Offsets: offsets,
	}
}

func (d *Douban) Name() string { return "douban" }

func (d *Douban) Encoding() string { return "" }

func (d *Douban) Pages() []string {
	pages := make([]string, 0, len(d.Offsets))
	for _, start := range d.Offsets {
		pages = append(pages, fmt.Sprintf("%s/top250?start=%d", d.BaseURL, start))
	}
	return pages
}

func (d *Douban) Extract(doc *goquery.Document) []models.RawItem {
	var items []models.RawItem

	doc.Find(doubanItemSelector).Each(func(_ int, tr *goquery.Selection) {
		item := models.RawItem{
			Cover:       firstAttr(tr, doubanCoverSelectors, doubanCoverAttrs),
			Detail:      firstText(tr, doubanDetailSelector),
			Description: firstText(tr, doubanDescriptionSelector),
			RateText:    firstText(tr, doubanRatingSelector),
		}

		if a := tr.Find(doubanTitleSelector).First(); a.Length() > 0 {
			item.Title = attrOrText(a, "title")
		}

		item.PriceText = doubanPrice(item.Detail)

		recordMisses(&item, tr,
			models.FieldCover, models.FieldTitle, models.FieldDetail, models.FieldPrice, models.FieldRate)
		items = append(items, item)
	})

	return items
}

// doubanPrice picks the price out of "author / translator / publisher / date / price".
// Only the last segment is considered, and only when it looks like a price:
// some entries end at the date, which also contains digits.
func doubanPrice(detail string) string {
	if detail == "" {
		return ""
	}
	segments := strings.Split(detail, "/")
	last := strings.TrimSpace(segments[len(segments)-1])
	if !looksLikePrice(last) {
		return ""
	}
	return last
}

func looksLikePrice(s string) bool {
	if doubanDecimalPattern.MatchString(s) {
		return true
	}
	for _, marker := range doubanCurrencyMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
