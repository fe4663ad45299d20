package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/book-rank-scraper/internal/models"
)

const (
	dangdangBaseURL     = "http://bang.dangdang.com"
	dangdangPathPattern = "/books/newhotsales/01.00.00.00.00.00-recent7-0-0-1-%d"

	dangdangItemSelector      = "ul.bang_list.clearfix.bang_list_mode > li"
	dangdangTitleSelector     = "div.name > a"
	dangdangPublisherSelector = "div.publisher_info"
	dangdangPriceSelector     = "span.price_n"
)

var (
	dangdangCoverSelectors = []string{"a.pic img", "div.pic img", "img"}
	// Lazy-loaded covers keep the real URL in data-original.
	dangdangCoverAttrs = []string{"data-original", "src"}
)

// Dangdang scrapes the 7-day new-hot-sales book ranking.
type Dangdang struct {
	BaseURL     string
	PageNumbers []int
}

func NewDangdang() *Dangdang {
	return &Dangdang{
		BaseURL:     dangdangBaseURL,
		PageNumbers: []int{1, 2, 3, 4, 5},
	}
}

func (d *Dangdang) Name() string { return "dangdang" }

// Encoding is fixed because the ranking pages are served as GBK.
func (d *Dangdang) Encoding() string { return "gbk" }

func (d *Dangdang) Pages() []string {
	pages := make([]string, 0, len(d.PageNumbers))
	for _, n := range d.PageNumbers {
		pages = append(pages, d.BaseURL+fmt.Sprintf(dangdangPathPattern, n))
	}
	return pages
}

func (d *Dangdang) Extract(doc *goquery.Document) []models.RawItem {
	var items []models.RawItem

	doc.Find(dangdangItemSelector).Each(func(_ int, li *goquery.Selection) {
		item := models.RawItem{
			Cover:     firstAttr(li, dangdangCoverSelectors, dangdangCoverAttrs),
			PriceText: strings.TrimSpace(li.Find(dangdangPriceSelector).First().Text()),
		}

		if a := li.Find(dangdangTitleSelector).First(); a.Length() > 0 {
			item.Title = attrOrText(a, "title")
		}

		var publishers []string
		li.Find(dangdangPublisherSelector).Each(func(_ int, p *goquery.Selection) {
			publishers = append(publishers, joinedText(p, ""))
		})
		item.Detail = strings.Join(publishers, " ")

		recordMisses(&item, li,
			models.FieldCover, models.FieldTitle, models.FieldDetail, models.FieldPrice)
		items = append(items, item)
	})

	return items
}
