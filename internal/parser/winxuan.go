package parser

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/book-rank-scraper/internal/models"
)

const (
	winxuanBaseURL = "https://www.winxuan.com"

	winxuanItemSelector   = "div.rank-item.border"
	winxuanCoverSelector  = "div.product-img a img"
	winxuanTitleSelector  = "div.product-desc p.book-title a"
	winxuanAuthorSelector = "div.product-desc p.author"
	winxuanPriceSelector  = "div.product-desc div.price span.saleprice"

	winxuanDetailSeparator = " / "
)

// Winxuan scrapes the first page of a few rank-list categories.
type Winxuan struct {
	BaseURL string
	Paths   []string
}

func NewWinxuan() *Winxuan {
	return &Winxuan{
		BaseURL: winxuanBaseURL,
		Paths: []string{
			"/front/ranklist/category/1?type=default",
			"/front/ranklist/category/1?type=true",
			"/front/ranklist/category/20000",
		},
	}
}

func (w *Winxuan) Name() string { return "winxuan" }

func (w *Winxuan) Encoding() string { return "" }

func (w *Winxuan) Pages() []string {
	pages := make([]string, 0, len(w.Paths))
	for _, p := range w.Paths {
		pages = append(pages, w.BaseURL+p)
	}
	return pages
}

func (w *Winxuan) Extract(doc *goquery.Document) []models.RawItem {
	var items []models.RawItem

	doc.Find(winxuanItemSelector).Each(func(_ int, block *goquery.Selection) {
		item := models.RawItem{
			Cover:     firstAttr(block, []string{winxuanCoverSelector}, []string{"src"}),
			Title:     firstText(block, winxuanTitleSelector),
			Detail:    joinedText(block.Find(winxuanAuthorSelector).First(), winxuanDetailSeparator),
			PriceText: firstText(block, winxuanPriceSelector),
		}

		recordMisses(&item, block,
			models.FieldCover, models.FieldTitle, models.FieldDetail, models.FieldPrice)
		items = append(items, item)
	})

	return items
}
