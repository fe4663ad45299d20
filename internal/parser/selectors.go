package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/book-rank-scraper/internal/models"
	"golang.org/x/net/html"
)

// firstAttr walks selectors in priority order and, for the first node each one
// matches, tries attrs in order. The first non-empty value wins.
func firstAttr(s *goquery.Selection, selectors []string, attrs []string) string {
	for _, selector := range selectors {
		node := s.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		for _, attr := range attrs {
			if v, ok := node.Attr(attr); ok {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// firstText returns the trimmed text of the first selector that yields any.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(s.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// attrOrText prefers the attribute and falls back to the element text.
func attrOrText(s *goquery.Selection, attr string) string {
	if v, ok := s.Attr(attr); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return joinedText(s, "")
}

// joinedText collects every text node under the selection, trims each one,
// drops the empty ones and joins the rest with sep.
func joinedText(s *goquery.Selection, sep string) string {
	var parts []string
	for _, n := range s.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, sep)
}

func collectText(n *html.Node, parts *[]string) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func outerHTML(s *goquery.Selection) string {
	h, err := goquery.OuterHtml(s)
	if err != nil {
		return ""
	}
	return h
}

// recordMisses marks each listed field that came back empty. A missing cover
// also keeps the block HTML so the markup can be inspected.
func recordMisses(item *models.RawItem, block *goquery.Selection, fields ...string) {
	for _, field := range fields {
		var value string
		switch field {
		case models.FieldCover:
			value = item.Cover
		case models.FieldTitle:
			value = item.Title
		case models.FieldDescription:
			value = item.Description
		case models.FieldDetail:
			value = item.Detail
		case models.FieldPrice:
			value = item.PriceText
		case models.FieldRate:
			value = item.RateText
		}
		if value != "" {
			continue
		}
		item.MarkMissing(field)
		if field == models.FieldCover {
			item.Block = outerHTML(block)
		}
	}
}
