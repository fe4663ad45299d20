package parser

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/book-rank-scraper/internal/models"
)

var ErrUnknownSite = errors.New("unknown site")

// Site knows which listing pages to fetch and how to pull item fields out of
// one parsed page. Fetching itself is shared.
type Site interface {
	Name() string
	Pages() []string
	// Encoding forces the page charset; empty means detect it.
	Encoding() string
	Extract(doc *goquery.Document) []models.RawItem
}

type Registry struct {
	sites map[string]Site
	order []string
}

func NewRegistry(sites ...Site) *Registry {
	r := &Registry{sites: make(map[string]Site, len(sites))}
	for _, s := range sites {
		if _, exists := r.sites[s.Name()]; !exists {
			r.order = append(r.order, s.Name())
		}
		r.sites[s.Name()] = s
	}
	return r
}

// DefaultRegistry holds every supported site with its production page list.
func DefaultRegistry() *Registry {
	return NewRegistry(NewDangdang(), NewWinxuan(), NewDouban())
}

func (r *Registry) Get(name string) (Site, error) {
	s, ok := r.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Select resolves names in the given order. No names selects every site.
func (r *Registry) Select(names []string) ([]Site, error) {
	if len(names) == 0 {
		names = r.order
	}

	sites := make([]Site, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, nil
}
